package protocol

// Chat events.
var (
	SendMessage   = define[OutgoingMessage]("send_message", Outbound)
	TypingStart   = define[ChatRef]("typing_start", Outbound)
	TypingStop    = define[ChatRef]("typing_stop", Outbound)
	JoinChats     = define[ChatList]("join_chats", Outbound)
	LeaveChat     = define[ChatRef]("leave_chat", Outbound)
	MarkDelivered = define[Receipt]("mark_delivered", Outbound)
	MarkRead      = define[Receipt]("mark_read", Outbound)

	NewMessage        = define[Message]("new_message", Inbound)
	MessageError      = define[SendFailure]("message_error", Inbound)
	UserTyping        = define[TypingNotice]("user_typing", Inbound)
	MessagesDelivered = define[Receipt]("messages_delivered", Inbound)
	MessagesRead      = define[Receipt]("messages_read", Inbound)
)

// Presence events.
var (
	Subscribe      = define[UserList]("SUBSCRIBE", Outbound)
	Unsubscribe    = define[UserList]("UNSUBSCRIBE", Outbound)
	GetStatus      = define[StatusQuery]("GET_STATUS", Outbound)
	GetBatchStatus = define[UserList]("GET_BATCH_STATUS", Outbound)
	UpdateStatus   = define[StatusUpdate]("UPDATE_STATUS", Outbound)
	Heartbeat      = define[HeartbeatPing]("HEARTBEAT", Outbound)
	UserActivity   = define[ActivityReport]("USER_ACTIVITY", Outbound)

	StatusChange        = define[StatusReport]("STATUS_CHANGE", Inbound)
	StatusResponse      = define[StatusReport]("STATUS_RESPONSE", Inbound)
	BatchStatusResponse = define[BatchStatusReport]("BATCH_STATUS_RESPONSE", Inbound)
	Subscribed          = define[UserList]("SUBSCRIBED", Inbound)
)
