package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/matheus3301/gigline/internal/api"
	"github.com/matheus3301/gigline/internal/auth"
	"github.com/matheus3301/gigline/internal/lock"
	"github.com/matheus3301/gigline/internal/profile"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Parse()

	name := profile.Resolve(*profileFlag)
	if err := profile.ValidateName(name); err != nil {
		fatalf("%v", err)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	// token set works without a running agent.
	if args[0] == "token" {
		cmdToken(name, args[1:])
		return
	}

	if _, err := os.Stat(profile.SocketPath(name)); err != nil {
		if h, err := lock.ReadHolder(profile.Dir(name)); err == nil && h.PID != 0 {
			if h.Running() {
				fatalf("agent for profile %q (PID %d) is not serving yet", name, h.PID)
			}
			fatalf("agent for profile %q (PID %d) exited without cleaning up; start it again", name, h.PID)
		}
		fatalf("agent for profile %q is not running (start it with: giglined --profile %s)", name, name)
	}

	c, err := api.Dial(profile.SocketPath(name))
	if err != nil {
		fatalf("cannot connect to agent for profile %q: %v", name, err)
	}
	defer func() { _ = c.Close() }()

	if args[0] == "watch" {
		cmdWatch(c, args[1:], *jsonFlag)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	switch args[0] {
	case "status":
		cmdStatus(ctx, c, *jsonFlag)
	case "health":
		cmdHealth(ctx, c, *jsonFlag)
	case "connect":
		cmdConnect(ctx, c, *jsonFlag)
	case "send":
		if len(args) < 3 {
			fatalf("usage: gigline send <chat-id> <text>")
		}
		cmdSend(ctx, c, args[1], strings.Join(args[2:], " "), *jsonFlag)
	case "chats":
		cmdChats(ctx, c, *jsonFlag)
	case "history":
		if len(args) < 2 {
			fatalf("usage: gigline history <chat-id> [page]")
		}
		page := 1
		if len(args) >= 3 {
			page, err = strconv.Atoi(args[2])
			if err != nil || page < 1 {
				fatalf("invalid page %q", args[2])
			}
		}
		cmdHistory(ctx, c, args[1], page, *jsonFlag)
	case "presence":
		if len(args) < 2 {
			fatalf("usage: gigline presence <user-id>...")
		}
		cmdPresence(ctx, c, args[1:], *jsonFlag)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: gigline [--profile <name>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status                    Show agent and connection status")
	fmt.Fprintln(os.Stderr, "  health                    Query the agent health service")
	fmt.Fprintln(os.Stderr, "  connect                   Reconnect after the agent gave up")
	fmt.Fprintln(os.Stderr, "  send <chat> <text>        Send a text message")
	fmt.Fprintln(os.Stderr, "  chats                     List cached chats")
	fmt.Fprintln(os.Stderr, "  history <chat> [page]     Show cached messages grouped by day")
	fmt.Fprintln(os.Stderr, "  presence <user>...        Show users' presence")
	fmt.Fprintln(os.Stderr, "  watch [prefix]...         Stream agent events")
	fmt.Fprintln(os.Stderr, "  token set <token>         Store the access token for this profile")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}

func cmdToken(name string, args []string) {
	if len(args) != 2 || args[0] != "set" {
		fatalf("usage: gigline token set <token>")
	}
	if err := profile.EnsureDir(name); err != nil {
		fatalf("%v", err)
	}
	src := auth.NewFileSource(profile.TokenPath(name))
	if err := src.Save(args[1]); err != nil {
		fatalf("%v", err)
	}
	if c, ok := auth.Inspect(args[1]); ok {
		fmt.Printf("Token saved for %s", c.Subject)
		if !c.ExpiresAt.IsZero() {
			fmt.Printf(" (expires %s)", c.ExpiresAt.Local().Format(time.RFC1123))
		}
		fmt.Println()
		return
	}
	fmt.Println("Token saved.")
}

func cmdStatus(ctx context.Context, c *api.Client, jsonOut bool) {
	resp, err := c.GetStatus(ctx)
	if err != nil {
		fatalf("%v", err)
	}
	if jsonOut {
		outputJSON(resp)
		return
	}
	state := resp.State
	if resp.GaveUp {
		state += " (gave up, run `gigline connect`)"
	}
	fmt.Printf("Profile:  %s\n", resp.Profile)
	fmt.Printf("State:    %s since %s\n", state, resp.StateSince.Local().Format(time.Kitchen))
	fmt.Printf("Uptime:   %s\n", (time.Duration(resp.UptimeMs) * time.Millisecond).Round(time.Second))
	if resp.ActiveChat != "" {
		fmt.Printf("Chat:     %s\n", resp.ActiveChat)
	}
	if len(resp.Watched) > 0 {
		fmt.Printf("Watching: %s\n", strings.Join(resp.Watched, ", "))
	}
	fmt.Printf("Cache:    %d chats, %d messages\n", resp.ChatCount, resp.MessageCount)
}

func cmdHealth(ctx context.Context, c *api.Client, jsonOut bool) {
	s, err := c.Health(ctx)
	if err != nil {
		fatalf("%v", err)
	}
	if jsonOut {
		outputJSON(map[string]string{"status": s.String()})
		return
	}
	fmt.Println(s.String())
}

func cmdConnect(ctx context.Context, c *api.Client, jsonOut bool) {
	resp, err := c.Connect(ctx)
	if err != nil {
		fatalf("%v", err)
	}
	if jsonOut {
		outputJSON(resp)
		return
	}
	fmt.Printf("State: %s\n", resp.State)
}

func cmdSend(ctx context.Context, c *api.Client, chatID, text string, jsonOut bool) {
	resp, err := c.SendText(ctx, &api.SendTextRequest{ChatID: chatID, Text: text})
	if err != nil {
		fatalf("%v", err)
	}
	if jsonOut {
		outputJSON(resp)
		return
	}
	fmt.Printf("Sent to %s (pending as %s)\n", chatID, resp.Message.TempID)
}

func cmdChats(ctx context.Context, c *api.Client, jsonOut bool) {
	resp, err := c.ListChats(ctx, &api.ListChatsRequest{})
	if err != nil {
		fatalf("%v", err)
	}
	if jsonOut {
		outputJSON(resp)
		return
	}
	if len(resp.Chats) == 0 {
		fmt.Println("No cached chats.")
		return
	}
	for _, ch := range resp.Chats {
		fmt.Printf("%-24s %-16s %4d  %s\n", ch.ChatID, ch.LastMessageAt.Local().Format("Jan 2 15:04"), ch.MessageCount, ch.LastMessagePreview)
	}
}

func cmdHistory(ctx context.Context, c *api.Client, chatID string, page int, jsonOut bool) {
	resp, err := c.ListMessages(ctx, &api.ListMessagesRequest{ChatID: chatID, Page: page})
	if err != nil {
		fatalf("%v", err)
	}
	if jsonOut {
		outputJSON(resp)
		return
	}
	if len(resp.Sections) == 0 {
		fmt.Println("No cached messages.")
		return
	}
	// Sections and messages come newest first; print oldest first like a chat.
	for i := len(resp.Sections) - 1; i >= 0; i-- {
		s := resp.Sections[i]
		fmt.Printf("── %s ──\n", s.Title)
		for j := len(s.Messages) - 1; j >= 0; j-- {
			m := s.Messages[j]
			fmt.Printf("%s  %-12s %s\n", m.CreatedAt.Local().Format("15:04"), m.SenderID, m.Preview())
		}
	}
	if resp.HasMore {
		fmt.Printf("(older messages: gigline history %s %d)\n", chatID, page+1)
	}
}

func cmdPresence(ctx context.Context, c *api.Client, userIDs []string, jsonOut bool) {
	resp, err := c.GetPresence(ctx, &api.PresenceRequest{UserIDs: userIDs})
	if err != nil {
		fatalf("%v", err)
	}
	if jsonOut {
		outputJSON(resp)
		return
	}
	if resp.Cached {
		fmt.Println("(offline, showing cached presence)")
	}
	for _, r := range resp.Records {
		line := fmt.Sprintf("%-24s %s", r.UserID, r.Status)
		if r.Status != "online" && !r.LastSeen.IsZero() {
			line += "  last seen " + r.LastSeen.Local().Format("Jan 2 15:04")
		}
		fmt.Println(line)
	}
}

func cmdWatch(c *api.Client, prefixes []string, jsonOut bool) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	err := c.WatchEvents(ctx, &api.WatchRequest{Prefixes: prefixes}, func(e *api.Event) error {
		if jsonOut {
			outputJSON(e)
			return nil
		}
		line := e.Time.Local().Format("15:04:05") + "  " + e.Kind
		if len(e.Payload) > 0 {
			line += "  " + string(e.Payload)
		}
		if e.Error != "" {
			line += "  error: " + e.Error
		}
		fmt.Println(line)
		return nil
	})
	if err != nil && ctx.Err() == nil {
		fatalf("%v", err)
	}
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}
