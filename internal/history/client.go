// Package history talks to the REST endpoints that serve message history and
// accept media uploads.
package history

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/matheus3301/gigline/internal/chat"
	"github.com/matheus3301/gigline/internal/protocol"
	"github.com/matheus3301/gigline/internal/timeline"
	"go.uber.org/zap"
)

// TokenSource supplies the bearer token for each request.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Method string
	URL    string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: %d %s", e.Method, e.URL, e.Code, http.StatusText(e.Code))
	}
	return fmt.Sprintf("%s %s: %d %s: %s", e.Method, e.URL, e.Code, http.StatusText(e.Code), e.Body)
}

var ErrEmptyBaseURL = errors.New("history base url is empty")

// Client implements chat.HistorySource and chat.Uploader over HTTP.
type Client struct {
	base   *url.URL
	tokens TokenSource
	http   *http.Client
	logger *zap.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a client rooted at baseURL, e.g. "https://chat.example.com/api".
func New(baseURL string, tokens TokenSource, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, ErrEmptyBaseURL
	}
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse history url: %w", err)
	}
	c := &Client{
		base:   u,
		tokens: tokens,
		http:   &http.Client{Timeout: 30 * time.Second},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type pageBody struct {
	Messages []protocol.Message `json:"messages"`
	HasMore  *bool              `json:"hasMore"`
}

// FetchMessages returns one page of a chat's history. The server may answer with
// a flat {messages, hasMore} object or with day sections; sections are flattened.
func (c *Client) FetchMessages(ctx context.Context, chatID string, page, limit int) (chat.Page, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(limit))
	u := c.endpoint("chats", chatID, "messages")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return chat.Page{}, err
	}
	var raw json.RawMessage
	if err := c.do(req, &raw); err != nil {
		return chat.Page{}, err
	}

	p, err := decodePage(raw)
	if err != nil {
		return chat.Page{}, fmt.Errorf("decode history page: %w", err)
	}
	c.logger.Debug("history page fetched",
		zap.String("chat_id", chatID), zap.Int("page", page), zap.Int("messages", len(p.Messages)))
	return p, nil
}

func decodePage(raw json.RawMessage) (chat.Page, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var sections []timeline.Section
		if err := json.Unmarshal(trimmed, &sections); err != nil {
			return chat.Page{}, err
		}
		return chat.Page{Messages: timeline.Flatten(sections)}, nil
	}
	var body pageBody
	if err := json.Unmarshal(trimmed, &body); err != nil {
		return chat.Page{}, err
	}
	return chat.Page{Messages: body.Messages, HasMore: body.HasMore}, nil
}

// Upload streams file as multipart form data and returns the stored content.
func (c *Client) Upload(ctx context.Context, chatID string, file chat.Media, progress chat.ProgressFunc) (protocol.Content, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		err := writeForm(mw, file, progress)
		if cerr := mw.Close(); err == nil {
			err = cerr
		}
		_ = pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("chats", chatID, "media").String(), pr)
	if err != nil {
		_ = pr.Close()
		return protocol.Content{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var content protocol.Content
	if err := c.do(req, &content); err != nil {
		_ = pr.CloseWithError(err)
		return protocol.Content{}, err
	}
	if content.FileName == "" {
		content.FileName = file.Name
	}
	if content.MimeType == "" {
		content.MimeType = file.MimeType
	}
	if content.Size == 0 {
		content.Size = file.Size
	}
	return content, nil
}

func writeForm(mw *multipart.Writer, file chat.Media, progress chat.ProgressFunc) error {
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, file.Name))
	if file.MimeType != "" {
		h.Set("Content-Type", file.MimeType)
	} else {
		h.Set("Content-Type", "application/octet-stream")
	}
	part, err := mw.CreatePart(h)
	if err != nil {
		return err
	}
	w := &progressWriter{w: part, total: file.Size, fn: progress}
	_, err = io.Copy(w, file.Body)
	return err
}

type progressWriter struct {
	w     io.Writer
	sent  int64
	total int64
	fn    chat.ProgressFunc
}

func (p *progressWriter) Write(b []byte) (int, error) {
	n, err := p.w.Write(b)
	p.sent += int64(n)
	if p.fn != nil && n > 0 {
		p.fn(p.sent, p.total)
	}
	return n, err
}

func (c *Client) endpoint(parts ...string) *url.URL {
	escaped := make([]string, len(parts))
	for i, p := range parts {
		escaped[i] = url.PathEscape(p)
	}
	return c.base.JoinPath(escaped...)
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")
	if c.tokens != nil {
		token, err := c.tokens.Token(req.Context())
		if err != nil {
			return fmt.Errorf("resolve token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{
			Method: req.Method,
			URL:    req.URL.Redacted(),
			Code:   resp.StatusCode,
			Body:   strings.TrimSpace(string(body)),
		}
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
