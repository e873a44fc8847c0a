package line

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
)

// DefaultBaseURL is the production endpoint of the messaging API.
const DefaultBaseURL = "https://api.line.me"

// ErrUnconfigured is returned when no channel credentials have been
// stored yet. Every outbound call requires a credential.
var ErrUnconfigured = errors.New("channel credentials not configured")

// Credentials is the channel credential pair: the bearer token for the
// messaging API and the secret that signs webhook deliveries.
type Credentials struct {
	AccessToken string
	Secret      string
}

// A CredentialSource yields the current channel credentials. It is read
// before every call so a rotated credential takes effect immediately;
// implementations must not serve a cached value. An absent credential is
// reported as ErrUnconfigured.
type CredentialSource interface {
	Credentials(ctx context.Context) (Credentials, error)
}

// A DeliveryError is a failed outbound call: a non-2xx response, or a
// transport failure (StatusCode 0). Delivery is best-effort; the client
// never retries.
type DeliveryError struct {
	StatusCode int
	Body       string
}

func (e *DeliveryError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("delivery failed: %s", e.Body)
	}
	return fmt.Sprintf("delivery failed: status %d: %s", e.StatusCode, e.Body)
}

// Client calls the platform's push, reply and broadcast endpoints.
type Client struct {
	Logger      *slog.Logger
	Credentials CredentialSource

	// HTTPClient defaults to http.DefaultClient; BaseURL to DefaultBaseURL.
	HTTPClient *http.Client
	BaseURL    string
}

type pushRequest struct {
	To       string    `json:"to"`
	Messages []Message `json:"messages"`
}

type replyRequest struct {
	ReplyToken string    `json:"replyToken"`
	Messages   []Message `json:"messages"`
}

type broadcastRequest struct {
	Messages []Message `json:"messages"`
}

// Push sends messages to a single recipient. The id's namespace decides
// whether it lands in a group or a one-on-one chat.
func (c *Client) Push(ctx context.Context, to string, msgs []Message) error {
	return c.post(ctx, "/v2/bot/message/push", pushRequest{To: to, Messages: msgs}, true)
}

// Reply sends messages bound to a one-shot reply token from an inbound
// message event. Tokens expire platform-side; a stale token surfaces as
// a DeliveryError.
func (c *Client) Reply(ctx context.Context, replyToken string, msgs []Message) error {
	return c.post(ctx, "/v2/bot/message/reply", replyRequest{ReplyToken: replyToken, Messages: msgs}, false)
}

// Broadcast sends messages to every subscriber of the channel. The
// fan-out happens platform-side, not from the local directory.
func (c *Client) Broadcast(ctx context.Context, msgs []Message) error {
	return c.post(ctx, "/v2/bot/message/broadcast", broadcastRequest{Messages: msgs}, true)
}

func (c *Client) post(ctx context.Context, path string, body any, retryKey bool) error {
	creds, err := c.Credentials.Credentials(ctx)
	if err != nil {
		return err
	}

	buf := &bytes.Buffer{}
	enc := newEncoder(buf)
	if err := enc.Encode(body); err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	base := c.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+path, buf)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+creds.AccessToken)
	if retryKey {
		req.Header.Set("X-Line-Retry-Key", uuid.NewString())
	}

	cli := c.HTTPClient
	if cli == nil {
		cli = http.DefaultClient
	}
	resp, err := cli.Do(req)
	if err != nil {
		return &DeliveryError{Body: err.Error()}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.Logger.Error("Outbound call failed", "path", path, "status", resp.StatusCode, "body", string(respBody))
		return &DeliveryError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}
	c.Logger.Info("Outbound call sent", "path", path, "status", resp.StatusCode)
	return nil
}
