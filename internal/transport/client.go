package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/roach88/tempo/internal/message"
	"github.com/roach88/tempo/internal/relay"
)

// Client talks to a relay server over HTTP. It implements engine.Relay,
// and Monitor feeds an engine's inbox from the server-push stream.
//
// Error contract: a FAILURE status from the relay is returned as a
// *relay.Fault (recoverable, the engine logs and continues); any
// transport-level error is returned as-is (fatal to the engine).
type Client struct {
	baseURL string
	hc      *http.Client
	logger  *slog.Logger
}

// NewClient creates a client for the relay at baseURL
// (e.g. "http://127.0.0.1:5001"). The underlying HTTP client has no
// overall timeout: monitor streams are long-lived by design, and the
// short operations are bounded by their contexts.
func NewClient(baseURL string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		hc:      &http.Client{},
		logger:  logger,
	}
}

// Send submits a message for delivery.
func (c *Client) Send(ctx context.Context, m message.Message) error {
	body, err := json.Marshal(SendRequest{
		Sender:    m.Sender,
		Recipient: m.Recipient,
		Body:      m.Body,
		Timestamp: m.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("encode send request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("relay unreachable: %w", err)
	}
	defer resp.Body.Close()

	var out SendResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("decode send response (http %d): %w", resp.StatusCode, err)
	}
	if out.Status != StatusSuccess {
		return &relay.Fault{
			Code:      relay.FaultCode(out.Code),
			Message:   out.Error,
			Recipient: m.Recipient,
		}
	}
	return nil
}

// DrainPending pops up to limit buffered messages for processID.
func (c *Client) DrainPending(ctx context.Context, processID string, limit int) ([]message.Message, error) {
	u := fmt.Sprintf("%s/v1/pending/%s", c.baseURL, url.PathEscape(processID))
	if limit > 0 {
		u += "?limit=" + strconv.Itoa(limit)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build pending request: %w", err)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("relay unreachable: %w", err)
	}
	defer resp.Body.Close()

	var out PendingResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode pending response (http %d): %w", resp.StatusCode, err)
	}
	if out.Status != StatusSuccess {
		return nil, &relay.Fault{
			Code:      relay.FaultCode(out.Code),
			Message:   out.Error,
			Recipient: processID,
		}
	}
	return out.Messages, nil
}

// Monitor opens the server-push stream for processID and invokes deliver
// for every received message, blocking until the stream ends or ctx is
// cancelled. Cancellation returns nil; any other stream end is an error
// (the server never closes a healthy monitor stream on its own).
func (c *Client) Monitor(ctx context.Context, processID string, deliver func(message.Message)) error {
	u := fmt.Sprintf("%s/v1/monitor/%s", c.baseURL, url.PathEscape(processID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("build monitor request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("relay unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("monitor stream rejected: http %d", resp.StatusCode)
	}

	c.logger.Info("monitor stream open", "process", processID)

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	event := ""
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			if event != "message" {
				continue
			}
			var m message.Message
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &m); err != nil {
				c.logger.Warn("dropping undecodable stream payload", "error", err)
				continue
			}
			deliver(m)
		}
	}

	if ctx.Err() != nil {
		return nil
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("monitor stream broken: %w", err)
	}
	return fmt.Errorf("monitor stream closed by relay")
}
