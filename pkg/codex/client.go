// Package codex is a Go client for the turn endpoint. It sends one
// message, decodes the event stream through callbacks, and reconnects
// with exponential backoff when the transport fails before the turn
// reaches a terminal event.
package codex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/user/sagecodex/pkg/llm"
	"github.com/user/sagecodex/pkg/sse"
)

// Config holds client settings. Zero values select the defaults noted on
// each field.
type Config struct {
	BaseURL string
	Token   string

	// Timeout bounds a single connection attempt. Default 30s.
	Timeout time.Duration

	// MaxReconnects is how many times a failed attempt is retried.
	// Default 3.
	MaxReconnects int

	// InitialBackoff is the delay before the first reconnect, doubled by
	// Multiplier up to MaxBackoff. Defaults: 500ms, 2.0, 10s.
	InitialBackoff time.Duration
	Multiplier     float64
	MaxBackoff     time.Duration
}

// Callbacks receive decoded events as they arrive. Nil callbacks are
// skipped. Unrecognised event types never reach a callback; they are
// counted and available through UnknownEvents.
type Callbacks struct {
	OnChatStart func(sse.ChatStart)
	OnChatDelta func(sse.ChatDelta)
	OnChatEnd   func(sse.ChatEnd)
	OnToolStart func(sse.ToolStart)
	OnToolEnd   func(sse.ToolEnd)
	OnPanel     func(eventType string, data any)
	OnUIReady   func()
	OnError     func(sse.Error)
}

// Client talks to one server. Safe for sequential reuse; a Client runs
// one turn at a time.
type Client struct {
	cfg  Config
	http *http.Client
	log  zerolog.Logger

	mu      sync.Mutex
	lastReq *turnRequest
	cancel  context.CancelFunc
	aborted bool

	unknown atomic.Int64
}

type turnRequest struct {
	sessionID string
	body      []byte
	callbacks Callbacks
}

// New creates a Client. Defaults are applied for any zero Config field.
func New(cfg Config, log zerolog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxReconnects <= 0 {
		cfg.MaxReconnects = 3
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 500 * time.Millisecond
	}
	if cfg.Multiplier <= 1 {
		cfg.Multiplier = 2.0
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 10 * time.Second
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{},
		log:  log,
	}
}

// UnknownEvents reports how many unrecognised event types have been
// received since the client was created.
func (c *Client) UnknownEvents() int64 {
	return c.unknown.Load()
}

// Abort cancels the in-flight turn, if any. The interrupted SendMessage
// returns nil; an abort is a user action, not a failure.
func (c *Client) Abort() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.aborted = true
		c.cancel()
	}
}

// SendMessage runs one turn: POST the message, stream events through cb
// until ui:ready or a terminal error event. Transport failures and
// streams that end before a terminal event are retried up to
// MaxReconnects times with the same message.
func (c *Client) SendMessage(ctx context.Context, sessionID, message string, cb Callbacks) error {
	body, err := json.Marshal(map[string]string{"message": message})
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	req := &turnRequest{sessionID: sessionID, body: body, callbacks: cb}

	c.mu.Lock()
	c.lastReq = req
	c.mu.Unlock()

	return c.run(ctx, req)
}

// Retry re-issues the most recent message with a fresh reconnect budget.
func (c *Client) Retry(ctx context.Context) error {
	c.mu.Lock()
	req := c.lastReq
	c.mu.Unlock()
	if req == nil {
		return fmt.Errorf("nothing to retry")
	}
	return c.run(ctx, req)
}

func (c *Client) run(ctx context.Context, req *turnRequest) error {
	// One cancelable context spans the whole turn, backoff waits included,
	// so Abort works between attempts as well as mid-stream.
	turnCtx, cancelTurn := context.WithCancel(ctx)
	defer cancelTurn()

	c.mu.Lock()
	c.aborted = false
	c.cancel = cancelTurn
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.cancel = nil
		c.mu.Unlock()
	}()

	backoff := c.cfg.InitialBackoff
	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxReconnects; attempt++ {
		if attempt > 0 {
			c.log.Debug().
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Msg("reconnecting")
			select {
			case <-turnCtx.Done():
				if c.wasAborted() {
					return nil
				}
				return turnCtx.Err()
			case <-time.After(backoff):
			}
			backoff = time.Duration(float64(backoff) * c.cfg.Multiplier)
			if backoff > c.cfg.MaxBackoff {
				backoff = c.cfg.MaxBackoff
			}
		}

		done, err := c.attempt(turnCtx, req)
		if done {
			return err
		}
		if c.wasAborted() {
			return nil
		}
		lastErr = err
		c.log.Debug().Err(err).Int("attempt", attempt).Msg("attempt failed")
	}
	return fmt.Errorf("turn failed after %d reconnects: %w", c.cfg.MaxReconnects, lastErr)
}

func (c *Client) wasAborted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.aborted
}

// attempt makes one connection. done reports whether the turn reached a
// terminal outcome (success, server-reported error, or a non-retryable
// failure); when done is false the caller may reconnect.
func (c *Client) attempt(ctx context.Context, req *turnRequest) (done bool, err error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	url := fmt.Sprintf("%s/api/sessions/%s/messages", strings.TrimRight(c.cfg.BaseURL, "/"), req.sessionID)
	httpReq, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, url, bytes.NewReader(req.body))
	if err != nil {
		return true, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if c.cfg.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if c.wasAborted() {
			return true, nil
		}
		return false, llm.Classify(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		apiErr := llm.FromStatus(resp.StatusCode, string(body))
		// Validation failures and auth problems will not improve on
		// reconnect.
		return !apiErr.Retryable, apiErr
	}

	return c.consume(req, resp.Body)
}

// consume reads the body until a terminal event or the stream ends.
func (c *Client) consume(req *turnRequest, body io.Reader) (done bool, err error) {
	dec := sse.NewDecoder()
	buf := make([]byte, 4096)
	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			for _, ev := range dec.Feed(string(buf[:n])) {
				terminal, evErr := c.dispatch(req.callbacks, ev)
				if terminal {
					return true, evErr
				}
			}
		}
		if readErr != nil {
			if c.wasAborted() {
				return true, nil
			}
			if readErr == io.EOF {
				// The server closed the stream without ui:ready or an
				// error event; treat it as a dropped connection.
				return false, llm.NewError(llm.CodeStream, "stream ended before turn completed")
			}
			return false, llm.Classify(readErr)
		}
	}
}

// dispatch routes one decoded event to its callback. terminal is true
// for ui:ready and error events.
func (c *Client) dispatch(cb Callbacks, ev sse.DecodedEvent) (terminal bool, err error) {
	switch ev.Type {
	case sse.TypeChatStart:
		if cb.OnChatStart != nil {
			var p sse.ChatStart
			decodeInto(ev.Data, &p)
			cb.OnChatStart(p)
		}
	case sse.TypeChatDelta:
		if cb.OnChatDelta != nil {
			var p sse.ChatDelta
			decodeInto(ev.Data, &p)
			cb.OnChatDelta(p)
		}
	case sse.TypeChatEnd:
		if cb.OnChatEnd != nil {
			var p sse.ChatEnd
			decodeInto(ev.Data, &p)
			cb.OnChatEnd(p)
		}
	case sse.TypeToolStart:
		if cb.OnToolStart != nil {
			var p sse.ToolStart
			decodeInto(ev.Data, &p)
			cb.OnToolStart(p)
		}
	case sse.TypeToolEnd:
		if cb.OnToolEnd != nil {
			var p sse.ToolEnd
			decodeInto(ev.Data, &p)
			cb.OnToolEnd(p)
		}
	case sse.TypeUIReady:
		if cb.OnUIReady != nil {
			cb.OnUIReady()
		}
		return true, nil
	case sse.TypeError:
		var p sse.Error
		decodeInto(ev.Data, &p)
		if cb.OnError != nil {
			cb.OnError(p)
		}
		return true, llm.NewError(llm.Code(p.Code), p.Message)
	default:
		if strings.HasPrefix(ev.Type, "panel:") {
			if cb.OnPanel != nil {
				cb.OnPanel(ev.Type, ev.Data)
			}
			return false, nil
		}
		c.unknown.Add(1)
		c.log.Debug().Str("type", ev.Type).Msg("ignoring unknown event type")
	}
	return false, nil
}

// decodeInto round-trips a decoded payload through JSON into a typed
// struct. Malformed payloads leave the zero value; the stream keeps
// going.
func decodeInto(data any, dst any) {
	raw, err := json.Marshal(data)
	if err != nil {
		return
	}
	_ = json.Unmarshal(raw, dst)
}
