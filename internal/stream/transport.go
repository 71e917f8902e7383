package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// SSETransport connects to an SSE endpoint.
type SSETransport struct {
	URL     string
	Symbols []string
	Client  *http.Client
}

// Connect opens the event stream, presenting lastEventID in the
// Last-Event-ID header.
func (t *SSETransport) Connect(ctx context.Context, lastEventID uint64) (Conn, error) {
	u, err := withSymbols(t.URL, t.Symbols)
	if err != nil {
		return nil, err
	}

	// The request outlives Connect; cancel ties it to the returned Conn.
	reqCtx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, u, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	if lastEventID > 0 {
		req.Header.Set(LastEventIDHeader, strconv.FormatUint(lastEventID, 10))
	}

	client := t.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("sse connect: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("sse connect: unexpected status %d", resp.StatusCode)
	}

	return &sseConn{body: resp.Body, r: bufio.NewReader(resp.Body), cancel: cancel}, nil
}

type sseConn struct {
	body   io.ReadCloser
	r      *bufio.Reader
	cancel context.CancelFunc
}

// Recv parses the next event. Comment lines and unknown fields are skipped.
func (c *sseConn) Recv() (Message, error) {
	var (
		id   uint64
		data strings.Builder
	)
	for {
		line, err := c.r.ReadString('\n')
		if err != nil {
			return Message{}, fmt.Errorf("sse read: %w", err)
		}
		line = strings.TrimRight(line, "\r\n")

		if line == "" {
			if data.Len() == 0 {
				continue
			}
			var m Message
			if err := json.Unmarshal([]byte(data.String()), &m); err != nil {
				return Message{}, fmt.Errorf("sse decode: %w", err)
			}
			if id > 0 {
				m.ID = id
			}
			return m, nil
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "id":
			if v, err := strconv.ParseUint(value, 10, 64); err == nil {
				id = v
			}
		case "data":
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(value)
		}
	}
}

func (c *sseConn) Close() error {
	c.cancel()
	return c.body.Close()
}

// WSTransport connects to a WebSocket endpoint.
type WSTransport struct {
	URL     string
	Symbols []string
	Dialer  *websocket.Dialer
}

// Connect dials the endpoint, presenting lastEventID as the lastEventId query.
func (t *WSTransport) Connect(ctx context.Context, lastEventID uint64) (Conn, error) {
	u, err := withSymbols(t.URL, t.Symbols)
	if err != nil {
		return nil, err
	}
	if lastEventID > 0 {
		parsed, _ := url.Parse(u)
		q := parsed.Query()
		q.Set("lastEventId", strconv.FormatUint(lastEventID, 10))
		parsed.RawQuery = q.Encode()
		u = parsed.String()
	}

	dialer := t.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	}
	conn, _, err := dialer.DialContext(ctx, u, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	return &wsConn{conn: conn}, nil
}

type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) Recv() (Message, error) {
	var m Message
	if err := c.conn.ReadJSON(&m); err != nil {
		return Message{}, fmt.Errorf("websocket read: %w", err)
	}
	return m, nil
}

func (c *wsConn) Close() error {
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return c.conn.Close()
}

func withSymbols(raw string, symbols []string) (string, error) {
	if len(symbols) == 0 {
		return raw, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse stream url: %w", err)
	}
	q := u.Query()
	q.Set("symbols", strings.Join(symbols, ","))
	u.RawQuery = q.Encode()
	return u.String(), nil
}
