package voicelive

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"github.com/ambralabs/voicebridge/internal/reliability"
)

// Config identifies one upstream Voice Live connection. Token, when
// set, is an Entra bearer token and takes precedence over APIKey.
type Config struct {
	Endpoint   string // https endpoint of the AI services resource
	APIKey     string
	Token      string
	Model      string // model name or agent?aid=...&apn=... selector
	APIVersion string
}

// ConnectionModel builds the model selector for the websocket URL. Agent
// modes address a hosted agent instead of a raw model deployment.
func ConnectionModel(mode, model, agentID, agentName, projectName string) string {
	switch mode {
	case "agent":
		return fmt.Sprintf("agent?aid=%s&apn=%s", url.QueryEscape(agentID), url.QueryEscape(projectName))
	case "agent-v2":
		return fmt.Sprintf("agent?aname=%s&apn=%s", url.QueryEscape(agentName), url.QueryEscape(projectName))
	default:
		return model
	}
}

type recvResult struct {
	event ServerEvent
	err   error
}

// Conn is a live duplex connection to the Voice Live service. The read
// loop goroutine owns the socket's read side; command writers share the
// write side behind a mutex. Recv consumes decoded events in arrival
// order.
type Conn struct {
	ws        *websocket.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
	recvCh    chan recvResult
	done      chan struct{} // closed by Close; unblocks a full recvCh send
	fatalErr  error         // set by readLoop before recvCh closes
}

const dialTimeout = 30 * time.Second

// Dial connects and starts the read loop. Transient dial failures are
// retried with capped exponential backoff.
func Dial(ctx context.Context, cfg Config) (*Conn, error) {
	u, err := websocketURL(cfg)
	if err != nil {
		return nil, err
	}

	headers := http.Header{}
	if cfg.Token != "" {
		headers.Set("Authorization", "Bearer "+cfg.Token)
	} else {
		headers.Set("api-key", cfg.APIKey)
	}

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	var ws *websocket.Conn
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 4), dialCtx)
	err = backoff.Retry(func() error {
		conn, resp, dialErr := websocket.DefaultDialer.DialContext(dialCtx, u, headers)
		if dialErr != nil {
			if resp != nil && !reliability.IsRetryableHTTPStatus(resp.StatusCode) {
				return backoff.Permanent(fmt.Errorf("dial voice live (%d): %w", resp.StatusCode, dialErr))
			}
			return fmt.Errorf("dial voice live: %w", dialErr)
		}
		ws = conn
		return nil
	}, policy)
	if err != nil {
		return nil, err
	}

	c := &Conn{ws: ws, recvCh: make(chan recvResult, 256), done: make(chan struct{})}
	go c.readLoop()
	return c, nil
}

func websocketURL(cfg Config) (string, error) {
	endpoint := strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/")
	if endpoint == "" {
		return "", fmt.Errorf("voice live endpoint is required")
	}
	switch {
	case strings.HasPrefix(endpoint, "https://"):
		endpoint = "wss://" + strings.TrimPrefix(endpoint, "https://")
	case strings.HasPrefix(endpoint, "http://"):
		endpoint = "ws://" + strings.TrimPrefix(endpoint, "http://")
	}
	u, err := url.Parse(endpoint + "/voice-live/realtime")
	if err != nil {
		return "", fmt.Errorf("invalid voice live endpoint: %w", err)
	}
	q := u.Query()
	q.Set("api-version", cfg.APIVersion)
	// The model selector in agent mode is itself querystring-shaped;
	// splice it instead of double-escaping.
	if strings.HasPrefix(cfg.Model, "agent?") {
		q.Set("model", "agent")
		agentQuery, err := url.ParseQuery(strings.TrimPrefix(cfg.Model, "agent?"))
		if err != nil {
			return "", fmt.Errorf("invalid agent selector: %w", err)
		}
		for k, vs := range agentQuery {
			for _, v := range vs {
				q.Set(k, v)
			}
		}
	} else {
		q.Set("model", cfg.Model)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Conn) readLoop() {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			// A closed channel keeps reporting the fatal error, so any
			// number of pending or future Recv calls observe it.
			c.fatalErr = reliability.Fatal(fmt.Errorf("upstream connection lost: %w", err))
			close(c.recvCh)
			return
		}
		event, err := decodeServerEvent(data)
		select {
		case c.recvCh <- recvResult{event: event, err: err}:
		case <-c.done:
			// Nobody is draining the channel anymore; stop instead of
			// blocking forever on a full buffer.
			c.fatalErr = reliability.Fatal(errors.New("connection closed"))
			close(c.recvCh)
			return
		}
	}
}

// Recv returns the next upstream event in arrival order. The error, when
// non-nil, carries an explicit recoverable/fatal classification
// (reliability.ClassifyRecv); once the connection is lost every
// subsequent Recv reports the same fatal error.
func (c *Conn) Recv(ctx context.Context) (ServerEvent, error) {
	select {
	case <-ctx.Done():
		return ServerEvent{}, ctx.Err()
	case r, ok := <-c.recvCh:
		if !ok {
			return ServerEvent{}, c.fatalErr
		}
		return r.event, r.err
	}
}

// Close releases the socket. Safe to call more than once and
// concurrently with Recv; a pending Recv observes a fatal error.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.ws.Close()
	})
	return err
}

func (c *Conn) send(ev clientEvent) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.ws.WriteJSON(ev)
}

// UpdateSession sends session.update. The same serialization covers the
// setup handshake and later scene updates.
func (c *Conn) UpdateSession(session *RequestSession) error {
	return c.send(clientEvent{Type: "session.update", Session: session})
}

// AppendInputAudio forwards one base64 audio chunk.
func (c *Conn) AppendInputAudio(audioBase64 string) error {
	return c.send(clientEvent{Type: "input_audio_buffer.append", Audio: audioBase64})
}

// CreateUserMessage adds a user text item to the conversation.
func (c *Conn) CreateUserMessage(text string) error {
	return c.send(clientEvent{
		Type: "conversation.item.create",
		Item: &clientItem{
			Type:    "message",
			Role:    "user",
			Content: []clientContentPart{{Type: "input_text", Text: text}},
		},
	})
}

// CreateFunctionOutput submits a tool result anchored after the
// originating function-call item.
func (c *Conn) CreateFunctionOutput(previousItemID, callID, output string) error {
	return c.send(clientEvent{
		Type:           "conversation.item.create",
		PreviousItemID: previousItemID,
		Item:           &clientItem{Type: "function_call_output", CallID: callID, Output: output},
	})
}

// CreateResponse requests a new generation turn.
func (c *Conn) CreateResponse() error {
	return c.send(clientEvent{Type: "response.create"})
}

// CancelResponse cancels the in-flight generation turn.
func (c *Conn) CancelResponse() error {
	return c.send(clientEvent{Type: "response.cancel"})
}

// AvatarConnect forwards the browser's SDP offer for the avatar peer
// connection.
func (c *Conn) AvatarConnect(clientSDP string) error {
	return c.send(clientEvent{Type: "session.avatar.connect", ClientSDP: clientSDP})
}
