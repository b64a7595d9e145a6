package client

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Mesh/internal/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// ErrSendBufferFull mirrors the server's TrySend backpressure: the frame is
// dropped, never queued unboundedly.
var ErrSendBufferFull = errors.New("send buffer full")

// SignalClient manages the WebSocket connection to the relay.
type SignalClient struct {
	conn      *websocket.Conn
	serverURL string
	token     string
	incoming  chan protocol.Envelope
	outgoing  chan []byte
	done      chan struct{}
	once      sync.Once
}

// NewSignalClient prepares a client identified by token; the relay reads the
// token back as the session id.
func NewSignalClient(serverURL, token string) *SignalClient {
	return &SignalClient{
		serverURL: serverURL,
		token:     token,
		incoming:  make(chan protocol.Envelope, 32),
		outgoing:  make(chan []byte, 32),
		done:      make(chan struct{}),
	}
}

// Connect dials the relay and starts the read/write pumps.
func (c *SignalClient) Connect() error {
	u, err := url.Parse(c.serverURL)
	if err != nil {
		return fmt.Errorf("invalid server URL: %w", err)
	}

	header := http.Header{}
	header.Set("Cookie", "ct="+c.token)

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), header)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	c.conn = conn

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go c.readPump()
	go c.writePump()

	return nil
}

func (c *SignalClient) readPump() {
	defer func() {
		_ = c.conn.Close()
		close(c.incoming)
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		env, err := protocol.Decode(data)
		if err != nil {
			log.Warn().Err(err).Str("module", "client.signal").Msg("bad frame from relay")
			continue
		}
		c.incoming <- env
	}
}

func (c *SignalClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case data := <-c.outgoing:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

// Send serializes one envelope toward the relay. Fire-and-forget like the
// rest of the signaling plane: a saturated buffer drops the frame rather than
// blocking the caller, which may hold the peer set lock.
func (c *SignalClient) Send(kind protocol.Kind, payload any) error {
	frame, err := protocol.Encode(kind, payload)
	if err != nil {
		return err
	}
	select {
	case c.outgoing <- frame:
		return nil
	case <-c.done:
		return fmt.Errorf("signal client closed")
	default:
		log.Warn().Str("module", "client.signal").Str("kind", string(kind)).Msg("send buffer full, frame dropped")
		return ErrSendBufferFull
	}
}

// Incoming returns the channel of decoded relay envelopes.
func (c *SignalClient) Incoming() <-chan protocol.Envelope {
	return c.incoming
}

// Close shuts the connection down; safe to call more than once.
func (c *SignalClient) Close() {
	c.once.Do(func() {
		close(c.done)
	})
}
