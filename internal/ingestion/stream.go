package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1024 * 1024 // 1MB
)

// ErrStreamClosed reports an orderly stream shutdown, either by Close or by
// the node ending the connection. Callers reconnect on it.
var ErrStreamClosed = errors.New("log stream closed")

// LogStream is a single eth_subscribe("logs") subscription over a WebSocket
// connection. It is dialed with the pool addresses and event topics it should
// watch; changing the filter means closing the stream and dialing a new one.
type LogStream struct {
	conn *websocket.Conn

	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
	logs      chan LogEntry

	subMu sync.Mutex
	subID string
}

// DialLogStream connects to the node and requests a log subscription for the
// given pool addresses, matching any of the given topics. The subscription is
// confirmed asynchronously on the first read in Listen.
func DialLogStream(ctx context.Context, url string, addresses []common.Address, topics []common.Hash) (*LogStream, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dialing websocket: %w", err)
	}

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	s := &LogStream{
		conn: conn,
		done: make(chan struct{}),
		logs: make(chan LogEntry, 1000),
	}

	if err := s.writeJSON(subscribeRequest(addresses, topics)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("requesting subscription: %w", err)
	}

	log.Info().
		Str("url", url).
		Int("addresses", len(addresses)).
		Int("topics", len(topics)).
		Msg("Log stream dialed")
	return s, nil
}

func subscribeRequest(addresses []common.Address, topics []common.Hash) map[string]any {
	topicStrs := make([]string, len(topics))
	for i, topic := range topics {
		topicStrs[i] = topic.Hex()
	}
	// Topics are ORed: any watched address emitting any of them is delivered.
	filter := map[string]any{
		"topics": []any{topicStrs},
	}
	if len(addresses) > 0 {
		addrStrs := make([]string, len(addresses))
		for i, addr := range addresses {
			addrStrs[i] = addr.Hex()
		}
		filter["address"] = addrStrs
	}

	return map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "eth_subscribe",
		"params":  []any{"logs", filter},
	}
}

func (s *LogStream) writeJSON(v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(v)
}

// Logs returns the channel of delivered log entries.
func (s *LogStream) Logs() <-chan LogEntry {
	return s.logs
}

// SubscriptionID returns the node-assigned id once the subscription has been
// confirmed, or "" before that.
func (s *LogStream) SubscriptionID() string {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	return s.subID
}

// Close tears the stream down. Safe to call more than once.
func (s *LogStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.conn.Close()
	})
	return err
}

// Listen pumps the connection: it keeps the subscription alive with pings and
// delivers log notifications on Logs until the stream closes or fails.
func (s *LogStream) Listen(ctx context.Context) error {
	go s.keepalive(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return ErrStreamClosed
		default:
		}

		_, frame, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
				return ErrStreamClosed
			default:
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return ErrStreamClosed
			}
			return fmt.Errorf("reading frame: %w", err)
		}

		if err := s.handleFrame(frame); err != nil {
			return err
		}
	}
}

func (s *LogStream) handleFrame(frame []byte) error {
	var msg struct {
		ID     *int64          `json:"id"`
		Result json.RawMessage `json:"result"`
		Method string          `json:"method"`
		Params json.RawMessage `json:"params"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(frame, &msg); err != nil {
		log.Warn().Err(err).Msg("Unparseable frame, skipping")
		return nil
	}

	switch {
	case msg.ID != nil:
		// Reply to our subscribe request. A failure here means the stream
		// will never deliver anything.
		if msg.Error != nil {
			return fmt.Errorf("subscription rejected: %s (code %d)", msg.Error.Message, msg.Error.Code)
		}
		var subID string
		if err := json.Unmarshal(msg.Result, &subID); err == nil && subID != "" {
			s.subMu.Lock()
			s.subID = subID
			s.subMu.Unlock()
			log.Info().Str("subscription_id", subID).Msg("Subscription confirmed")
		}

	case msg.Error != nil:
		log.Error().
			Int("code", msg.Error.Code).
			Str("message", msg.Error.Message).
			Msg("Node reported stream error")

	case msg.Method == "eth_subscription" && msg.Params != nil:
		entry, err := parseSubscriptionPayload(msg.Params)
		if err != nil {
			log.Warn().Err(err).Msg("Malformed subscription payload")
			return nil
		}
		select {
		case s.logs <- entry:
		default:
			log.Warn().Str("tx", entry.TransactionHash).Msg("Log channel full, dropping entry")
		}
	}
	return nil
}

// parseSubscriptionPayload unwraps the params of an eth_subscription
// notification into the log entry it carries.
func parseSubscriptionPayload(params json.RawMessage) (LogEntry, error) {
	var payload struct {
		Subscription string   `json:"subscription"`
		Result       LogEntry `json:"result"`
	}
	if err := json.Unmarshal(params, &payload); err != nil {
		return LogEntry{}, err
	}
	return payload.Result, nil
}

func (s *LogStream) keepalive(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-ticker.C:
			s.writeMu.Lock()
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := s.conn.WriteMessage(websocket.PingMessage, nil)
			s.writeMu.Unlock()
			if err != nil {
				log.Warn().Err(err).Msg("Ping failed")
			}
		}
	}
}
