package pricefeed

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// Stream subscribes to token price updates over a websocket and pushes
// them into the client cache, keeping FetchPrice hot for the exit
// monitor. Reconnects with backoff on drops.
type Stream struct {
	wsURL  string
	client *Client

	mu     sync.Mutex
	tokens map[string]struct{}
	conn   *websocket.Conn

	done chan struct{}
	stop context.CancelFunc
}

// NewStream creates a price stream feeding the given client cache
func NewStream(wsURL string, client *Client) *Stream {
	return &Stream{
		wsURL:  wsURL,
		client: client,
		tokens: make(map[string]struct{}),
		done:   make(chan struct{}),
	}
}

// Track subscribes to a token's price updates
func (s *Stream) Track(token string) {
	s.mu.Lock()
	_, exists := s.tokens[token]
	s.tokens[token] = struct{}{}
	conn := s.conn
	s.mu.Unlock()

	if exists || conn == nil {
		return
	}
	if err := s.sendSubscribe(conn, token); err != nil {
		log.Warn().Err(err).Str("token", token).Msg("price subscription failed")
	}
}

// Untrack stops following a token
func (s *Stream) Untrack(token string) {
	s.mu.Lock()
	delete(s.tokens, token)
	s.mu.Unlock()
}

// Start launches the read loop with reconnection
func (s *Stream) Start(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	s.stop = cancel

	go func() {
		defer close(s.done)
		backoff := time.Second
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			if err := s.connectAndRead(ctx); err != nil {
				log.Warn().Err(err).Dur("backoff", backoff).Msg("price stream disconnected")
			}

			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
		}
	}()
}

// Stop closes the stream
func (s *Stream) Stop() {
	if s.stop != nil {
		s.stop()
	}
	s.mu.Lock()
	if s.conn != nil {
		s.conn.Close()
	}
	s.mu.Unlock()
	<-s.done
}

func (s *Stream) connectAndRead(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.wsURL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	s.mu.Lock()
	s.conn = conn
	tokens := make([]string, 0, len(s.tokens))
	for t := range s.tokens {
		tokens = append(tokens, t)
	}
	s.mu.Unlock()

	for _, token := range tokens {
		if err := s.sendSubscribe(conn, token); err != nil {
			return err
		}
	}

	log.Info().Int("tokens", len(tokens)).Msg("price stream connected")

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		var msg struct {
			Type  string `json:"type"`
			Token string `json:"token"`
			Price string `json:"price"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			s.mu.Lock()
			s.conn = nil
			s.mu.Unlock()
			return err
		}
		if msg.Type != "price" {
			continue
		}
		price, err := decimal.NewFromString(msg.Price)
		if err != nil {
			log.Debug().Str("price", msg.Price).Msg("unparseable stream price")
			continue
		}
		s.client.Put(msg.Token, price, "ws")
	}
}

func (s *Stream) sendSubscribe(conn *websocket.Conn, token string) error {
	sub, err := json.Marshal(map[string]any{
		"op":    "subscribe",
		"token": token,
	})
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, sub)
}
