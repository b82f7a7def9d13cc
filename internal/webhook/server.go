package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"solana-smartmoney-bot/internal/signal"
)

// SignatureHeader carries the hex HMAC-SHA256 digest of the raw body
const SignatureHeader = "X-Helius-Signature"

// HealthReporter supplies component statuses for the health route
type HealthReporter interface {
	Healthy() bool
	Report() map[string]any
}

// Server runs the HTTP server receiving webhook events
type Server struct {
	app        *fiber.App
	parser     *Parser
	eventChan  chan *signal.SwapEvent
	hmacSecret func() string
	health     HealthReporter
	host       string
	port       int
}

// NewServer creates the webhook server. Parsed events are handed off on
// eventChan without blocking; the channel buffer is the back-pressure.
func NewServer(host string, port int, hmacSecret func() string, eventChan chan *signal.SwapEvent, health HealthReporter) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ReadTimeout:           5 * time.Second,
		WriteTimeout:          5 * time.Second,
	})

	s := &Server{
		app:        app,
		parser:     NewParser(),
		eventChan:  eventChan,
		hmacSecret: hmacSecret,
		health:     health,
		host:       host,
		port:       port,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.app.Get("/health", func(c *fiber.Ctx) error {
		resp := fiber.Map{
			"status": "ok",
			"time":   time.Now().Unix(),
		}
		if s.health != nil {
			if !s.health.Healthy() {
				resp["status"] = "degraded"
			}
			resp["components"] = s.health.Report()
		}
		return c.JSON(resp)
	})

	s.app.Post("/webhook", s.handleWebhook)
}

func (s *Server) handleWebhook(c *fiber.Ctx) error {
	body := c.Body()

	if secret := s.hmacSecret(); secret != "" {
		if !verifyHMAC(body, c.Get(SignatureHeader), secret) {
			log.Warn().Msg("webhook rejected: bad signature")
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid signature"})
		}
	}

	// Providers batch transactions; accept both a single object and an array.
	var payloads []Payload
	if err := json.Unmarshal(body, &payloads); err != nil {
		var single Payload
		if err := json.Unmarshal(body, &single); err != nil {
			log.Debug().Err(err).Msg("webhook payload not parseable")
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid payload"})
		}
		payloads = []Payload{single}
	}

	accepted := 0
	for i := range payloads {
		ev := s.parser.Parse(&payloads[i])
		if ev == nil {
			continue
		}
		select {
		case s.eventChan <- ev:
			accepted++
		default:
			log.Warn().Str("tx", ev.TxSignature).Msg("event channel full, dropping swap event")
		}
	}

	return c.JSON(fiber.Map{"status": "received", "accepted": accepted})
}

func verifyHMAC(body []byte, signature, secret string) bool {
	if signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// App exposes the fiber app for tests
func (s *Server) App() *fiber.App {
	return s.app
}

// Start starts the HTTP server
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	log.Info().Str("addr", addr).Msg("starting webhook server")
	return s.app.Listen(addr)
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}
