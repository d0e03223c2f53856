package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/roach88/tempo/internal/message"
	"github.com/roach88/tempo/internal/relay"
)

// Server exposes a relay over HTTP. Each open monitor stream occupies
// one of the HTTP server's handler goroutines for its whole lifetime, so
// the number of simultaneously live recipients is bounded by the
// server's connection capacity; size it for the expected peer count.
type Server struct {
	relay  *relay.Relay
	logger *slog.Logger
	router *gin.Engine
}

// NewServer wires a relay into a gin router. A nil logger falls back to
// slog.Default().
func NewServer(r *relay.Relay, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{relay: r, logger: logger, router: router}
	router.POST("/v1/messages", s.handleSend)
	router.GET("/v1/pending/:recipient", s.handlePending)
	router.GET("/v1/monitor/:recipient", s.handleMonitor)
	return s
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:    addr,
		Handler: s.router,
	}

	go func() {
		<-ctx.Done()
		s.relay.Close()
		srv.Shutdown(context.Background())
	}()

	s.logger.Info("relay listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve relay: %w", err)
	}
	return nil
}

func (s *Server) handleSend(c *gin.Context) {
	var req SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, SendResponse{
			Status: StatusFailure,
			Code:   string(relay.FaultMalformedMessage),
			Error:  err.Error(),
		})
		return
	}

	m := message.New(req.Sender, req.Recipient, req.Body)
	if req.Timestamp != "" {
		m.Timestamp = req.Timestamp
	}

	if err := s.relay.Send(m); err != nil {
		s.logger.Error("send failed", "recipient", req.Recipient, "error", err)
		c.JSON(faultStatus(err), sendFailure(err))
		return
	}
	c.JSON(http.StatusOK, SendResponse{Status: StatusSuccess})
}

func (s *Server) handlePending(c *gin.Context) {
	recipient := c.Param("recipient")

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			c.JSON(http.StatusBadRequest, PendingResponse{
				Status:   StatusFailure,
				Code:     string(relay.FaultMalformedMessage),
				Error:    fmt.Sprintf("invalid limit %q", raw),
				Messages: []message.Message{},
			})
			return
		}
		limit = v
	}

	msgs, err := s.relay.DrainPending(recipient, limit)
	if err != nil {
		s.logger.Error("drain failed", "recipient", recipient, "error", err)
		c.JSON(faultStatus(err), PendingResponse{
			Status:   StatusFailure,
			Code:     faultCode(err),
			Error:    err.Error(),
			Messages: []message.Message{},
		})
		return
	}
	if msgs == nil {
		msgs = []message.Message{}
	}
	c.JSON(http.StatusOK, PendingResponse{Status: StatusSuccess, Messages: msgs})
}

// handleMonitor turns the open response into the recipient's delivery
// channel and blocks in the relay's streaming loop until the client goes
// away.
func (s *Server) handleMonitor(c *gin.Context) {
	recipient := c.Param("recipient")

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	ch := newSSEChannel(c)
	if err := ch.announce(); err != nil {
		s.logger.Error("monitor stream failed to open", "recipient", recipient, "error", err)
		return
	}

	if err := s.relay.RegisterStream(recipient, ch); err != nil {
		// Delivery errors end the stream; the registry entry is already
		// cleaned up by the relay.
		s.logger.Error("monitor stream ended", "recipient", recipient, "error", err)
	}
}

// sseChannel adapts a server-sent-events response to relay.DeliveryChannel.
type sseChannel struct {
	ctx    context.Context
	writer gin.ResponseWriter

	mu   sync.Mutex
	dead bool
}

func newSSEChannel(c *gin.Context) *sseChannel {
	return &sseChannel{
		ctx:    c.Request.Context(),
		writer: c.Writer,
	}
}

// announce sends the stream-open event so clients can tell an accepted
// registration from a hung request.
func (ch *sseChannel) announce() error {
	return ch.write("connected", []byte(`{}`))
}

func (ch *sseChannel) Deliver(m message.Message) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	return ch.write("message", data)
}

func (ch *sseChannel) write(event string, data []byte) error {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	if ch.dead {
		return errors.New("stream closed")
	}
	if _, err := fmt.Fprintf(ch.writer, "event: %s\ndata: %s\n\n", event, data); err != nil {
		ch.dead = true
		return fmt.Errorf("write stream: %w", err)
	}
	ch.writer.Flush()
	return nil
}

func (ch *sseChannel) Live() bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return !ch.dead && ch.ctx.Err() == nil
}

func (ch *sseChannel) Done() <-chan struct{} {
	return ch.ctx.Done()
}

// faultStatus maps a relay error to an HTTP status. Faults are client or
// lifecycle problems; anything else is an internal error.
func faultStatus(err error) int {
	var f *relay.Fault
	if errors.As(err, &f) {
		switch f.Code {
		case relay.FaultRelayClosed:
			return http.StatusServiceUnavailable
		default:
			return http.StatusBadRequest
		}
	}
	return http.StatusInternalServerError
}

func faultCode(err error) string {
	var f *relay.Fault
	if errors.As(err, &f) {
		return string(f.Code)
	}
	return ""
}

func sendFailure(err error) SendResponse {
	return SendResponse{
		Status: StatusFailure,
		Code:   faultCode(err),
		Error:  err.Error(),
	}
}
