package inbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-smtp"
	"github.com/patrickmn/go-cache"
)

// Envelope is a decoded inbound message together with its SMTP envelope
type Envelope struct {
	To        []string
	From      string
	MessageID string
	Subject   string
	Body      string
	Raw       []byte
}

// Handler processes a delivered message
type Handler interface {
	HandleMessage(ctx context.Context, env Envelope) error
}

// HandlerFunc adapts a function to the Handler interface
type HandlerFunc func(ctx context.Context, env Envelope) error

// HandleMessage implements Handler
func (f HandlerFunc) HandleMessage(ctx context.Context, env Envelope) error {
	return f(ctx, env)
}

// Config holds the listener settings
type Config struct {
	Addr              string
	Domain            string
	AllowedRecipients []string
	MaxMessageBytes   int64
	DedupTTL          time.Duration
}

// Server accepts mail over SMTP and hands every message to a Handler
type Server struct {
	cfg     Config
	handler Handler
	smtp    *smtp.Server
	seen    *cache.Cache

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer creates a new Server with defaults for unset Config fields
func NewServer(cfg Config, handler Handler) *Server {
	if cfg.Addr == "" {
		cfg.Addr = "0.0.0.0:4467"
	}
	if cfg.Domain == "" {
		cfg.Domain = "localhost"
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = 10 << 20
	}
	if cfg.DedupTTL <= 0 {
		cfg.DedupTTL = 24 * time.Hour
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:     cfg,
		handler: handler,
		seen:    cache.New(cfg.DedupTTL, cfg.DedupTTL*2),
		ctx:     ctx,
		cancel:  cancel,
	}

	srv := smtp.NewServer(&backend{server: s})
	srv.Addr = cfg.Addr
	srv.Domain = cfg.Domain
	srv.MaxMessageBytes = cfg.MaxMessageBytes
	srv.MaxRecipients = 50
	srv.ReadTimeout = 60 * time.Second
	srv.WriteTimeout = 60 * time.Second
	s.smtp = srv
	return s
}

// ListenAndServe binds the configured address and serves until Shutdown
func (s *Server) ListenAndServe() error {
	slog.Info("Starting inbox listener", "address", s.cfg.Addr)
	return ignoreClosed(s.smtp.ListenAndServe())
}

// Serve accepts connections on l until Shutdown
func (s *Server) Serve(l net.Listener) error {
	slog.Info("Starting inbox listener", "address", l.Addr().String())
	return ignoreClosed(s.smtp.Serve(l))
}

func ignoreClosed(err error) error {
	if errors.Is(err, smtp.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting mail, cancels in-flight handlers and waits for them
func (s *Server) Shutdown(ctx context.Context) error {
	err := ignoreClosed(s.smtp.Shutdown(ctx))
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return err
}

func (s *Server) accepts(rcpt string) bool {
	if len(s.cfg.AllowedRecipients) == 0 {
		return true
	}
	for _, allowed := range s.cfg.AllowedRecipients {
		if strings.EqualFold(strings.TrimSpace(allowed), strings.TrimSpace(rcpt)) {
			return true
		}
	}
	return false
}

// receive decodes a message and dispatches it; malformed mail is logged and dropped
func (s *Server) receive(from string, to []string, r io.Reader) error {
	raw, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("reading message: %w", err)
	}

	decoded, err := Decode(raw)
	if err != nil {
		slog.Error("Failed to decode message", "sender", from, "error", err)
		return nil
	}

	if decoded.MessageID != "" {
		if err := s.seen.Add(decoded.MessageID, struct{}{}, cache.DefaultExpiration); err != nil {
			slog.Info("Ignoring duplicate message", "message_id", decoded.MessageID, "sender", from)
			return nil
		}
	}

	env := Envelope{
		To:        append([]string(nil), to...),
		From:      from,
		MessageID: decoded.MessageID,
		Subject:   decoded.Subject,
		Body:      decoded.Body,
		Raw:       raw,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.handler.HandleMessage(s.ctx, env); err != nil {
			slog.Error("Failed to handle message", "sender", env.From, "message_id", env.MessageID, "error", err)
		}
	}()
	return nil
}

type backend struct {
	server *Server
}

func (b *backend) NewSession(c *smtp.Conn) (smtp.Session, error) {
	return &session{server: b.server}, nil
}

type session struct {
	server *Server
	from   string
	to     []string
}

func (s *session) Mail(from string, opts *smtp.MailOptions) error {
	s.from = from
	return nil
}

func (s *session) Rcpt(to string, opts *smtp.RcptOptions) error {
	if !s.server.accepts(to) {
		return &smtp.SMTPError{
			Code:         550,
			EnhancedCode: smtp.EnhancedCode{5, 1, 1},
			Message:      "No such user here",
		}
	}
	s.to = append(s.to, to)
	return nil
}

func (s *session) Data(r io.Reader) error {
	return s.server.receive(s.from, s.to, r)
}

func (s *session) Reset() {
	s.from = ""
	s.to = nil
}

func (s *session) Logout() error {
	return nil
}
