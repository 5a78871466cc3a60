// Package callback serves the provider's inbound-message callbacks together
// with the metrics and health endpoints.
package callback

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"smsbridge/internal/domain"
	"smsbridge/internal/metrics"
	"smsbridge/internal/telephony"
)

const maxBodyBytes = 1 << 20

// Ingester accepts pushed inbound messages. bridge.Service implements it.
type Ingester interface {
	Ingest(ctx context.Context, msgs []domain.InboundSMS) int
}

// Config configures the callback server.
type Config struct {
	Host         string
	Port         int    // default: 9090
	CallbackPath string // default: /callback/flowroute
	MetricsPath  string // default: /metrics
	Secret       string // HMAC secret for X-Signature-256; empty disables the check
	Ingester     Ingester
	Ready        <-chan struct{} // chat readiness, reported by /healthz
	Logger       *slog.Logger
}

// Server is the HTTP endpoint for provider callbacks.
type Server struct {
	cfg      Config
	logger   *slog.Logger
	server   *http.Server
	inflight sync.WaitGroup

	baseMu  sync.Mutex
	baseCtx context.Context
}

// New creates a callback server.
func New(cfg Config) *Server {
	if cfg.Port == 0 {
		cfg.Port = 9090
	}
	if cfg.CallbackPath == "" {
		cfg.CallbackPath = "/callback/flowroute"
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Server{cfg: cfg, logger: cfg.Logger, baseCtx: context.Background()}
}

// Handler returns the server's routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.CallbackPath, s.handleCallback)
	mux.Handle(s.cfg.MetricsPath, metrics.Handler())
	mux.HandleFunc("/healthz", s.handleHealth)
	return mux
}

// Start serves until ctx is cancelled, then shuts down and waits for
// in-flight ingestion to finish.
func (s *Server) Start(ctx context.Context) error {
	s.baseMu.Lock()
	s.baseCtx = ctx
	s.baseMu.Unlock()

	s.server = &http.Server{
		Addr:              net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port)),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.logger.Info("callback server starting", "addr", s.server.Addr, "path", s.cfg.CallbackPath)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("callback server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := s.server.Shutdown(shutdownCtx)
		s.inflight.Wait()
		return err
	case err := <-errCh:
		return fmt.Errorf("callback server: %w", err)
	}
}

func (s *Server) handleCallback(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(rw, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(rw, "Bad Request", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	if s.cfg.Secret != "" {
		sig := r.Header.Get("X-Signature-256")
		if sig == "" {
			http.Error(rw, "Missing signature", http.StatusUnauthorized)
			return
		}
		if !verifyHMAC(body, s.cfg.Secret, sig) {
			s.logger.Warn("callback signature mismatch", "remote", r.RemoteAddr)
			http.Error(rw, "Invalid signature", http.StatusForbidden)
			return
		}
	}

	msg, err := telephony.DecodeMessage(body)
	if err != nil {
		s.logger.Warn("callback payload rejected", "remote", r.RemoteAddr, "err", err)
		http.Error(rw, "Invalid message document", http.StatusBadRequest)
		return
	}
	if msg.ID == "" {
		http.Error(rw, "Message id is required", http.StatusBadRequest)
		return
	}

	metrics.CallbacksReceived.Inc()
	s.logger.Info("callback received", "id", msg.ID, "from", msg.From, "to", msg.To)

	if s.cfg.Ingester != nil {
		s.baseMu.Lock()
		ctx := s.baseCtx
		s.baseMu.Unlock()

		s.inflight.Add(1)
		go func() {
			defer s.inflight.Done()
			s.cfg.Ingester.Ingest(ctx, []domain.InboundSMS{msg})
		}()
	}

	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(http.StatusAccepted)
	json.NewEncoder(rw).Encode(map[string]string{
		"status": "accepted",
		"id":     msg.ID,
	})
}

func (s *Server) handleHealth(rw http.ResponseWriter, r *http.Request) {
	ready := s.cfg.Ready == nil
	if !ready {
		select {
		case <-s.cfg.Ready:
			ready = true
		default:
		}
	}

	rw.Header().Set("Content-Type", "application/json")
	status := "ok"
	if !ready {
		status = "waiting for chat"
		rw.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(rw).Encode(map[string]string{"status": status})
}

// Wait blocks until callbacks handed to the Ingester have been processed.
func (s *Server) Wait() { s.inflight.Wait() }

// verifyHMAC verifies the HMAC-SHA256 signature of the body.
func verifyHMAC(body []byte, secret, signature string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
