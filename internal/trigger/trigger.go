// Package trigger exposes the daemon over HTTP: an endpoint that requests
// an immediate reconciliation cycle, a health probe, and the last cycle
// report. It never runs cycles itself; it only asks the daemon to.
package trigger

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/schaermu/replicad/internal/activation"
	"github.com/schaermu/replicad/internal/config"
	replsync "github.com/schaermu/replicad/internal/sync"
)

// signatureHeader carries the HMAC-SHA256 of the request body when a secret
// is configured.
const signatureHeader = "X-Replicad-Signature-256"

// Syncer is the daemon-side surface the server drives
type Syncer interface {
	// TriggerSync requests an early cycle; concurrent requests collapse
	TriggerSync()
	// LastReport returns the most recent cycle report, nil before the first
	LastReport() *replsync.CycleReport
}

// Server implements the trigger HTTP server
type Server struct {
	cfg      *config.Config
	syncer   Syncer
	logger   *slog.Logger
	secret   []byte // empty means unsigned triggers are accepted
	debounce *debouncer
}

// debouncer coalesces bursts of trigger requests
type debouncer struct {
	mu       sync.Mutex
	timer    *time.Timer
	delay    time.Duration
	callback func()
}

// NewServer creates a new trigger server
func NewServer(cfg *config.Config, syncer Syncer, logger *slog.Logger) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		syncer: syncer,
		logger: logger,
	}

	if cfg.Serve.SecretFile != "" {
		secret, err := os.ReadFile(cfg.Serve.SecretFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read trigger secret: %w", err)
		}
		s.secret = []byte(strings.TrimSpace(string(secret)))
	}

	s.debounce = &debouncer{
		delay: 2 * time.Second,
	}

	return s, nil
}

// Start serves until the context is canceled. The listener comes from
// systemd socket activation when present, else a plain TCP listen on the
// configured address.
func (s *Server) Start(ctx context.Context) error {
	listener, err := s.listen()
	if err != nil {
		return err
	}

	server := &http.Server{
		Handler:           s.Handler(),
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MB
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("trigger server starting", "addr", listener.Addr().String())
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down trigger server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) listen() (net.Listener, error) {
	listeners, err := activation.Listeners()
	if err != nil {
		return nil, fmt.Errorf("failed to check socket activation: %w", err)
	}
	if len(listeners) > 0 {
		s.logger.Info("using systemd-activated socket")
		return listeners[0], nil
	}

	listener, err := net.Listen("tcp", s.cfg.Serve.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", s.cfg.Serve.ListenAddr, err)
	}
	return listener, nil
}

// Handler returns the route table; split out so tests can drive it with
// httptest without a real listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/sync", s.handleSync)
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/status", s.handleStatus)
	return mux
}

// handleSync verifies the request and asks the daemon for an early cycle
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.logger.Warn("rejecting non-POST trigger request", "method", r.Method)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20)) // 1 MB limit
	if err != nil {
		s.logger.Error("failed to read request body", "error", err)
		http.Error(w, "Failed to read body", http.StatusInternalServerError)
		return
	}
	defer func() {
		_ = r.Body.Close()
	}()

	if len(s.secret) > 0 && !s.verifySignature(body, r.Header.Get(signatureHeader)) {
		s.logger.Warn("rejecting trigger request with invalid signature")
		http.Error(w, "Invalid signature", http.StatusForbidden)
		return
	}

	s.logger.Info("trigger accepted", "remote", r.RemoteAddr)

	s.debounce.trigger(s.syncer.TriggerSync)

	w.WriteHeader(http.StatusAccepted)
	_, _ = fmt.Fprintf(w, "Sync triggered\n")
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ok\n")
}

// handleStatus serves the most recent cycle report as JSON
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	report := s.syncer.LastReport()
	if report == nil {
		http.Error(w, "No cycle completed yet", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(report); err != nil {
		s.logger.Error("failed to encode status", "error", err)
	}
}

// verifySignature checks the HMAC-SHA256 signature of the request body
func (s *Server) verifySignature(body []byte, signature string) bool {
	if signature == "" {
		return false
	}

	if !strings.HasPrefix(signature, "sha256=") {
		return false
	}
	signature = strings.TrimPrefix(signature, "sha256=")

	mac := hmac.New(sha256.New, s.secret)
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	// Constant-time comparison
	return hmac.Equal([]byte(signature), []byte(expected))
}

// trigger schedules the callback to run after the debounce delay
func (d *debouncer) trigger(callback func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.callback = callback

	if d.timer != nil {
		d.timer.Stop()
	}

	d.timer = time.AfterFunc(d.delay, func() {
		d.mu.Lock()
		cb := d.callback
		d.mu.Unlock()

		if cb != nil {
			cb()
		}
	})
}
