package compute

import (
	"context"
	"encoding/gob"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/RyanBlaney/sonido-pitch/logging"
)

// Server exposes a Backend over HTTP for Remote clients
type Server struct {
	backend Backend
	router  *mux.Router
	logger  logging.Logger
}

// NewServer wraps backend (normally a Local) in an HTTP API
func NewServer(backend Backend) *Server {
	s := &Server{
		backend: backend,
		router:  mux.NewRouter().StrictSlash(true),
		logger: logging.WithFields(logging.Fields{
			"component": "backend_server",
		}),
	}
	s.router.HandleFunc(GradientsPath, s.handleGradients).Methods(http.MethodPost)
	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	return s
}

// Handler returns the routed handler with CORS applied
func (s *Server) Handler() http.Handler {
	return cors.Default().Handler(s.router)
}

// ListenAndServe serves on addr until ctx is cancelled
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("Backend server listening", logging.Fields{"addr": addr})
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleGradients(w http.ResponseWriter, r *http.Request) {
	logger := s.logger.WithFields(logging.Fields{"function": "handleGradients"})

	var in wireRequest
	if err := gob.NewDecoder(r.Body).Decode(&in); err != nil {
		logger.Error(err, "Failed to decode batch")
		http.Error(w, "malformed request: "+err.Error(), http.StatusBadRequest)
		return
	}
	req, err := in.request()
	if err != nil {
		logger.Error(err, "Rejected batch parameters")
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	res, err := s.backend.Gradients(r.Context(), req)
	if err != nil {
		logger.Error(err, "Gradient computation failed")
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	w.Header().Set("Content-Type", "application/x-gob")
	if err := gob.NewEncoder(w).Encode(wireResult{Loss: res.Loss, Grads: toWire(res.Grads)}); err != nil {
		logger.Error(err, "Failed to encode gradients")
	}
}
