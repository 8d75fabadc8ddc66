package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"cortex/balancer"
	"cortex/manager"
	"cortex/stats"
	"cortex/worker"
)

// BalancerControl is the part of the balancer exposed over HTTP.
type BalancerControl interface {
	TriggerProvision()
	LastStatus() *balancer.Status
}

type ErrResponse struct {
	HTTPStatusCode int    `json:"status"`
	Message        string `json:"message"`
}

// Server serves the job queue, the worker registry and the balancer
// controls.
type Server struct {
	Address  string
	Manager  *manager.Manager
	Workers  *worker.Registry
	Balancer BalancerControl
	Counters *stats.Counters
	Router   *mux.Router
	logger   *zap.SugaredLogger
}

// NewServer builds the routes. metrics is mounted on /metrics when not nil.
func NewServer(address string, m *manager.Manager, workers *worker.Registry, bal BalancerControl, counters *stats.Counters, metrics http.Handler, logger *zap.SugaredLogger) *Server {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	s := &Server{
		Address:  address,
		Manager:  m,
		Workers:  workers,
		Balancer: bal,
		Counters: counters,
		Router:   mux.NewRouter().StrictSlash(true),
		logger:   logger,
	}
	s.initRouter(metrics)
	return s
}

func (s *Server) initRouter(metrics http.Handler) {
	s.Router.HandleFunc("/jobs", s.AddJobHandler).Methods(http.MethodPost)
	s.Router.HandleFunc("/jobs", s.GetJobsHandler).Methods(http.MethodGet)
	s.Router.HandleFunc("/jobs/{id}", s.GetJobHandler).Methods(http.MethodGet)
	s.Router.HandleFunc("/jobs/{id}", s.UpdateJobHandler).Methods(http.MethodPut)

	s.Router.HandleFunc("/workers", s.GetWorkersHandler).Methods(http.MethodGet)
	s.Router.HandleFunc("/workers/{name}", s.HeartbeatHandler).Methods(http.MethodPut)
	s.Router.HandleFunc("/workers/{name}", s.RemoveWorkerHandler).Methods(http.MethodDelete)
	s.Router.HandleFunc("/workers/{name}/next", s.NextJobHandler).Methods(http.MethodPost)

	s.Router.HandleFunc("/balancer/provision", s.ProvisionHandler).Methods(http.MethodPost)
	s.Router.HandleFunc("/balancer/status", s.StatusHandler).Methods(http.MethodGet)

	if metrics != nil {
		s.Router.Handle("/metrics", metrics).Methods(http.MethodGet)
	}
}

// Serve listens on Address until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.Address,
		Handler:           s.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Infow("Starting API server", zap.String("address", s.Address))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warnw("Error encoding response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, ErrResponse{HTTPStatusCode: status, Message: msg})
}
