package bootapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/infraguys/genesis-compute/pkg/boot"
	"github.com/infraguys/genesis-compute/pkg/log"
	"github.com/infraguys/genesis-compute/pkg/metrics"
	"github.com/infraguys/genesis-compute/pkg/storage"
	"github.com/infraguys/genesis-compute/pkg/types"
)

// Server is the boot/registration HTTP API.
type Server struct {
	store  storage.Store
	boot   boot.Config
	mux    *http.ServeMux
	logger zerolog.Logger
}

// NewServer wires the boot and registration handlers onto a fresh mux,
// alongside the Prometheus handler (the teacher's own health server does
// the same, §4.2/health.go).
func NewServer(store storage.Store, bootCfg boot.Config) *Server {
	mux := http.NewServeMux()
	s := &Server{store: store, boot: bootCfg, mux: mux, logger: log.WithComponent("boot-api")}

	mux.HandleFunc("/v1/boots/", s.bootHandler)
	mux.HandleFunc("/v1/agents/", s.registerHandler)
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/health", metrics.HealthHandler())
	mux.Handle("/ready", metrics.ReadyHandler())
	mux.Handle("/live", metrics.LivenessHandler())

	return s
}

// Start serves the API on addr until the process exits or the listener
// errors.
func (s *Server) Start(addr string) error {
	server := &http.Server{
		Addr:         addr,
		Handler:      s.mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return server.ListenAndServe()
}

// GetHandler returns the HTTP handler for embedding or testing.
func (s *Server) GetHandler() http.Handler {
	return s.mux
}

// bootHandler implements GET /v1/boots/{uuid} (§4.8, §6): an iPXE script
// derived from the matching Machine's boot field, or the default network
// script for an unrecognised UUID — how autodiscovery bootstraps new
// hardware.
func (s *Server) bootHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	machineUUID := strings.TrimPrefix(r.URL.Path, "/v1/boots/")
	bootField := types.BootNetwork
	scriptType := "network"
	if m, err := s.store.GetMachine(machineUUID); err == nil {
		bootField = m.Boot
		scriptType = bootField.BootType()
	}

	metrics.BootRequestsTotal.WithLabelValues(scriptType).Inc()
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.BootRequestDuration)

	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(s.boot.Script(bootField)))
}
