package relay

import (
	"context"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/meshmeet/meshmeet/pkg/config"
	"github.com/meshmeet/meshmeet/pkg/logger"
	"github.com/meshmeet/meshmeet/pkg/monitoring"
	"github.com/meshmeet/meshmeet/pkg/network/httpx"
	"github.com/meshmeet/meshmeet/pkg/service"
)

// Relay is the standalone signaling service.
type Relay struct {
	hub      *Hub
	log      *logger.Logger
	services service.Group
}

func New(conf config.RelayConfig, log *logger.Logger) (*Relay, error) {
	hub := NewHub(conf.Relay, log)

	server, err := httpx.NewServer(
		conf.Relay.Server.GetAddr(),
		func(s *httpx.Server) http.Handler {
			mux := s.Mux()
			mux.HandleFunc("/ws", hub.handleClientConnection)
			mux.HandleW("/health", handleHealth)
			return mux
		},
		httpx.WithServerConfig(conf.Relay.Server),
		httpx.WithLogger(log),
	)
	if err != nil {
		return nil, err
	}

	r := &Relay{hub: hub, log: log}
	r.services.Add(server)
	if conf.Relay.Monitoring.IsEnabled() {
		if m := monitoring.New(conf.Relay.Monitoring, "relay", log); m != nil {
			r.services.Add(m)
		}
	}
	return r, nil
}

func (r *Relay) Run() {
	r.hub.Run()
	r.services.Start()
}

func (r *Relay) Shutdown(ctx context.Context) error {
	r.hub.Stop()
	return r.services.Shutdown(ctx)
}

func handleHealth(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
}
