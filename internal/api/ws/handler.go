package ws

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/Future-Outlier/smart-glass-OS-system-AugmentOS-sub000/internal/auth"
	"github.com/Future-Outlier/smart-glass-OS-system-AugmentOS-sub000/internal/catalog"
	"github.com/Future-Outlier/smart-glass-OS-system-AugmentOS-sub000/internal/domain/session"
	"github.com/Future-Outlier/smart-glass-OS-system-AugmentOS-sub000/internal/infrastructure/config"
	"github.com/Future-Outlier/smart-glass-OS-system-AugmentOS-sub000/internal/infrastructure/logging"
	"github.com/Future-Outlier/smart-glass-OS-system-AugmentOS-sub000/internal/infrastructure/monitoring"
)

// AppAuthenticator verifies an app's API key and returns its manifest.
type AppAuthenticator interface {
	Authenticate(ctx context.Context, packageName, apiKey string) (*catalog.App, error)
}

// Handler terminates device and app WebSocket connections.
type Handler struct {
	cfg      *config.Config
	sessions *session.Registry
	verifier auth.Verifier
	apps     AppAuthenticator
	log      *logging.Logger
	metrics  *monitoring.Metrics
	upgrader websocket.Upgrader
}

// NewHandler creates the WebSocket handler for both surfaces.
func NewHandler(cfg *config.Config, sessions *session.Registry, verifier auth.Verifier, apps AppAuthenticator, log *logging.Logger, metrics *monitoring.Metrics) *Handler {
	return &Handler{
		cfg:      cfg,
		sessions: sessions,
		verifier: verifier,
		apps:     apps,
		log:      log.Named("ws"),
		metrics:  metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Devices and app servers are not browsers; tokens and API
			// keys carry the trust, not the Origin header.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}
