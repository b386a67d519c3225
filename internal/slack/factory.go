package slack

import (
	"net/http"
	"time"

	"github.com/kiranshivaraju/eventsync/internal/config"
	"github.com/kiranshivaraju/eventsync/pkg/models"
	"golang.org/x/oauth2"
)

// Factory builds tenant-bound clients that share one Limiter and base transport.
type Factory struct {
	cfg      config.SlackConfig
	limiter  *Limiter
	base     http.RoundTripper
	observer CallObserver
}

// NewFactory creates a Factory. observer may be nil.
func NewFactory(cfg config.SlackConfig, limiter *Limiter, observer CallObserver) *Factory {
	return &Factory{
		cfg:      cfg,
		limiter:  limiter,
		base:     http.DefaultTransport,
		observer: observer,
	}
}

// ForTenant returns a client authenticated with the tenant's workspace token.
func (f *Factory) ForTenant(t *models.Tenant) Client {
	src := oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: t.SlackAccessToken,
		TokenType:   "Bearer",
	})
	var inviteChannels []string
	if id := f.cfg.InviteChannelIDs[t.SlackWorkspaceID]; id != "" {
		inviteChannels = []string{id}
	}
	return NewHTTPClient(ClientOptions{
		BaseURL:          f.cfg.BaseURL,
		WorkspaceID:      t.SlackWorkspaceID,
		InviteChannelIDs: inviteChannels,
		HTTPClient: &http.Client{
			Timeout:   f.cfg.Timeout,
			Transport: &oauth2.Transport{Source: src, Base: f.base},
		},
		Limiter:    f.limiter,
		MaxRetries: f.cfg.MaxRetries,
		BaseDelay:  time.Second,
		MaxDelay:   f.cfg.MaxRetryDelay,
		Observer:   f.observer,
	})
}
