package commands

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/hay-kot/courier/internal/core/config"
	"github.com/hay-kot/courier/internal/identity"
)

// NewTokenProvider returns the identity provider client for cfg. Without a
// configured provider URL an embedded provider is served on a loopback port
// until stop is called.
func NewTokenProvider(cfg *config.Config, log zerolog.Logger) (client *identity.Client, stop func() error, err error) {
	stop = func() error { return nil }

	url := cfg.Identity.URL
	if url == "" {
		srv, addr, err := serveEmbedded(cfg, log)
		if err != nil {
			return nil, nil, err
		}
		url = "http://" + addr
		stop = srv.Close
		log.Debug().Str("url", url).Msg("started embedded identity provider")
	}

	client, err = identity.NewClient(identity.ClientConfig{URL: url})
	if err != nil {
		_ = stop()
		return nil, nil, err
	}
	return client, stop, nil
}

func newIdentityServer(cfg *config.Config, log zerolog.Logger) (*http.Server, error) {
	signer, err := identity.NewSigner(cfg.ProviderID, cfg.AuthKey, cfg.Identity.TokenTTL)
	if err != nil {
		return nil, fmt.Errorf("create signer: %w", err)
	}

	return &http.Server{
		Handler:           identity.NewHandler(signer, cfg.Identity.AppIDs, log).Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}, nil
}

func serveEmbedded(cfg *config.Config, log zerolog.Logger) (*http.Server, string, error) {
	srv, err := newIdentityServer(cfg, log)
	if err != nil {
		return nil, "", err
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, "", fmt.Errorf("listen: %w", err)
	}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("embedded identity provider stopped")
		}
	}()

	return srv, ln.Addr().String(), nil
}
