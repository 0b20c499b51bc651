// Package bootstrap wires the daemon's modules together in dependency
// order: provider, store, service, HTTP server.
package bootstrap

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/skycastd/skycast/internal/auth"
	"github.com/skycastd/skycast/internal/config"
	"github.com/skycastd/skycast/internal/provider"
	"github.com/skycastd/skycast/internal/service"
)

// Skycast aggregates the daemon's running modules.
type Skycast struct {
	Config   *config.Config
	Provider provider.Provider
	Store    *service.Store
	Service  *service.Service
	Server   *service.Server

	cancel context.CancelFunc
}

// Initialize builds all modules. Nothing starts running until Start.
func Initialize(cfg *config.Config) (*Skycast, error) {
	sc := &Skycast{Config: cfg}

	if cfg.Upstream.URL != "" {
		sc.Provider = provider.NewHTTPProvider(cfg.Upstream.URL, time.Duration(cfg.Upstream.TimeoutSeconds)*time.Second)
		logrus.Infof("using upstream provider %s", cfg.Upstream.URL)
	} else {
		sc.Provider = provider.NewStaticProvider()
		logrus.Info("no upstream configured, using static provider")
	}

	sc.Store = service.NewStore()
	sc.Service = service.New(
		sc.Store,
		service.NewHub(),
		sc.Provider,
		cfg.Weather.Cities,
		time.Duration(cfg.Weather.UpdateIntervalSeconds)*time.Second,
	)
	sc.Server = service.NewServer(sc.Service, auth.NewVerifier(cfg.AuthSecret))

	logrus.Info("all modules initialized successfully")
	return sc, nil
}

// Start runs the refresh loop and the HTTP server.
func (sc *Skycast) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	sc.cancel = cancel

	go sc.Service.Run(runCtx)
	go func() {
		if err := sc.Server.ListenAndServe(sc.Config.ListenAddr); err != nil {
			logrus.Errorf("http server: %v", err)
		}
	}()
	return nil
}

// Stop shuts everything down.
func (sc *Skycast) Stop() {
	if sc.cancel != nil {
		sc.cancel()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sc.Server.Shutdown(ctx); err != nil {
		logrus.Warnf("shutdown: %v", err)
	}
}
