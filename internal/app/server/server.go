// Package server runs the SDK core as a headless agent next to a UI process.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"engagement-sdk/internal/api"
	"engagement-sdk/internal/config"
	"engagement-sdk/internal/navigation"
	"engagement-sdk/internal/sdk"
	"engagement-sdk/internal/storage"
)

type Agent struct {
	cfg  config.Config
	kv   storage.KV
	core *sdk.SDK
	srv  *http.Server
}

// New opens storage, loads the route table and wires the SDK and its bridge.
func New(ctx context.Context, cfg config.Config) (*Agent, error) {
	kv, err := storage.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}
	log.Info().Str("driver", cfg.Storage.Driver).Str("target", cfg.DSNRedacted()).Msg("storage ready")

	routes, err := navigation.LoadRoutes(cfg.Navigation.RoutesFile)
	if err != nil {
		kv.Close()
		return nil, fmt.Errorf("load routes: %w", err)
	}

	core, err := sdk.New(ctx, kv, sdk.OptionsFromConfig(cfg, routes))
	if err != nil {
		kv.Close()
		return nil, fmt.Errorf("init sdk: %w", err)
	}

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      api.Router(api.NewBridgeHandler(core)),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: api.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return &Agent{cfg: cfg, kv: kv, core: core, srv: srv}, nil
}

func (a *Agent) Core() *sdk.SDK { return a.core }

func (a *Agent) Handler() http.Handler { return a.srv.Handler }

// Serve initialises the SDK, then runs the flush scheduler, the realtime
// supervisor and the bridge on ln until ctx is done.
func (a *Agent) Serve(ctx context.Context, ln net.Listener) error {
	if err := a.core.Init(ctx); err != nil {
		// keep serving: requests queue offline and auth is retried on demand
		log.Error().Err(err).Msg("sdk init")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.core.Run(gctx) })
	g.Go(func() error {
		log.Info().Str("addr", ln.Addr().String()).Msg("bridge starting")
		if err := a.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("bridge: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutdown...")
		shCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return a.srv.Shutdown(shCtx)
	})
	return g.Wait()
}

func (a *Agent) Close() {
	a.core.Close()
	a.kv.Close()
}

// Run serves on the configured address until SIGINT or SIGTERM.
func Run(cfg config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := New(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	ln, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Server.Addr, err)
	}
	return a.Serve(ctx, ln)
}
