package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"link-cloaker/internal/accesslog"
	"link-cloaker/internal/api"
	"link-cloaker/internal/config"
	"link-cloaker/internal/detect"
	"link-cloaker/internal/engine"
	"link-cloaker/internal/geoip"
	"link-cloaker/internal/listener"
	"link-cloaker/internal/resolver"
	"link-cloaker/internal/storage"
)

// backend is what either store driver provides.
type backend interface {
	storage.Source
	accesslog.Writer
	api.Reports
}

// App is the composed service. Everything is built once in Build and
// handed down explicitly.
type App struct {
	Handler  http.Handler
	Index    *storage.CampaignIndex
	Recorder *accesslog.Recorder

	pg    *storage.Store
	store backend
}

// Build wires storage, the campaign index, the detection pipeline, the
// access log recorder and the HTTP router from cfg.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	a := &App{}

	switch cfg.Store.Driver {
	case config.DriverMemory:
		m := storage.NewMemoryStore()
		if cfg.Store.SeedFile != "" {
			if err := m.LoadSeedFile(cfg.Store.SeedFile); err != nil {
				return nil, err
			}
		}
		a.store = m
	default:
		pg, err := storage.New(ctx, cfg)
		if err != nil {
			return nil, err
		}
		a.pg, a.store = pg, pg
	}

	a.Index = storage.NewCampaignIndex(a.store)
	if err := a.Index.Refresh(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("initial campaign load: %w", err)
	}
	log.Info().Int("campaigns", a.Index.Len()).Str("driver", cfg.Store.Driver).Msg("campaign index loaded")

	var lookup detect.CountryLookup
	if cfg.Geo.Lookup.Enabled {
		lookup = geoip.New(geoip.Options{
			BaseURL:       cfg.Geo.Lookup.URL,
			Timeout:       cfg.GeoTimeout(),
			RatePerMinute: cfg.Geo.Lookup.RatePerMinute,
		})
		log.Info().Str("url", cfg.Geo.Lookup.URL).Msg("geo-ip fallback enabled")
	}
	pipeline := engine.NewPipeline(lookup, cfg.OriginLock.ClickIDParams...)

	a.Recorder = accesslog.New(a.store, accesslog.Options{
		Workers:      cfg.AccessLog.Workers,
		QueueSize:    cfg.AccessLog.QueueSize,
		WriteTimeout: cfg.LogWriteTimeout(),
	})

	res := resolver.New(a.Index, pipeline, a.Recorder)
	h := api.NewHandler(res, a.store, api.Options{
		EdgeCountryHeader: cfg.Geo.EdgeHeader,
		CDNCountryHeader:  cfg.Geo.CDNHeader,
		AdminToken:        cfg.Server.AdminToken,
	})
	a.Handler = api.Router(h)
	return a, nil
}

// Start launches the background refreshers. They stop with ctx.
func (a *App) Start(ctx context.Context, cfg config.Config) {
	a.Index.StartRefresher(ctx, cfg.CacheRefresh())
	if a.pg != nil {
		go listener.ListenAndRefresh(ctx, a.pg.PgxPool(), a.Index, cfg.Listener.Channel, cfg.Backoff())
	}
}

// Close drains pending access log writes, then releases the store.
func (a *App) Close() {
	if a.Recorder != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.Recorder.Close(ctx); err != nil {
			log.Warn().Err(err).Msg("access log drain incomplete")
		}
		cancel()
	}
	if a.pg != nil {
		a.pg.Close()
	}
}

func Run(cfg config.Config) error {
	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := Build(rootCtx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	a.Start(rootCtx, cfg)

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      a.Handler,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Msg("http server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-waitForSignal():
		log.Info().Msg("shutdown...")
	case err := <-errCh:
		return fmt.Errorf("server crashed: %w", err)
	}

	shCtx, shCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shCancel()
	cancel() // stop background goroutines
	return srv.Shutdown(shCtx)
}

func waitForSignal() <-chan os.Signal {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	return c
}
