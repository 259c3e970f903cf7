package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/portalgate/portalgate/pkg/authtransport"
	"github.com/portalgate/portalgate/pkg/config"
	"github.com/portalgate/portalgate/pkg/guard"
	"github.com/portalgate/portalgate/pkg/idp"
	"github.com/portalgate/portalgate/pkg/navigation"
	"github.com/portalgate/portalgate/pkg/observability"
	"github.com/portalgate/portalgate/pkg/session"
	"github.com/portalgate/portalgate/pkg/users"
	"github.com/portalgate/portalgate/pkg/web"
)

// initTimeout bounds the identity provider discovery at startup
const initTimeout = 30 * time.Second

func main() {
	configPath := flag.String("config", "", "Path to YAML config file (optional, env vars override)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "portalgate: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, nil)

	var (
		registry *prometheus.Registry
		metrics  *observability.Metrics
	)
	if cfg.Observability.MetricsEnabled {
		registry = prometheus.NewRegistry()
		metrics = observability.NewMetrics(registry)
	}

	identity, err := idp.New(&idp.Config{
		IssuerURL:        cfg.Identity.IssuerURL,
		ClientID:         cfg.Identity.ClientID,
		ClientSecret:     cfg.Identity.ClientSecret,
		RedirectURL:      cfg.Identity.RedirectURL,
		Scopes:           cfg.Identity.Scopes,
		RefreshInterval:  cfg.Identity.RefreshInterval,
		MinTokenValidity: cfg.Identity.MinTokenValidity,
	}, logger, metrics)
	if err != nil {
		return fmt.Errorf("failed to create identity client: %w", err)
	}

	sessions := session.NewManager(identity, logger, metrics)
	bus := navigation.NewBus()

	// Outbound pipeline: otel instrumentation under the authorization layer,
	// so retried requests are traced as separate spans.
	pipeline := authtransport.New(
		otelhttp.NewTransport(http.DefaultTransport),
		identity, bus, logger, metrics,
	)
	apiClient := &http.Client{
		Transport: pipeline,
		Timeout:   cfg.API.Timeout,
	}

	usersClient, err := users.NewClient(apiClient, cfg.API.BaseURL, logger, metrics)
	if err != nil {
		return fmt.Errorf("failed to create user service client: %w", err)
	}
	sessions.OnInvalidate(usersClient.PurgeCache)

	// Discovery failures degrade to an unauthenticated gateway rather than
	// failing startup.
	initCtx, cancel := context.WithTimeout(context.Background(), initTimeout)
	err = sessions.Initialize(initCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("failed to initialize session manager: %w", err)
	}

	router := web.NewRouter(web.RouterConfig{
		Handlers: web.NewHandlers(sessions, identity, usersClient, bus, logger),
		Guard:    guard.New(sessions, logger, metrics),
		Logger:   logger,
		Metrics:  metrics,
		Registry: registry,
	})

	server := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := observability.NewShutdownManager(logger, server, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		identity.Close()
		return nil
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.WithField("addr", server.Addr).Info("Gateway listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		return shutdown.Shutdown()
	})

	return group.Wait()
}
