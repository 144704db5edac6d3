package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/franckdigital/xamila-backend-sub001/internal/config"
	"github.com/franckdigital/xamila-backend-sub001/internal/factory"
	"github.com/franckdigital/xamila-backend-sub001/internal/util"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger := util.Init(cfg.Environment, "xamila-core", cfg.Logging.Level, cfg.Logging.Format)
	defer util.Sync()

	if err := run(cfg, logger.WithOptions(zap.AddCallerSkip(-1))); err != nil {
		util.Fatal("Server stopped with error", util.ErrorField(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	f, err := factory.NewFactory(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize factory: %w", err)
	}
	defer f.Close()

	router := f.Router()
	servers := buildServers(f, cfg, router)

	g, ctx := errgroup.WithContext(ctx)

	f.Start(ctx)

	for _, srv := range servers {
		g.Go(func() error {
			util.Info("Starting server",
				util.String("environment", cfg.Environment),
				util.String("address", srv.Addr),
				util.Bool("tls", srv.TLSConfig != nil),
			)
			var err error
			if srv.TLSConfig != nil {
				err = srv.ListenAndServeTLS("", "")
			} else {
				err = srv.ListenAndServe()
			}
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server %s: %w", srv.Addr, err)
			}
			return nil
		})
	}

	services := f.Services()
	g.Go(func() error {
		return every(ctx, cfg.KYC.ExpiryInterval, func(ctx context.Context) {
			n, err := services.ProfileService().ExpireDue(ctx)
			if err != nil {
				util.Error("KYC expiry sweep failed", util.ErrorField(err))
				return
			}
			if n > 0 {
				util.Info("Expired KYC approvals", util.Int("count", n))
			}
		})
	})
	g.Go(func() error {
		return every(ctx, cfg.OTP.PurgeInterval, func(ctx context.Context) {
			cutoff := time.Now().AddDate(0, 0, -cfg.OTP.PurgeRetainDays)
			n, err := services.OTPService().PurgeExpired(ctx, cutoff)
			if err != nil {
				util.Error("OTP purge failed", util.ErrorField(err))
				return
			}
			if n > 0 {
				util.Info("Purged expired OTPs", util.Int64("count", n))
			}
		})
	})

	g.Go(func() error {
		<-ctx.Done()
		util.Info("Received shutdown signal")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		for _, srv := range servers {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				util.Error("Failed to shutdown server gracefully", util.ErrorField(err), util.String("address", srv.Addr))
			} else {
				util.Info("Server shutdown completed", util.String("address", srv.Addr))
			}
		}
		return nil
	})

	return g.Wait()
}

// buildServers returns the API server, plus the ACME challenge server on
// :80 when certificates come from autocert in production.
func buildServers(f *factory.Factory, cfg *config.Config, router http.Handler) []*http.Server {
	server := &http.Server{
		Addr:         cfg.GetServerAddress(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	if !cfg.Server.EnableTLS {
		util.Warn("Starting HTTP server - TLS is disabled",
			util.String("environment", cfg.Environment),
			util.Int("port", cfg.Server.Port),
		)
		return []*http.Server{server}
	}

	tlsManager := f.TLSManager()
	server.TLSConfig = tlsManager.GetTLSConfig()
	server.Addr = fmt.Sprintf(":%d", cfg.Server.TLSPort)

	autoCertManager := tlsManager.GetAutocertManager()
	if !cfg.IsProduction() || !cfg.Server.AutoCert || autoCertManager == nil {
		return []*http.Server{server}
	}

	server.Addr = ":443"
	challenge := &http.Server{
		Addr:              ":80",
		Handler:           autoCertManager.HTTPHandler(nil),
		ReadHeaderTimeout: 10 * time.Second,
	}
	util.Info("AutoCert enabled", util.String("domain", cfg.Server.Domain))
	return []*http.Server{server, challenge}
}

// every runs fn on each tick until ctx is cancelled. A non-positive
// interval disables the job.
func every(ctx context.Context, interval time.Duration, fn func(context.Context)) error {
	if interval <= 0 {
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			fn(ctx)
		}
	}
}
