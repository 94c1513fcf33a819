// Command server wires the stamping core: configuration, storage, the
// provider adapter, domain services, and the HTTP surface. Business logic
// lives in the internal services; main only assembles and supervises.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"timbre/internal/admin"
	"timbre/internal/audit"
	"timbre/internal/certificate/crypto"
	certhandler "timbre/internal/certificate/handler"
	"timbre/internal/certificate/matcher"
	certservice "timbre/internal/certificate/service"
	certstore "timbre/internal/certificate/store/certificate"
	"timbre/internal/certificate/validator"
	httpapi "timbre/internal/http"
	"timbre/internal/invoice/builder"
	invoicehandler "timbre/internal/invoice/handler"
	invoicemetrics "timbre/internal/invoice/metrics"
	invoiceservice "timbre/internal/invoice/service"
	invoicestore "timbre/internal/invoice/store/invoice"
	"timbre/internal/notify"
	"timbre/internal/platform/config"
	"timbre/internal/platform/httpserver"
	"timbre/internal/platform/logger"
	platformredis "timbre/internal/platform/redis"
	"timbre/internal/provider"
	"timbre/internal/provider/facturama"
	"timbre/internal/provider/orgs"
)

// reconcileInterval paces the background sweep for invoices orphaned
// mid-stamp.
const reconcileInterval = time.Minute

// auditBuffer bounds the audit event channel so a slow sink applies
// backpressure instead of growing without limit.
const auditBuffer = 256

func main() {
	log := logger.New()
	if err := run(log); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(log *slog.Logger) error {
	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Storage. An empty database URL runs everything in memory, which is
	// enough for local development against the provider sandbox.
	var (
		pool       *pgxpool.Pool
		certs      certservice.CertificateStore
		invoices   invoiceservice.InvoiceStore
		orgStore   orgs.Store
		auditStore audit.Store
	)
	if cfg.Database.URL != "" {
		pool, err = pgxpool.New(ctx, cfg.Database.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
		certs = certstore.NewPostgres(pool)
		invoices = invoicestore.NewPostgres(pool)
		orgStore = orgs.NewPostgres(pool)
		auditStore = audit.NewPostgres(pool)
	} else {
		log.Warn("TIMBRE_DATABASE_URL not set, using in-memory stores")
		certs = certstore.NewInMemory()
		invoices = invoicestore.NewInMemory()
		orgStore = orgs.NewInMemory()
		auditStore = audit.NewInMemory()
	}

	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
	}
	orgStore = orgs.NewCached(orgStore, redisClient, cfg.PAC.OrgCacheTTL, cfg.PAC.APIKeyCacheTTL)

	// Provider adapter behind the registry so alternative PACs slot in by
	// configuration.
	registry := provider.NewRegistry()
	facturamaClient := facturama.NewClient(cfg.PAC.BaseURL, cfg.PAC.Username, cfg.PAC.Password, cfg.PAC.RequestTimeout)
	if err := registry.Register(facturama.New(facturamaClient, orgStore)); err != nil {
		return err
	}
	adapter, err := registry.Get(cfg.PAC.Name)
	if err != nil {
		return err
	}

	// Audit events flow through a channel to a background worker so domain
	// writes never block on the sink.
	events := make(chan audit.Event, auditBuffer)
	worker := audit.NewWorker(auditStore, events, log)
	go func() {
		if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("audit worker stopped", "error", err)
		}
	}()
	auditor := audit.NewPublisher(audit.NewChannelStore(events))

	envelope, err := crypto.NewService(crypto.MasterSecrets{
		Current: cfg.Secrets.Current,
		Next:    cfg.Secrets.Next,
	})
	if err != nil {
		return err
	}

	notifier := notify.NewLogDispatcher(log)
	metrics := invoicemetrics.New()

	certService := certservice.New(
		certs, envelope,
		validator.New(matcher.New(matcher.DefaultThreshold)),
		adapter,
		certservice.WithLogger(log),
		certservice.WithAuditPublisher(auditor),
		certservice.WithNotifier(notifier),
	)
	invoiceService := invoiceservice.New(
		invoices, certs, builder.New(), adapter,
		invoiceservice.WithLogger(log),
		invoiceservice.WithAuditPublisher(auditor),
		invoiceservice.WithNotifier(notifier),
		invoiceservice.WithMetrics(metrics),
	)

	go reconcileLoop(ctx, log, invoiceService)

	health := []httpapi.Check{
		{Name: "provider", Checker: adapter},
	}
	if pool != nil {
		health = append(health, httpapi.Check{
			Name:    "postgres",
			Checker: httpapi.HealthCheckerFunc(pool.Ping),
		})
	}
	if redisClient != nil {
		health = append(health, httpapi.Check{Name: "redis", Checker: redisClient})
	}

	router := httpapi.NewRouter(httpapi.Deps{
		Certificates: certhandler.New(certService, log),
		Invoices:     invoicehandler.New(invoiceService, log),
		Admin:        admin.New(invoiceService, certService, log),
		AdminToken:   cfg.Server.AdminToken,
		Health:       health,
	})

	srv := httpserver.New(cfg.Server.Addr, router)
	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", cfg.Server.Addr, "provider", adapter.Name())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// reconcileLoop periodically recovers invoices left in the stamping state by
// a crash between the provider call and the local finalize.
func reconcileLoop(ctx context.Context, log *slog.Logger, invoices *invoiceservice.Service) {
	ticker := time.NewTicker(reconcileInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			recovered, err := invoices.ReconcilePending(ctx)
			if err != nil {
				log.Warn("reconciliation sweep failed", "error", err)
				continue
			}
			if recovered > 0 {
				log.Info("reconciliation recovered invoices", "count", recovered)
			}
		}
	}
}
