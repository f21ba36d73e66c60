// Package main запускает HTTP-сервер и фоновые свипы аукционного сервиса.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/neo1415/salvage-management-system-sub002/internal/audit"
	"github.com/neo1415/salvage-management-system-sub002/internal/bidding"
	"github.com/neo1415/salvage-management-system-sub002/internal/broadcast"
	"github.com/neo1415/salvage-management-system-sub002/internal/clock"
	"github.com/neo1415/salvage-management-system-sub002/internal/closure"
	"github.com/neo1415/salvage-management-system-sub002/internal/config"
	"github.com/neo1415/salvage-management-system-sub002/internal/fraud"
	"github.com/neo1415/salvage-management-system-sub002/internal/handler"
	"github.com/neo1415/salvage-management-system-sub002/internal/middleware"
	"github.com/neo1415/salvage-management-system-sub002/internal/mq"
	"github.com/neo1415/salvage-management-system-sub002/internal/notify"
	"github.com/neo1415/salvage-management-system-sub002/internal/repository"
	"github.com/neo1415/salvage-management-system-sub002/internal/settlement"
	"github.com/neo1415/salvage-management-system-sub002/internal/settlement/provider"
	"github.com/neo1415/salvage-management-system-sub002/internal/tracing"
	"github.com/neo1415/salvage-management-system-sub002/internal/worker"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	shutdownTracing, err := tracing.Init(context.Background(), tracing.Config{
		ServiceName: cfg.ServiceName,
		Enabled:     cfg.TracingEnabled,
		Endpoint:    cfg.TracingEndpoint,
		Insecure:    cfg.TracingInsecure,
	})
	if err != nil {
		sugar.Fatalw("tracing initialization error", "error", err.Error())
	}

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}
	defer repo.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Без брокера аудит и уведомления пишутся в лог.
	var (
		sink       audit.Sink        = audit.NewLogSink(logger)
		dispatcher notify.Dispatcher = notify.NewLogDispatcher(logger)
	)
	if cfg.AMQPURL != "" {
		pub, err := mq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			sugar.Fatalw("message broker initialization error", "error", err.Error())
		}
		defer pub.Close()
		sink = audit.NewPublisherSink(pub)
		dispatcher = notify.NewBrokerDispatcher(pub)
	}

	var broadcaster broadcast.Broadcaster = broadcast.Nop{}
	if cfg.RedisAddr != "" {
		rb, err := broadcast.NewRedisBroadcaster(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			sugar.Fatalw("redis initialization error", "error", err.Error())
		}
		defer rb.Close()
		broadcaster = rb
	}

	clk := clock.Real{}
	recorder := audit.NewRecorder(sink, logger)

	detector, err := fraud.NewDetector(repo, clk)
	if err != nil {
		sugar.Fatalw("fraud detector initialization error", "error", err.Error())
	}

	providers := newProviderRegistry(cfg)
	if len(providers.Names()) == 0 {
		sugar.Warn("no payment providers configured, payments and webhooks are disabled")
	}

	biddingSvc := bidding.NewService(repo, detector, broadcaster, recorder, clk, logger)
	closureSvc := closure.NewService(repo, clk, recorder, dispatcher, logger, closure.Options{
		PaymentMethod: cfg.DefaultPaymentMethod,
		Currency:      cfg.SettlementCurrency,
	})
	settlementSvc := settlement.NewService(repo, providers, clk, recorder, dispatcher, logger, settlement.Options{
		Currency:        cfg.SettlementCurrency,
		DefaultMethod:   cfg.DefaultPaymentMethod,
		CallbackURL:     cfg.CheckoutCallbackURL,
		ProviderTimeout: cfg.ProviderTimeout,
	})
	suspender := fraud.NewAutoSuspender(repo, clk, recorder, logger, fraud.Policy{
		FlagThreshold:    cfg.FraudFlagThreshold,
		SuspensionWindow: cfg.SuspensionWindow,
	})

	authMiddleware := middleware.NewAuthMiddleware(cfg.AuthSecret)
	h := handler.NewHandler(handler.Services{
		Bidding:    biddingSvc,
		Closure:    closureSvc,
		Settlement: settlementSvc,
		Suspender:  suspender,
		Health:     repo,
	}, logger, authMiddleware)

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           h.SetupRouter(cfg.CORSAllowedOrigins...),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	// Закрытие истёкших аукционов, активация запланированных и просрочка счетов
	g.Go(func() error {
		worker.Run(ctx, "closure", cfg.SweepInterval, logger, closureSvc.Tick)
		return nil
	})

	// Автоприостановка поставщиков по флагам антифрода
	g.Go(func() error {
		worker.Run(ctx, "suspend", cfg.SuspendSweepInterval, logger, func(ctx context.Context) error {
			res, err := suspender.Sweep(ctx)
			if err != nil {
				return err
			}
			if res.Total > 0 {
				logger.Info("suspend sweep finished",
					zap.Int("total", res.Total),
					zap.Int("succeeded", res.Succeeded),
					zap.Int("failed", res.Failed),
					zap.Int("skipped", res.Skipped),
				)
			}
			return nil
		})
		return nil
	})

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting auction server", "addr", cfg.RunAddress, "providers", providers.Names())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		if err := shutdownTracing(shutdownCtx); err != nil {
			sugar.Warnw("tracing shutdown error", "error", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}

func newProviderRegistry(cfg *config.Config) *provider.Registry {
	var ps []provider.Provider
	if cfg.PaystackSecretKey != "" {
		ps = append(ps, provider.NewPaystack(cfg.PaystackSecretKey, cfg.PaystackBaseURL, cfg.ProviderTimeout))
	}
	if cfg.FlutterwaveSecretKey != "" {
		ps = append(ps, provider.NewFlutterwave(cfg.FlutterwaveSecretKey, cfg.FlutterwaveWebhookSecret, cfg.FlutterwaveBaseURL, cfg.ProviderTimeout))
	}
	return provider.NewRegistry(ps...)
}
