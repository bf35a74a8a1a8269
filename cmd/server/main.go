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

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiwari-pos/engine/internal/backend"
	"github.com/kiwari-pos/engine/internal/config"
	"github.com/kiwari-pos/engine/internal/guard"
	"github.com/kiwari-pos/engine/internal/logger"
	"github.com/kiwari-pos/engine/internal/notify"
	"github.com/kiwari-pos/engine/internal/poller"
	"github.com/kiwari-pos/engine/internal/queue"
	"github.com/kiwari-pos/engine/internal/reconcile"
	"github.com/kiwari-pos/engine/internal/router"
	"github.com/kiwari-pos/engine/internal/service"
	"github.com/kiwari-pos/engine/internal/ws"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg.LogLevel, cfg.LogJSON)

	if err := run(cfg, log); err != nil {
		log.WithError(err).Fatal("server exited")
	}
}

func run(cfg *config.Config, log *logrus.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	client := backend.New(cfg.BackendURL, cfg.BackendToken, cfg.BackendTimeout)
	g := guard.New()

	q, err := queue.Open(ctx, store, cfg.QueueNamespace, g, log)
	if err != nil {
		return err
	}
	log.WithField("pending", q.Len()).Infof("offline queue loaded (%s store)", cfg.QueueStore)

	cache := reconcile.NewCache(client, log)

	hub := ws.NewHub()
	emitter := notify.NewEmitter(log, q.Len, hub)
	var amqpSink *notify.AMQPSink
	if cfg.AMQPURL != "" {
		amqpSink, err = notify.DialAMQP(cfg.AMQPURL, log)
		if err != nil {
			return fmt.Errorf("amqp: %w", err)
		}
		defer amqpSink.Close()
		emitter.AddSink(amqpSink)
		log.WithField("exchange", notify.Exchange).Info("notification fan-out enabled")
	}

	svc := service.NewOrderService(client, cache, q, g, nil, log)

	p := poller.New(cache, emitter.Handle, log)
	for _, v := range poller.DefaultViews(cfg.BadgePollInterval, cfg.KitchenPollInterval, cfg.TablePollInterval, cfg.DashboardPollInterval) {
		if err := p.Mount(v); err != nil {
			return fmt.Errorf("mount %s: %w", v.Name, err)
		}
	}
	defer p.Stop()
	svc.SetReconciler(p)

	srv := &http.Server{
		Addr: fmt.Sprintf(":%s", cfg.Port),
		Handler: router.New(cfg, router.Deps{
			Service: svc,
			Cache:   cache,
			Notify:  emitter,
			Hub:     hub,
			Log:     log,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		hub.Run(ctx)
		return nil
	})
	if amqpSink != nil {
		eg.Go(func() error {
			amqpSink.Run(ctx)
			return nil
		})
	}
	eg.Go(func() error {
		// Entries left from a previous run go out once the backend answers.
		if q.Len() > 0 {
			rep := svc.RetryAll(ctx)
			log.WithFields(logrus.Fields{
				"succeeded": rep.Succeeded,
				"failed":    rep.Failed,
				"dropped":   rep.Dropped,
			}).Info("startup replay finished")
		}
		return nil
	})
	eg.Go(func() error {
		log.Infof("Starting server on :%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	eg.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		log.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return eg.Wait()
}

// openStore picks the durable home of the offline queue.
func openStore(ctx context.Context, cfg *config.Config) (queue.Store, func(), error) {
	switch cfg.QueueStore {
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect database: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("ping database: %w", err)
		}
		store := queue.NewPostgresStore(pool)
		if err := store.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return store, pool.Close, nil
	case "file", "":
		store, err := queue.NewFileStore(cfg.QueueDir)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown QUEUE_STORE %q", cfg.QueueStore)
	}
}
