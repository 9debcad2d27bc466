package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/vehicle-care/internal/auth"
	"github.com/ukydev/vehicle-care/internal/config"
	"github.com/ukydev/vehicle-care/internal/db"
	"github.com/ukydev/vehicle-care/internal/events"
	"github.com/ukydev/vehicle-care/internal/handlers"
	"github.com/ukydev/vehicle-care/internal/logging"
	"github.com/ukydev/vehicle-care/internal/middleware"
	"github.com/ukydev/vehicle-care/internal/notify"
	"github.com/ukydev/vehicle-care/internal/service"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("Failed to load configuration")
	}
	logging.Setup(cfg.LogLevel, cfg.IsProduction())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.WithError(err).Fatal("Server stopped")
	}
	log.Info("Server stopped")
}

// stores bundles the collections of one backend with its health probe.
type stores struct {
	vehicles db.VehicleCollection
	history  db.ServiceRecordCollection
	users    db.UserCollection
	health   handlers.HealthCheck
	close    func(context.Context) error
}

func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	if cfg.Store == config.StoreMemory {
		log.Warn("Using in-memory store, data is lost on restart")
		return &stores{
			vehicles: db.NewMemoryVehicleCollection(),
			history:  db.NewMemoryServiceRecordCollection(),
			users:    db.NewMemoryUserCollection(),
			close:    func(context.Context) error { return nil },
		}, nil
	}

	client, err := db.ConnectMongo(ctx, cfg.MongoURI)
	if err != nil {
		return nil, err
	}
	database := client.Database(cfg.MongoDB)
	if err := db.EnsureIndexes(ctx, database); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	log.WithFields(log.Fields{"database": cfg.MongoDB}).Info("Connected to MongoDB")

	return &stores{
		vehicles: &db.MongoVehicleCollection{Collection: database.Collection(db.VehiclesCollection)},
		history:  &db.MongoServiceRecordCollection{Collection: database.Collection(db.ServiceRecordsCollection)},
		users:    &db.MongoUserCollection{Collection: database.Collection(db.UsersCollection)},
		health: func(ctx context.Context) error {
			return client.Ping(ctx, nil)
		},
		close: client.Disconnect,
	}, nil
}

// newPublisher connects to the MQTT broker when one is configured. A broker
// that cannot be reached degrades to logging the notifications.
func newPublisher(cfg *config.Config) notify.Publisher {
	logger := logging.Component("notify")
	if cfg.MQTTBroker == "" {
		return notify.NewLogPublisher(logger)
	}
	p, err := notify.NewMQTTPublisher(cfg.MQTTBroker, cfg.MQTTClientID)
	if err != nil {
		logger.WithError(err).Warn("MQTT unavailable, logging due notifications instead")
		return notify.NewLogPublisher(logger)
	}
	logger.WithField("broker", cfg.MQTTBroker).Info("Publishing due notifications over MQTT")
	return p
}

type app struct {
	handler http.Handler
	close   func(context.Context)
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	planner, err := cfg.Planner()
	if err != nil {
		return nil, err
	}

	st, err := openStores(ctx, cfg)
	if err != nil {
		return nil, err
	}

	publisher := newPublisher(cfg)
	bus := events.NewBus(logging.Component("events"))
	stopNotifier := notify.NewDueNotifier(planner, publisher, logging.Component("notify")).Attach(bus)

	vehicles := service.NewVehicleService(st.vehicles, st.history, planner, bus, logging.Component("vehicles"))
	authService := auth.NewService(cfg.JWTSecret, cfg.JWTExpiry)

	router := handlers.NewRouter(handlers.RouterConfig{
		Auth:              handlers.NewAuthHandler(authService, st.users),
		Vehicles:          handlers.NewVehicleHandler(vehicles),
		Health:            handlers.Health(cfg.Store, st.health),
		AuthMW:            middleware.NewAuthMiddleware(authService),
		RateLimit:         middleware.NewRateLimitMiddleware(cfg.TrustProxy),
		RateLimitRequests: cfg.RateLimitRequests,
		RateLimitWindow:   cfg.RateLimitWindow,
		Logger:            logging.Component("http"),
	})

	log.WithFields(log.Fields{
		"store":    cfg.Store,
		"services": planner.Catalog().Len(),
		"horizon":  planner.Policy().Horizon,
	}).Info("Scheduler configured")

	return &app{
		handler: router,
		close: func(ctx context.Context) {
			stopNotifier()
			publisher.Close()
			if err := st.close(ctx); err != nil {
				log.WithError(err).Warn("Failed to close store")
			}
		},
	}, nil
}

// run serves the API until ctx is cancelled, then shuts down gracefully.
func run(ctx context.Context, cfg *config.Config) error {
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		a.close(closeCtx)
	}()

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.WithField("addr", srv.Addr).Info("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
