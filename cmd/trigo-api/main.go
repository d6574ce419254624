// README: Entry point; loads config, wires stores, sinks and services, serves HTTP until signaled.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"trigo/internal/config"
	httptransport "trigo/internal/http"
	"trigo/internal/infra"
	"trigo/internal/logging"
	"trigo/internal/maps"
	"trigo/internal/modules/driver"
	"trigo/internal/modules/matching"
	"trigo/internal/modules/notify"
	"trigo/internal/modules/place"
	"trigo/internal/modules/pricing"
	"trigo/internal/modules/ride"
	"trigo/internal/types"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("load config")
	}
	log := logging.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.WithError(err).Fatal("trigo-api stopped")
	}
}

type stores struct {
	rides   ride.Repository
	drivers driver.Repository
	places  place.Directory
	db      *pgxpool.Pool
}

func run(ctx context.Context, cfg config.Config, log *logrus.Logger) error {
	verifier, err := newVerifier(ctx, cfg)
	if err != nil {
		return err
	}

	st, err := openStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	if st.db != nil {
		defer st.db.Close()
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient, err = infra.NewRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password)
		if err != nil {
			return err
		}
		defer redisClient.Close()
	}

	var google place.GoogleLookup
	if cfg.Maps.APIKey != "" {
		ps, err := maps.NewPlacesService(cfg.Maps.APIKey)
		if err != nil {
			return fmt.Errorf("maps client: %w", err)
		}
		google = ps
	}
	var cache place.Cache
	if redisClient != nil {
		cache = place.NewRedisCache(redisClient, cfg.Redis.PlaceTTL)
	}
	placeSvc := place.NewService(st.places, google, cache, log)

	sinks := []notify.Sink{notify.NewLogSink(log)}
	if st.db != nil {
		sinks = append(sinks, notify.NewPGSink(st.db))
	}
	if redisClient != nil {
		sinks = append(sinks, notify.NewRedisSink(redisClient, cfg.Redis.EventChannel))
	}
	if len(cfg.Kafka.Brokers) > 0 {
		writer := infra.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer writer.Close()
		sinks = append(sinks, notify.NewKafkaSink(writer))
	}
	if cfg.Firebase.Push {
		fcm, err := infra.NewFirebaseMessaging(ctx, cfg.Firebase.ProjectID, cfg.Firebase.CredentialsFile)
		if err != nil {
			return err
		}
		sinks = append(sinks, notify.NewPushSink(fcm))
	}

	pricingSvc := pricing.NewService(pricing.Rate{
		BaseFare: cfg.Fare.Base,
		PerKm:    cfg.Fare.PerKm,
		Currency: cfg.Fare.Currency,
	})
	rideSvc := ride.NewService(ride.ServiceDeps{
		Store:   st.rides,
		Drivers: st.drivers,
		Places:  placeSvc,
		Pricing: pricingSvc,
		Events:  notify.NewFanout(sinks...),
		Log:     log,
	})
	driverSvc := driver.NewService(st.drivers, placeSvc, log)
	matchingSvc := matching.NewService(st.rides, st.drivers, placeSvc, cfg.Matching, log)

	if redisClient != nil {
		idx := matching.NewGeoIndex(redisClient)
		profiles, err := st.drivers.ListMatchable(ctx)
		if err == nil {
			err = idx.Rebuild(ctx, profiles)
		}
		if err != nil {
			log.WithError(err).Warn("driver position index rebuild failed")
		}
		driverSvc.WithIndex(idx)
		matchingSvc.WithIndex(idx)
	}

	router := httptransport.NewRouter(httptransport.RouterDeps{
		Rides:    rideSvc,
		Drivers:  driverSvc,
		Matching: matchingSvc,
		Pricing:  pricingSvc,
		Verifier: verifier,
		Log:      log,

		CORSOrigins: cfg.CORSOrigins,
	})

	log.WithFields(logrus.Fields{
		"store":     cfg.Store,
		"auth_mode": cfg.Auth.Mode,
		"redis":     redisClient != nil,
		"kafka":     len(cfg.Kafka.Brokers) > 0,
		"maps":      google != nil,
	}).Info("trigo-api configured")

	return httptransport.NewServer(cfg.HTTP.Addr, router, cfg.HTTP.ShutdownTimeout, log).Run(ctx)
}

func newVerifier(ctx context.Context, cfg config.Config) (infra.TokenVerifier, error) {
	switch cfg.Auth.Mode {
	case "firebase":
		v, err := infra.NewFirebaseVerifier(ctx, cfg.Firebase.ProjectID, cfg.Firebase.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("firebase init: %w", err)
		}
		return v, nil
	default:
		return infra.NewJWTVerifier(cfg.Auth.JWTSecret), nil
	}
}

func openStores(ctx context.Context, cfg config.Config, log logrus.FieldLogger) (stores, error) {
	if cfg.Store == "memory" {
		drivers := driver.NewMemStore()
		for _, id := range cfg.SeedDrivers {
			if err := drivers.Upsert(ctx, driver.Profile{UserID: types.ID(id), Approval: driver.ApprovalApproved}); err != nil {
				return stores{}, err
			}
		}
		log.WithField("seed_drivers", len(cfg.SeedDrivers)).Warn("using in-memory stores; data is lost on restart")
		return stores{rides: ride.NewMemStore(), drivers: drivers, places: place.NewMemStore()}, nil
	}

	db, err := infra.NewDB(ctx, cfg.DB.DSN)
	if err != nil {
		return stores{}, err
	}
	if cfg.DB.RunMigrations {
		migrateCtx, cancel := context.WithTimeout(ctx, time.Minute)
		defer cancel()
		if err := infra.ApplyMigrations(migrateCtx, db, cfg.DB.MigrationsDir); err != nil {
			db.Close()
			return stores{}, fmt.Errorf("apply migrations: %w", err)
		}
		log.WithField("dir", cfg.DB.MigrationsDir).Info("migrations applied")
	}
	return stores{
		rides:   ride.NewStore(db),
		drivers: driver.NewStore(db),
		places:  place.NewStore(db),
		db:      db,
	}, nil
}
