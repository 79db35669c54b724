// README: Entry point; loads config, wires services, starts HTTP server
// and background schedulers.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"wheels/internal/config"
	"wheels/internal/events"
	httptransport "wheels/internal/http"
	"wheels/internal/infra"
	"wheels/internal/logging"
	"wheels/internal/maps"
	"wheels/internal/modules/match"
	"wheels/internal/modules/offer"
	"wheels/internal/modules/pool"
	"wheels/internal/modules/trip"
	"wheels/internal/notify"
	"wheels/internal/types"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}
	log := logging.NewLogger(cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbPool, err := infra.NewDB(ctx, cfg.DB.DSN)
	if err != nil {
		log.Error("db init", "err", err)
		os.Exit(1)
	}
	defer dbPool.Close()

	redisClient := infra.NewRedis(cfg.Redis.Addr)
	defer redisClient.Close()

	publisher := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
	defer publisher.Close()

	hub := notify.NewHub(log)

	var primary maps.Provider
	if cfg.Maps.APIKey != "" {
		google, err := maps.NewGoogle(cfg.Maps.APIKey)
		if err != nil {
			log.Error("maps init", "err", err)
			os.Exit(1)
		}
		primary = maps.NewCache(google, time.Duration(cfg.Maps.CacheTTLMinutes)*time.Minute)
	} else {
		log.Warn("no maps api key, using geometric estimates only")
	}
	provider := maps.NewFailover(primary, log)

	university := types.Stop{
		Address: cfg.University.Address,
		Point:   types.Point{Lat: cfg.University.Lat, Lng: cfg.University.Lng},
	}

	poolStore := pool.NewPgStore(dbPool, redisClient)
	poolSvc := pool.NewService(poolStore, cfg.Matching, log)

	statsStore := match.NewPgStatsStore(dbPool)
	matchSvc := match.NewService(provider, statsStore, cfg.Matching.Weights, log)
	scheduler := match.NewScheduler(
		poolSvc, matchSvc, match.NewRedisDispatchLog(redisClient),
		publisher, hub, cfg.Matching, log,
	)

	offerStore := offer.NewPgStore(dbPool)
	offerSvc := offer.NewService(offerStore, poolStore, poolSvc, statsStore, publisher, hub, cfg.Matching, log)

	tripStore := trip.NewPgStore(dbPool)
	tripSvc := trip.NewService(tripStore, offerStore, poolSvc, provider, university, publisher, hub, statsStore, log)

	handler := httptransport.NewServer(httptransport.ServerDeps{
		Pool:  poolSvc,
		Match: matchSvc,
		Offer: offerSvc,
		Trip:  tripSvc,
		Hub:   hub,
		Log:   log,
	})

	server := &http.Server{Addr: cfg.HTTP.Addr, Handler: handler.Routes()}

	go poolSvc.RunExpireTicker(ctx)
	go offerSvc.RunExpireTicker(ctx)
	go scheduler.Run(ctx)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	log.Info("listening", "addr", cfg.HTTP.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("http server", "err", err)
		os.Exit(1)
	}
}
