package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	adactor "github.com/berfenger/cozylife2mqtt/internal/adapter/actor"
	"github.com/berfenger/cozylife2mqtt/internal/adapter/influx"
	"github.com/berfenger/cozylife2mqtt/internal/adapter/store"
	"github.com/berfenger/cozylife2mqtt/internal/config"
	"github.com/berfenger/cozylife2mqtt/internal/core/actor"
	"github.com/berfenger/cozylife2mqtt/internal/core/configflow"
	"github.com/berfenger/cozylife2mqtt/internal/core/port"
	"github.com/berfenger/cozylife2mqtt/internal/core/service"
	"github.com/berfenger/cozylife2mqtt/internal/server"
	"github.com/berfenger/cozylife2mqtt/internal/util/actorutil"

	pactor "github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"go.uber.org/zap"
)

func gracefulShutdown(apiServer *http.Server, done chan bool) {
	// Create context that listens for the interrupt signal from the OS.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Listen for the interrupt signal.
	<-ctx.Done()

	log.Println("shutting down gracefully, press Ctrl+C again to force")

	// The context is used to inform the server it has 5 seconds to finish
	// the request it is currently handling
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown with error: %v", err)
	}

	log.Println("Server exiting")

	// Notify the main goroutine that the shutdown is complete
	done <- true
}

func serve() error {
	safePrintConfig(*cfg)

	recordStore, err := store.NewSQLiteStore(cfg.Storage.Path, logger)
	if err != nil {
		return err
	}
	defer recordStore.Close()

	jobs, err := configflow.NewJobQueue(cfg.Import.WorkerLimit, logger)
	if err != nil {
		return err
	}
	defer jobs.Stop()

	proxyFactory := service.DeviceProxyFactory(cfg.Devices, logger)
	platforms := []port.EntityPlatform{
		service.NewSwitchPlatform(cfg, proxyFactory, logger),
		service.NewSensorPlatform(cfg, proxyFactory, logger),
	}

	influxWriter, err := influx.NewWriter(cfg.Influx, logger)
	switch {
	case errors.Is(err, influx.ErrDisabled):
		logger.Info("influx sink disabled")
	case err != nil:
		// measurements are optional, keep bridging without them
		logger.Error("influx sink unavailable", zap.Error(err))
	default:
		defer influxWriter.Close()
	}

	// init actor system
	as := actorutil.NewActorSystemWithZapLogger(logger)
	ctx := as.Root

	props := pactor.PropsFromProducer(func() pactor.Actor {
		return actor.NewMasterOfPuppetsActor(*cfg, recordStore, platforms, mqttActorProvider(cfg, logger),
			influxActorProvider(influxWriter, logger), nil, logger)
	})
	pid, err := ctx.SpawnNamed(props, "master")
	if err != nil {
		return err
	}

	notifier := actor.NewMasterNotifier(ctx, pid)
	flows := configflow.NewFlowManager(cfg, recordStore, proxyFactory, jobs, notifier, logger)

	apiServer := server.NewServer(*cfg, ctx, pid, flows, notifier, logger)
	// Create a done channel to signal when the shutdown is complete
	done := make(chan bool, 1)

	// Run graceful shutdown in a separate goroutine
	go gracefulShutdown(apiServer, done)

	err = apiServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server error: %w", err)
	}

	// Wait for the graceful shutdown to complete
	<-done
	log.Println("Graceful shutdown complete.")

	// wait for device actors to close their proxies and the sink to flush
	if err := ctx.StopFuture(pid).Wait(); err != nil {
		logger.Warn("master did not stop in time", zap.Error(err))
	}
	as.Shutdown()
	return nil
}

func mqttActorProvider(cfg *config.Config, logger *zap.Logger) actor.MQTTActorProvider {
	return func(es *eventstream.EventStream) *adactor.MQTTActor {
		return adactor.NewMQTTActor(cfg, es, logger)
	}
}

func influxActorProvider(writer *influx.Writer, logger *zap.Logger) actor.InfluxActorProvider {
	if writer == nil {
		return nil
	}
	return func(es *eventstream.EventStream) *adactor.InfluxActor {
		return adactor.NewInfluxActor(writer, es, logger)
	}
}
