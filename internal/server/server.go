package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/berfenger/cozylife2mqtt/internal/config"
	"github.com/berfenger/cozylife2mqtt/internal/core/configflow"
	"github.com/berfenger/cozylife2mqtt/internal/core/domain"

	"github.com/asynkron/protoactor-go/actor"
	_ "github.com/joho/godotenv/autoload"
	"go.uber.org/zap"
)

// EntityStateReader returns the live entity states of a record, or of every record when ip is empty.
type EntityStateReader interface {
	EntityStates(ip string, timeout time.Duration) ([]domain.EntityState, error)
}

type Server struct {
	port        uint
	httpLog     bool
	rootContext *actor.RootContext
	masterActor *actor.PID
	flows       *configflow.FlowManager
	states      EntityStateReader
	logger      *zap.Logger
}

func NewServer(cfg config.Config, rootContext *actor.RootContext, masterActor *actor.PID,
	flows *configflow.FlowManager, states EntityStateReader, logger *zap.Logger) *http.Server {
	NewServer := &Server{
		port:        cfg.Port,
		rootContext: rootContext,
		masterActor: masterActor,
		httpLog:     cfg.HttpLog,
		flows:       flows,
		states:      states,
		logger:      logger.With(zap.String("component", "api")),
	}

	// Declare Server config
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", NewServer.port),
		Handler:      NewServer.RegisterRoutes(),
		IdleTimeout:  time.Minute,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	return server
}
