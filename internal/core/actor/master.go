package actor

import (
	"context"
	"fmt"
	"log"
	"time"

	adactor "github.com/berfenger/cozylife2mqtt/internal/adapter/actor"
	"github.com/berfenger/cozylife2mqtt/internal/config"
	"github.com/berfenger/cozylife2mqtt/internal/core/domain"
	"github.com/berfenger/cozylife2mqtt/internal/core/port"
	"github.com/berfenger/cozylife2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"go.uber.org/zap"
)

type MQTTActorProvider func(*eventstream.EventStream) *adactor.MQTTActor

// InfluxActorProvider is nil when no measurement sink is configured.
type InfluxActorProvider func(*eventstream.EventStream) *adactor.InfluxActor

type MasterOfPuppetsActor struct {
	config   config.Config
	behavior actor.Behavior
	stash    *actorutil.Stash

	currentHealthCheck  healthCheckResult
	eventStream         *eventstream.EventStream
	store               port.RecordStore
	platforms           []port.EntityPlatform
	mqttActor           *actor.PID
	haDiscoveryActor    *actor.PID
	influxActor         *actor.PID
	deviceActors        map[string][]*actor.PID
	switchActors        map[string]*actor.PID
	mqttActorProvider   MQTTActorProvider
	influxActorProvider InfluxActorProvider
	logger              *zap.Logger
}

type healthCheckResult struct {
	expected       int
	healthy        map[string]bool
	checksReceived int
	respondTo      *actor.PID
}

type recordsLoaded struct {
	Records []domain.DeviceRecord
	Err     error
}

func NewMasterOfPuppetsActor(config config.Config, store port.RecordStore, platforms []port.EntityPlatform,
	mqttActorProvider MQTTActorProvider, influxActorProvider InfluxActorProvider, eventStream *eventstream.EventStream,
	logger *zap.Logger) *MasterOfPuppetsActor {
	if eventStream == nil {
		eventStream = &eventstream.EventStream{}
	}
	act := &MasterOfPuppetsActor{
		config:              config,
		behavior:            actor.NewBehavior(),
		stash:               &actorutil.Stash{},
		logger:              actorutil.ActorLogger(domain.ACTOR_ID_MASTER, logger),
		eventStream:         eventStream,
		store:               store,
		platforms:           platforms,
		deviceActors:        make(map[string][]*actor.PID),
		switchActors:        make(map[string]*actor.PID),
		mqttActorProvider:   mqttActorProvider,
		influxActorProvider: influxActorProvider,
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *MasterOfPuppetsActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *MasterOfPuppetsActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("master@starting started")

		// start MQTT child
		mqttActorPID, err := state.startMQTTActor(ctx)
		if err != nil {
			panic(err)
		}
		state.mqttActor = mqttActorPID

		// start HA Discovery
		if state.config.MQTT.HADiscoveryEnable {
			haDiscPID, err := state.startHADiscoveryActor(ctx)
			if err != nil {
				panic(err)
			}
			state.haDiscoveryActor = haDiscPID
		}

		// start Influx sink
		if state.influxActorProvider != nil {
			influxPID, err := state.startInfluxActor(ctx)
			if err != nil {
				panic(err)
			}
			state.influxActor = influxPID
		}

		// load persisted records
		store := state.store
		actorutil.NewBackgroundTask(ctx, func() (*recordsLoaded, error) {
			records, err := store.List(context.Background())
			return &recordsLoaded{Records: records, Err: err}, nil
		}).WithTimeout(10 * time.Second).Recover(func(err error) recordsLoaded {
			return recordsLoaded{Err: err}
		}).PipeTo(ctx.Self())
	case recordsLoaded:
		if msg.Err != nil {
			state.logger.Error("master@starting could not load records", zap.Error(msg.Err))
			panic(msg.Err)
		}
		state.logger.Info("master@starting records loaded", zap.Int("count", len(msg.Records)))
		for _, record := range msg.Records {
			state.spawnRecord(ctx, record)
		}
		state.behavior.Become(state.DefaultReceive)
		state.stash.UnstashAll(ctx)
	default:
		state.logger.Debug("master@starting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MasterOfPuppetsActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		state.logger.Debug("master@default ActorHealthRequest")
		state.currentHealthCheck.reset()
		state.currentHealthCheck.respondTo = ctx.Sender()

		state.requestHealth(ctx, state.mqttActor, domain.ACTOR_ID_MQTT)
		if state.haDiscoveryActor != nil {
			state.requestHealth(ctx, state.haDiscoveryActor, domain.ACTOR_ID_HA_DISCOVERY)
		}
		if state.influxActor != nil {
			state.requestHealth(ctx, state.influxActor, domain.ACTOR_ID_INFLUX)
		}

		ctx.SetReceiveTimeout(1 * time.Second)

		state.behavior.BecomeStacked(state.HealthCheckReceive)
	case domain.RecordCreatedRequest:
		state.logger.Debug("master@default RecordCreatedRequest", zap.String("ip", msg.Record.IP))
		state.spawnRecord(ctx, msg.Record)
	case domain.RecordRemovedRequest:
		state.logger.Debug("master@default RecordRemovedRequest", zap.String("ip", msg.IP))
		pids := state.deviceActors[msg.IP]
		for _, pid := range pids {
			ctx.Send(pid, domain.RecordRemovedRequest{IP: msg.IP})
		}
		state.forget(msg.IP)
		actorutil.ForRequest(msg).Respond(ctx, domain.RecordRemovedResponse{Stopped: len(pids)})
	case adactor.ParsedCommand:
		// redirect parsedCommand to the switch actor
		state.logger.Debug("master@default parsedCommand", zap.Any("command", msg.Command))
		if msg.Command == nil {
			return
		}
		pid, ok := state.switchActors[msg.Command.ObjectId]
		if !ok {
			state.logger.Warn("master@default command for unknown switch", zap.String("id", msg.Command.ObjectId))
			return
		}
		ctx.Send(pid, domain.SwitchCommandRequest{On: msg.Command.On})
	case domain.GetEntityStatesRequest:
		state.collectEntityStates(ctx, msg)
	case *actor.Terminated:
		state.forgetPID(msg.Who)
	default:
		state.logger.Debug("master@default unhandled", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *MasterOfPuppetsActor) HealthCheckReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.ReceiveTimeout:
		// if some actor does not respond to healthCheck, assume not healthy
		ctx.CancelReceiveTimeout()
		state.currentHealthCheck.respond(ctx)
		state.behavior.UnbecomeStacked()
		state.stash.UnstashAll(ctx)
	case domain.ActorHealthResponse:
		state.logger.Debug("master@healthcheck ActorHealthResponse", zap.String("sender", msg.Id), zap.Bool("healthy", msg.Healthy))
		state.currentHealthCheck.checksReceived++
		if msg.Healthy {
			state.currentHealthCheck.healthy[msg.Id] = true
		}
		if state.currentHealthCheck.allReceived() {
			ctx.CancelReceiveTimeout()
			state.currentHealthCheck.respond(ctx)

			state.behavior.UnbecomeStacked()
			state.stash.UnstashAll(ctx)
		} else {
			ctx.SetReceiveTimeout(1 * time.Second)
		}
	case *actor.Terminated:
		state.forgetPID(msg.Who)
	default:
		state.logger.Debug("master@healthcheck stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MasterOfPuppetsActor) requestHealth(ctx actor.Context, pid *actor.PID, id string) {
	state.currentHealthCheck.expected++
	actorutil.PipeToSelfWithRecover(ctx, ctx.RequestFuture(pid, domain.ActorHealthRequest{}, 500*time.Millisecond), func(err error) any {
		return domain.ActorHealthResponse{
			Id:      id,
			Healthy: false,
		}
	})
}

// spawnRecord starts one device actor per platform that has entities for the record.
func (state *MasterOfPuppetsActor) spawnRecord(ctx actor.Context, record domain.DeviceRecord) {
	if _, ok := state.deviceActors[record.IP]; ok {
		state.logger.Warn("master@spawn record already running", zap.String("ip", record.IP))
		return
	}
	for _, platform := range state.platforms {
		handle, err := platform.Setup(record)
		if err != nil {
			state.logger.Error("master@spawn platform setup failed", zap.String("ip", record.IP),
				zap.String("platform", platform.Name()), zap.Error(err))
			continue
		}
		if handle == nil {
			continue
		}
		pid, err := state.startDeviceActor(ctx, handle)
		if err != nil {
			state.logger.Error("master@spawn could not start device actor", zap.String("ip", record.IP), zap.Error(err))
			_ = handle.Close()
			continue
		}
		state.deviceActors[record.IP] = append(state.deviceActors[record.IP], pid)
		_, switches := handle.Discovery()
		for _, sw := range switches {
			state.switchActors[sw.Id] = pid
		}
	}
}

func (state *MasterOfPuppetsActor) forget(ip string) {
	for _, pid := range state.deviceActors[ip] {
		for id, swPID := range state.switchActors {
			if swPID.Equal(pid) {
				delete(state.switchActors, id)
			}
		}
	}
	delete(state.deviceActors, ip)
}

func (state *MasterOfPuppetsActor) forgetPID(who *actor.PID) {
	for ip, pids := range state.deviceActors {
		for _, pid := range pids {
			if pid.Equal(who) {
				state.logger.Warn("master@default device actor terminated", zap.String("ip", ip), zap.String("actor", who.Id))
				state.forget(ip)
				return
			}
		}
	}
}

type statesAggregate struct {
	pending int
	states  []domain.EntityState
}

func (state *MasterOfPuppetsActor) collectEntityStates(ctx actor.Context, msg domain.GetEntityStatesRequest) {
	replyTo := actorutil.ForRequest(msg).ReplyTo(ctx)
	var pids []*actor.PID
	if msg.IP != "" {
		pids = state.deviceActors[msg.IP]
	} else {
		for _, p := range state.deviceActors {
			pids = append(pids, p...)
		}
	}
	if len(pids) == 0 {
		if replyTo != nil {
			ctx.Send(replyTo, domain.GetEntityStatesResponse{States: []domain.EntityState{}})
		}
		return
	}

	agg := &statesAggregate{pending: len(pids)}
	for _, pid := range pids {
		ctx.ReenterAfter(ctx.RequestFuture(pid, domain.GetEntityStatesRequest{}, 1*time.Second), func(res any, err error) {
			agg.pending--
			if resp, ok := res.(domain.GetEntityStatesResponse); ok && err == nil {
				agg.states = append(agg.states, resp.States...)
			}
			if agg.pending == 0 && replyTo != nil {
				ctx.Send(replyTo, domain.GetEntityStatesResponse{States: agg.states})
			}
		})
	}
}

func (state *MasterOfPuppetsActor) startDeviceActor(ctx actor.Context, handle port.EntityHandle) (*actor.PID, error) {

	decider := func(reason interface{}) actor.Directive {
		log.Printf("handling failure for device actor. reason: %v", reason)
		return actor.RestartDirective
	}
	supervisor := actor.NewOneForOneStrategy(10, 10*time.Second, decider)

	pollInterval := time.Duration(state.config.Devices.PollIntervalMillis) * time.Millisecond
	timeout := time.Duration(state.config.Devices.TimeoutMillis) * time.Millisecond

	deviceProps := actor.PropsFromProducer(func() actor.Actor {
		return NewDeviceActor(handle, pollInterval, timeout, state.eventStream, state.logger)
	}, actor.WithSupervisor(supervisor))
	return ctx.SpawnNamed(deviceProps, DeviceActorId(handle.Platform(), handle.Record().IP))
}

func (state *MasterOfPuppetsActor) startHADiscoveryActor(ctx actor.Context) (*actor.PID, error) {

	decider := func(reason interface{}) actor.Directive {
		log.Printf("handling failure for child. reason: %v", reason)
		return actor.RestartDirective
	}
	supervisor := actor.NewOneForOneStrategy(10, 10*time.Second, decider)

	haDiscProps := actor.PropsFromProducer(func() actor.Actor {
		return NewHADiscoveryActor(&state.config, state.mqttActor, state.eventStream, state.logger)
	}, actor.WithSupervisor(supervisor))
	return ctx.SpawnNamed(haDiscProps, domain.ACTOR_ID_HA_DISCOVERY)
}

func (state *MasterOfPuppetsActor) startMQTTActor(ctx actor.Context) (*actor.PID, error) {

	supervisor := actor.NewExponentialBackoffStrategy(10*time.Second, 1*time.Second)

	mqttProps := actor.PropsFromProducer(func() actor.Actor {
		return state.mqttActorProvider(state.eventStream)
	}, actor.WithSupervisor(supervisor))
	return ctx.SpawnNamed(mqttProps, domain.ACTOR_ID_MQTT)
}

func (state *MasterOfPuppetsActor) startInfluxActor(ctx actor.Context) (*actor.PID, error) {
	influxProps := actor.PropsFromProducer(func() actor.Actor {
		return state.influxActorProvider(state.eventStream)
	})
	return ctx.SpawnNamed(influxProps, domain.ACTOR_ID_INFLUX)
}

func (state *healthCheckResult) reset() {
	state.expected = 0
	state.healthy = make(map[string]bool)
	state.checksReceived = 0
	state.respondTo = nil
}

func (state *healthCheckResult) allReceived() bool {
	return state.checksReceived >= state.expected
}

func (state *healthCheckResult) allHealthy() bool {
	return len(state.healthy) == state.expected
}

func (state *healthCheckResult) respond(ctx actor.Context) {
	resp := domain.ActorHealthResponse{
		Id:      domain.ACTOR_ID_MASTER,
		Healthy: state.allHealthy(),
		State:   fmt.Sprintf("%d/%d healthy", len(state.healthy), state.expected),
	}
	if state.respondTo != nil {
		ctx.Send(state.respondTo, resp)
	}
}
