package actor

import (
	"errors"
	"fmt"
	"time"

	"github.com/berfenger/cozylife2mqtt/internal/config"
	"github.com/berfenger/cozylife2mqtt/internal/core/domain"
	"github.com/berfenger/cozylife2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"go.uber.org/zap"
)

// HADiscoveryActor turns entity lifecycle events into discovery publications once the MQTT
// actor is up.
type HADiscoveryActor struct {
	config       *config.Config
	behavior     actor.Behavior
	stash        *actorutil.Stash
	mqttActor    *actor.PID
	eventStream  *eventstream.EventStream
	subscription *eventstream.Subscription
	announced    map[string]domain.EntitiesAnnouncedEvent

	logger *zap.Logger
}

func NewHADiscoveryActor(config *config.Config, mqttActor *actor.PID, eventStream *eventstream.EventStream, logger *zap.Logger) *HADiscoveryActor {
	act := &HADiscoveryActor{
		config:      config,
		mqttActor:   mqttActor,
		eventStream: eventStream,
		behavior:    actor.NewBehavior(),
		stash:       &actorutil.Stash{},
		announced:   make(map[string]domain.EntitiesAnnouncedEvent),
		logger:      actorutil.ActorLogger(domain.ACTOR_ID_HA_DISCOVERY, logger),
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *HADiscoveryActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *HADiscoveryActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("hadiscovery@starting started")

		root := ctx.ActorSystem().Root
		self := ctx.Self()
		state.subscription = state.eventStream.Subscribe(func(evt any) {
			switch evt.(type) {
			case domain.EntitiesAnnouncedEvent, domain.EntitiesRetiredEvent:
				root.Send(self, evt)
			}
		})

		// MQTT Actor Request
		actorutil.PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.mqttActor, domain.ActorHealthRequest{}, 2*time.Second), func(err error) any {
			return domain.ActorHealthResponse{
				Id:      domain.ACTOR_ID_MQTT,
				Healthy: false,
			}
		})
		state.behavior.Become(state.WaitingHealthyReceive)
	case *actor.Restarting:
		state.unsubscribe()
	default:
		state.logger.Debug("hadiscovery@starting: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *HADiscoveryActor) WaitingHealthyReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthResponse:
		state.logger.Debug("hadiscovery@healthcheck ActorHealthResponse", zap.String("sender", msg.Id), zap.Bool("healthy", msg.Healthy))
		if !msg.Healthy {
			panic(errors.New("MQTT Actor is not healthy"))
		}
		bridgeDevice := domain.BridgeDevice(state.config.MQTT.BaseTopic)
		ctx.Send(state.mqttActor, domain.PublishDiscoveryRequest{
			Sensors: domain.BridgeSensors(bridgeDevice),
		})
		state.behavior.Become(state.DefaultReceive)
		state.stash.UnstashAll(ctx)
	case *actor.Restarting, *actor.Stopping:
		state.unsubscribe()
	default:
		state.logger.Debug("hadiscovery@healthcheck: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *HADiscoveryActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.EntitiesAnnouncedEvent:
		state.logger.Debug("hadiscovery@default EntitiesAnnouncedEvent", zap.String("ip", msg.Record.IP),
			zap.Int("sensors", len(msg.Sensors)), zap.Int("switches", len(msg.Switches)))
		state.announced[announcedKey(msg.Sensors, msg.Switches)] = msg
		state.publish(ctx, msg)
	case domain.EntitiesRetiredEvent:
		state.logger.Debug("hadiscovery@default EntitiesRetiredEvent", zap.String("ip", msg.Record.IP))
		delete(state.announced, announcedKey(msg.Sensors, msg.Switches))
		ctx.Send(state.mqttActor, domain.RemoveDiscoveryRequest{
			Sensors:  msg.Sensors,
			Switches: msg.Switches,
		})
	case domain.ActorHealthRequest:
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_HA_DISCOVERY,
			Healthy: true,
			State:   fmt.Sprintf("entities=%d", len(state.announced)),
		})
	case *actor.Restarting, *actor.Stopping:
		state.unsubscribe()
	default:
		state.logger.Debug("hadiscovery@default: unhandled", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *HADiscoveryActor) publish(ctx actor.Context, ev domain.EntitiesAnnouncedEvent) {
	ctx.Send(state.mqttActor, domain.PublishDiscoveryRequest{
		Sensors:  ev.Sensors,
		Switches: ev.Switches,
	})
}

func (state *HADiscoveryActor) unsubscribe() {
	if state.subscription != nil {
		state.eventStream.Unsubscribe(state.subscription)
		state.subscription = nil
	}
}

// announcedKey identifies one platform of one record by its first entity.
func announcedKey(sensors []domain.GenericSensor, switches []domain.GenericSwitch) string {
	if len(switches) > 0 {
		return switches[0].UniqueId
	}
	if len(sensors) > 0 {
		return sensors[0].UniqueId
	}
	return ""
}
