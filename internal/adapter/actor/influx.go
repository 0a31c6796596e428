package actor

import (
	"fmt"
	"time"

	"github.com/berfenger/cozylife2mqtt/internal/core/domain"
	"github.com/berfenger/cozylife2mqtt/internal/core/port"
	"github.com/berfenger/cozylife2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"go.uber.org/zap"
)

// InfluxActor forwards sensor and switch readings from the event stream to a measurement sink.
type InfluxActor struct {
	writer         port.MeasurementWriter
	eventStream    *eventstream.EventStream
	eventStreamSub *eventstream.Subscription
	written        uint64
	logger         *zap.Logger
}

func NewInfluxActor(writer port.MeasurementWriter, eventStream *eventstream.EventStream, logger *zap.Logger) *InfluxActor {
	return &InfluxActor{
		writer:      writer,
		eventStream: eventStream,
		logger:      actorutil.ActorLogger(domain.ACTOR_ID_INFLUX, logger),
	}
}

func (state *InfluxActor) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("influx@default started")
		root := ctx.ActorSystem().Root
		self := ctx.Self()
		state.eventStreamSub = state.eventStream.Subscribe(func(value any) {
			switch value.(type) {
			case domain.FloatSensorUpdateEvent, domain.SwitchSensorUpdateEvent:
				root.Send(self, onEventStreamMessage{message: value})
			}
		})
	case onEventStreamMessage:
		now := time.Now()
		switch ev := msg.message.(type) {
		case domain.FloatSensorUpdateEvent:
			state.writer.WriteMeasurement(ev, now)
		case domain.SwitchSensorUpdateEvent:
			state.writer.WriteSwitchState(ev, now)
		}
		state.written++
	case domain.ActorHealthRequest:
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_INFLUX,
			Healthy: true,
			State:   fmt.Sprintf("written=%d", state.written),
		})
	case *actor.Stopping, *actor.Restarting:
		state.logger.Debug("influx@default stopping")
		if state.eventStreamSub != nil {
			state.eventStream.Unsubscribe(state.eventStreamSub)
			state.eventStreamSub = nil
		}
		state.writer.Flush()
	}
}
