package actor

import (
	"errors"
	"fmt"
	"time"

	"github.com/berfenger/cozylife2mqtt/internal/core/domain"
	"github.com/berfenger/cozylife2mqtt/internal/core/port"
	"github.com/berfenger/cozylife2mqtt/internal/core/service"
	"github.com/berfenger/cozylife2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/asynkron/protoactor-go/scheduler"
	"go.uber.org/zap"
)

var ErrNotASwitch = errors.New("device actor does not own a switch")

// DeviceActor is the polling harness of one record and platform. It owns the entity handle
// and its proxy, and keeps at most one device call in flight.
type DeviceActor struct {
	behavior    actor.Behavior
	stash       *actorutil.Stash
	scheduler   *scheduler.TimerScheduler
	cancelTick  scheduler.CancelFunc
	handle      port.EntityHandle
	eventStream *eventstream.EventStream

	pollInterval time.Duration
	timeout      time.Duration
	polls        uint64
	skipped      uint64
	retired      bool
	// set while a device call runs, including calls that outlived their timeout
	deviceBusy bool

	logger *zap.Logger
}

type pollTick struct {
}

type pollCompleted struct {
	Result domain.PollResult
}

type commandCompleted struct {
	Result  domain.CommandResult
	ReplyTo *actor.PID
}

// deviceReleased is sent when the blocking device call actually returns.
type deviceReleased struct {
}

func DeviceActorId(platform string, ip string) string {
	return fmt.Sprintf("%s_%s_%s", domain.ACTOR_ID_DEVICE, platform, domain.ObjectId(ip))
}

func NewDeviceActor(handle port.EntityHandle, pollInterval time.Duration, timeout time.Duration,
	eventStream *eventstream.EventStream, logger *zap.Logger) *DeviceActor {
	act := &DeviceActor{
		behavior:     actor.NewBehavior(),
		stash:        &actorutil.Stash{},
		handle:       handle,
		eventStream:  eventStream,
		pollInterval: pollInterval,
		timeout:      timeout,
		logger: actorutil.ActorLogger(DeviceActorId(handle.Platform(), handle.Record().IP), logger).
			With(zap.String("ip", handle.Record().IP)),
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *DeviceActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *DeviceActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("device@starting started", zap.String("platform", state.handle.Platform()))

		state.scheduler = scheduler.NewTimerScheduler(ctx.ActorSystem().Root)
		sensors, switches := state.handle.Discovery()
		state.eventStream.Publish(domain.EntitiesAnnouncedEvent{
			Record:   state.handle.Record(),
			Sensors:  sensors,
			Switches: switches,
		})

		state.behavior.Become(state.DefaultReceive)
		// first poll right away
		ctx.Send(ctx.Self(), pollTick{})
		state.stash.UnstashAll(ctx)
	default:
		state.logger.Debug("device@starting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *DeviceActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case pollTick:
		state.scheduleTick(ctx)
		if state.deviceBusy {
			state.skipped++
			state.logger.Debug("device@default tick skipped, previous call still running")
			return
		}
		state.logger.Debug("device@default tick")
		state.startPoll(ctx)
		state.behavior.BecomeStacked(state.WaitingReceive)
	case domain.SwitchCommandRequest:
		state.logger.Debug("device@default SwitchCommandRequest", zap.Bool("on", msg.On))
		if state.handle.Platform() != service.PLATFORM_SWITCH {
			actorutil.ForRequest(msg).Respond(ctx, domain.SwitchCommandResponse{
				ActorResponseMixIn: domain.ActorResponseMixIn{ResponseError: ErrNotASwitch},
			})
			return
		}
		if state.deviceBusy {
			state.stash.Stash(ctx, msg)
			return
		}
		state.startCommand(ctx, msg.On, actorutil.ForRequest(msg).ReplyTo(ctx))
		state.behavior.BecomeStacked(state.WaitingReceive)
	case deviceReleased:
		state.deviceBusy = false
		state.stash.UnstashAll(ctx)
	case *actor.Stopping:
		state.stop()
	default:
		state.handleCommon(ctx)
	}
}

// WaitingReceive is active while a poll or a command is in flight.
func (state *DeviceActor) WaitingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case pollTick:
		state.skipped++
		state.logger.Debug("device@waiting tick skipped, device busy")
		state.scheduleTick(ctx)
	case pollCompleted:
		state.polls++
		state.logger.Debug("device@waiting pollCompleted", zap.Bool("ok", msg.Result.Ok()))
		state.publish(state.handle.ApplyPoll(msg.Result))
		state.behavior.UnbecomeStacked()
		state.stash.UnstashAll(ctx)
	case commandCompleted:
		state.logger.Debug("device@waiting commandCompleted", zap.Bool("ok", msg.Result.Succeeded()))
		state.publish(state.handle.ApplyCommand(msg.Result))
		if msg.ReplyTo != nil {
			resp := domain.SwitchCommandResponse{}
			if snapshot := state.handle.Snapshot(); len(snapshot) > 0 {
				resp.State = snapshot[0]
			}
			if !msg.Result.Succeeded() {
				resp.ResponseError = msg.Result.Err
				if resp.ResponseError == nil {
					resp.ResponseError = domain.ErrConnection
				}
			}
			ctx.Send(msg.ReplyTo, resp)
		}
		state.behavior.UnbecomeStacked()
		state.stash.UnstashAll(ctx)
	case deviceReleased:
		state.deviceBusy = false
	case *actor.Stopping:
		state.stop()
	case domain.SwitchCommandRequest:
		state.logger.Debug("device@waiting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	default:
		state.handleCommon(ctx)
	}
}

// handleCommon answers the messages that never touch the device.
func (state *DeviceActor) handleCommon(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		ctx.Respond(domain.ActorHealthResponse{
			Id:      DeviceActorId(state.handle.Platform(), state.handle.Record().IP),
			Healthy: true,
			State:   fmt.Sprintf("polls=%d skipped=%d", state.polls, state.skipped),
		})
	case domain.GetEntityStatesRequest:
		actorutil.ForRequest(msg).Respond(ctx, domain.GetEntityStatesResponse{
			States: state.handle.Snapshot(),
		})
	case domain.RecordRemovedRequest:
		state.retire(ctx)
		actorutil.ForRequest(msg).Respond(ctx, domain.RecordRemovedResponse{Stopped: 1})
		ctx.Stop(ctx.Self())
	case *actor.Started, *actor.Stopped, *actor.Restarting:
	default:
		state.logger.Debug("device@default unhandled", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *DeviceActor) startPoll(ctx actor.Context) {
	handle := state.handle
	release := state.acquireDevice(ctx)
	actorutil.NewBackgroundTaskNoError(ctx, func() *pollCompleted {
		defer release()
		return &pollCompleted{Result: handle.Poll()}
	}).WithTimeout(state.timeout).Recover(func(err error) pollCompleted {
		return pollCompleted{Result: domain.PollResult{Err: timeoutError(err)}}
	}).PipeTo(ctx.Self())
}

func (state *DeviceActor) startCommand(ctx actor.Context, on bool, replyTo *actor.PID) {
	handle := state.handle
	release := state.acquireDevice(ctx)
	actorutil.NewBackgroundTaskNoError(ctx, func() *commandCompleted {
		defer release()
		return &commandCompleted{Result: handle.Command(on), ReplyTo: replyTo}
	}).WithTimeout(state.timeout).Recover(func(err error) commandCompleted {
		return commandCompleted{
			Result:  domain.CommandResult{On: on, Err: timeoutError(err)},
			ReplyTo: replyTo,
		}
	}).PipeTo(ctx.Self())
}

// acquireDevice marks the device busy. The returned func runs on the background goroutine
// when the device call returns, which may be long after the timeout reported a failure.
func (state *DeviceActor) acquireDevice(ctx actor.Context) func() {
	state.deviceBusy = true
	root := ctx.ActorSystem().Root
	self := ctx.Self()
	return func() {
		root.Send(self, deviceReleased{})
	}
}

func (state *DeviceActor) scheduleTick(ctx actor.Context) {
	if state.pollInterval <= 0 || state.retired {
		return
	}
	state.cancelTick = state.scheduler.RequestOnce(state.pollInterval, ctx.Self(), pollTick{})
}

func (state *DeviceActor) publish(events []domain.SensorUpdateEvent) {
	for _, ev := range events {
		state.eventStream.Publish(ev)
	}
}

func (state *DeviceActor) retire(ctx actor.Context) {
	if state.retired {
		return
	}
	state.retired = true
	state.logger.Info("device@retire record removed, stopping entities")
	sensors, switches := state.handle.Discovery()
	state.eventStream.Publish(domain.EntitiesRetiredEvent{
		Record:   state.handle.Record(),
		Sensors:  sensors,
		Switches: switches,
	})
}

func (state *DeviceActor) stop() {
	if state.cancelTick != nil {
		state.cancelTick()
		state.cancelTick = nil
	}
	if err := state.handle.Close(); err != nil {
		state.logger.Warn("device@stop could not close proxy", zap.Error(err))
	}
}

// timeoutError tags goio failures as device timeouts unless they already carry a device error.
func timeoutError(err error) error {
	if errors.Is(err, domain.ErrTimeout) || errors.Is(err, domain.ErrConnection) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrTimeout, err)
}
