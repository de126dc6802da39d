package agent

import (
	"context"
	"math"
	"sync/atomic"
	"time"

	apperrors "github.com/Iron-Ham/swarmbot/internal/errors"
	"github.com/Iron-Ham/swarmbot/internal/event"
	"github.com/Iron-Ham/swarmbot/internal/logging"
	"github.com/Iron-Ham/swarmbot/internal/mailbox"
	"github.com/Iron-Ham/swarmbot/internal/motion"
	"github.com/Iron-Ham/swarmbot/internal/protocol"
	"github.com/Iron-Ham/swarmbot/internal/transport"
)

// Ranger measures the distance ahead.
type Ranger interface {
	Measure() float64
	Last() float64
}

// Driver performs a blocking actuation.
type Driver interface {
	Drive(req motion.Request) error
}

// Option configures an Agent.
type Option func(*Agent)

// WithLogger sets the agent logger.
func WithLogger(l *logging.Logger) Option {
	return func(a *Agent) { a.logger = l }
}

// WithBus sets the bus that receives coordination events.
func WithBus(bus *event.Bus) Option {
	return func(a *Agent) { a.bus = bus }
}

// Snapshot is a point-in-time view of an agent for status output.
type Snapshot struct {
	Phase             Phase
	Index             uint32
	Assigned          bool
	MasterReady       bool
	Episodes          uint64
	Steps             uint64
	Collisions        uint64
	Duplicates        uint64
	Anomalies         uint64
	LastObservationMM float64
}

// Agent is one robot's protocol driver. Run owns all session state;
// Handle and Snapshot may be called from other goroutines.
type Agent struct {
	cfg    Config
	ranger Ranger
	driver Driver
	mb     *mailbox.Mailbox
	bus    *event.Bus
	logger *logging.Logger

	// Owned by Run.
	link       transport.Transport
	topics     protocol.Topics
	started    bool
	lastAction int
	dispatched bool

	phase       atomic.Int32
	index       atomic.Uint32
	assigned    atomic.Bool
	masterReady atomic.Bool

	episodes   atomic.Uint64
	steps      atomic.Uint64
	collisions atomic.Uint64
	duplicates atomic.Uint64
	anomalies  atomic.Uint64
	lastObs    atomic.Uint64 // math.Float64bits
}

// New creates an agent that senses with ranger and moves with driver.
func New(ranger Ranger, driver Driver, cfg Config, opts ...Option) (*Agent, error) {
	if ranger == nil || driver == nil {
		return nil, apperrors.NewValidationError("ranger and driver are required")
	}
	a := &Agent{
		cfg:    cfg.withDefaults(),
		ranger: ranger,
		driver: driver,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = logging.NopLogger()
	}
	a.logger = a.logger.WithComponent("agent")
	a.mb = mailbox.New(mailbox.WithBus(a.bus), mailbox.WithLogger(a.logger))
	if err := a.mb.Route(protocol.MasterStatusTopic, mailbox.MasterStatus); err != nil {
		return nil, err
	}
	if err := a.mb.Route(protocol.IndexTopic, mailbox.Index); err != nil {
		return nil, err
	}
	a.lastObs.Store(math.Float64bits(ranger.Last()))
	return a, nil
}

// Handle is the transport handler. It only files the message; all
// processing happens in Run.
func (a *Agent) Handle(msg transport.Message) {
	dup := msg.Duplicate
	if msg.Retained && a.Phase() == PhaseReady {
		// A retained start replayed after a reconnect is not a new episode.
		if kind, ok := a.mb.Router().Lookup(msg.Topic); ok && kind == mailbox.Start {
			dup = true
		}
	}
	// Unrouted topics show up in the mailbox's dropped count.
	_ = a.mb.Deliver(msg.Topic, msg.Payload, dup)
}

// Phase returns the current phase.
func (a *Agent) Phase() Phase {
	return Phase(a.phase.Load())
}

// Snapshot returns the agent's counters.
func (a *Agent) Snapshot() Snapshot {
	return Snapshot{
		Phase:             a.Phase(),
		Index:             a.index.Load(),
		Assigned:          a.assigned.Load(),
		MasterReady:       a.masterReady.Load(),
		Episodes:          a.episodes.Load(),
		Steps:             a.steps.Load(),
		Collisions:        a.collisions.Load(),
		Duplicates:        a.duplicates.Load(),
		Anomalies:         a.anomalies.Load(),
		LastObservationMM: math.Float64frombits(a.lastObs.Load()),
	}
}

// Run connects link, completes the handshake and serves actions until
// ctx is done. link must deliver to a.Handle. Run returns ctx's error on
// cancellation and any unrecoverable handshake failure otherwise.
func (a *Agent) Run(ctx context.Context, link transport.Transport) error {
	if link == nil {
		return apperrors.NewValidationError("transport is required")
	}
	a.link = link
	if err := link.Connect(ctx); err != nil {
		return apperrors.Wrap(err, "connect")
	}
	if err := a.handshake(ctx); err != nil {
		return err
	}
	return a.loop(ctx)
}

func (a *Agent) handshake(ctx context.Context) error {
	if err := a.subscribe(ctx, protocol.MasterStatusTopic); err != nil {
		return err
	}
	a.setPhase(PhaseAwaitingMaster)
	if err := a.await(ctx, a.masterReady.Load); err != nil {
		return err
	}

	if err := a.subscribe(ctx, protocol.IndexTopic); err != nil {
		return err
	}
	if err := a.publish(ctx, protocol.AddTopic, protocol.FormatInt(protocol.Join), false); err != nil {
		return err
	}
	a.setPhase(PhaseAwaitingIndex)
	if err := a.await(ctx, a.assigned.Load); err != nil {
		return err
	}

	if err := a.join(ctx); err != nil {
		return err
	}
	a.setPhase(PhaseAwaitingStart)
	if err := a.await(ctx, func() bool { return a.started }); err != nil {
		return err
	}

	if err := a.beginEpisode(ctx); err != nil {
		return err
	}
	a.setPhase(PhaseReady)
	return nil
}

// await handles handshake messages until cond holds. It has no deadline
// other than ctx.
func (a *Agent) await(ctx context.Context, cond func() bool) error {
	for {
		for {
			msg, ok := a.mb.TakeNext(mailbox.MasterStatus, mailbox.Index, mailbox.Start)
			if !ok {
				break
			}
			if err := a.dispatch(ctx, msg); err != nil {
				return err
			}
		}
		if cond() {
			return nil
		}

		var err error
		if a.mb.Pending(mailbox.Action) {
			// An early action stays queued; don't let it turn the wait into a spin.
			err = pause(ctx, a.cfg.HandshakePoll)
		} else {
			_, err = a.mb.Wait(ctx, a.cfg.HandshakePoll)
		}
		if err != nil {
			return err
		}
	}
}

// join adopts the assigned index.
func (a *Agent) join(ctx context.Context) error {
	n := a.index.Load()
	a.topics = protocol.AgentTopics(n)
	a.logger = a.logger.WithAgent(n)

	if err := a.mb.Route(a.topics.Start, mailbox.Start); err != nil {
		return err
	}
	if err := a.mb.Route(a.topics.Action, mailbox.Action); err != nil {
		return err
	}
	if err := a.subscribe(ctx, a.topics.Start); err != nil {
		return err
	}
	if err := a.subscribe(ctx, a.topics.Action); err != nil {
		return err
	}
	if err := a.link.Unsubscribe(protocol.IndexTopic); err != nil {
		a.logger.Warn("unsubscribe failed", "topic", protocol.IndexTopic, "error", err.Error())
	}
	a.mb.Router().Remove(protocol.IndexTopic)

	a.logger.Info("index assigned", "start", a.topics.Start, "action", a.topics.Action)
	return a.publish(ctx, a.topics.Status, protocol.FormatFlag(true), true)
}

func (a *Agent) loop(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if msg, ok := a.mb.TakeNext(mailbox.MasterStatus, mailbox.Start); ok {
			if err := a.dispatch(ctx, msg); err != nil {
				return err
			}
		}
		if msg, ok := a.mb.Take(mailbox.Action); ok {
			if err := a.dispatch(ctx, msg); err != nil {
				return err
			}
			continue
		}
		if _, err := a.mb.Wait(ctx, a.cfg.LoopInterval); err != nil {
			return err
		}
	}
}

// dispatch handles msg. Protocol anomalies are counted and dropped; any
// other error ends the caller's loop.
func (a *Agent) dispatch(ctx context.Context, msg mailbox.Message) error {
	err := a.handle(ctx, msg)
	if apperrors.IsProtocolAnomaly(err) {
		a.anomaly(msg, err)
		return nil
	}
	return err
}

func (a *Agent) handle(ctx context.Context, msg mailbox.Message) error {
	switch msg.Kind {
	case mailbox.MasterStatus:
		return a.onMasterStatus(msg)
	case mailbox.Index:
		return a.onIndex(msg)
	case mailbox.Start:
		return a.onStart(ctx, msg)
	case mailbox.Action:
		return a.step(ctx, msg)
	}
	return nil
}

func (a *Agent) onMasterStatus(msg mailbox.Message) error {
	ready, err := protocol.ParseFlag(msg.Payload)
	if err != nil {
		return err
	}
	if prev := a.masterReady.Swap(ready); prev != ready {
		a.logger.Info("master status changed", "ready", ready)
	}
	return nil
}

func (a *Agent) onIndex(msg mailbox.Message) error {
	if a.assigned.Load() {
		a.logger.Debug("ignoring index broadcast", "payload", string(msg.Payload))
		return nil
	}
	n, err := protocol.ParseIndex(msg.Payload)
	if err != nil {
		return err
	}
	a.index.Store(n)
	a.assigned.Store(true)
	return nil
}

func (a *Agent) onStart(ctx context.Context, msg mailbox.Message) error {
	start, err := protocol.ParseFlag(msg.Payload)
	if err != nil {
		return err
	}
	if !start {
		a.logger.Debug("start flag cleared")
		return nil
	}
	if a.Phase() != PhaseReady {
		a.started = true
		return nil
	}
	if msg.Duplicate {
		a.logger.Debug("ignoring replayed start")
		return nil
	}
	return a.beginEpisode(ctx)
}

// beginEpisode measures and publishes the initial observation.
func (a *Agent) beginEpisode(ctx context.Context) error {
	a.mb.Take(mailbox.Action)
	a.dispatched = false

	ep := a.episodes.Add(1)
	obs := a.ranger.Measure()
	a.lastObs.Store(math.Float64bits(obs))
	if err := a.publish(ctx, a.topics.Obv, protocol.FormatObservation(obs), false); err != nil {
		return err
	}
	a.logger.Info("episode started", "episode", ep, "observation_mm", obs)
	a.bus.Publish(event.NewEpisodeStartedEvent(a.topics.Index, ep, obs))
	return nil
}

// step dispatches one action and reports its outcome.
func (a *Agent) step(ctx context.Context, msg mailbox.Message) error {
	action, err := protocol.ParseInt(msg.Payload)
	if err != nil {
		return err
	}
	req, ok := a.cfg.Request(action)
	if !ok {
		return apperrors.NewProtocolError("unknown action", apperrors.ErrUnknownAction).
			WithTopic(msg.Topic).WithPayload(string(msg.Payload))
	}
	if msg.Duplicate && a.dispatched && action == a.lastAction {
		a.duplicates.Add(1)
		a.logger.Debug("dropping redelivered action", "action", action)
		return nil
	}
	a.lastAction, a.dispatched = action, true
	a.bus.Publish(event.NewActionDispatchedEvent(a.topics.Index, action))

	reward := a.cfg.StepReward
	if req.Kind == motion.Forward && a.blocked() {
		reward = a.cfg.CollisionPenalty
	} else if err := a.driver.Drive(req); err != nil {
		a.logError("drive failed", err,
			"action", action,
			"kind", req.Kind.String(),
		)
	}

	obs := a.ranger.Measure()
	a.lastObs.Store(math.Float64bits(obs))
	n := a.steps.Add(1)
	const done = false

	for _, out := range []struct {
		topic   string
		payload []byte
	}{
		{a.topics.Obv, protocol.FormatObservation(obs)},
		{a.topics.Reward, protocol.FormatReward(reward)},
		{a.topics.Done, protocol.FormatDone(done)},
	} {
		if err := a.publish(ctx, out.topic, out.payload, false); err != nil {
			return err
		}
	}

	a.logger.Debug("step completed",
		"step", n,
		"action", action,
		"observation_mm", obs,
		"reward", reward,
	)
	a.bus.Publish(event.NewStepCompletedEvent(a.topics.Index, n, action, obs, reward, done))
	return nil
}

// blocked applies the collision guard for a forward move.
func (a *Agent) blocked() bool {
	last := a.ranger.Last()
	if last >= a.cfg.SafetyThresholdMM {
		return false
	}
	a.collisions.Add(1)
	a.logger.Warn("forward move refused",
		"distance_mm", last,
		"threshold_mm", a.cfg.SafetyThresholdMM,
	)
	a.bus.Publish(event.NewCollisionAvertedEvent(a.topics.Index, last, a.cfg.SafetyThresholdMM))
	return true
}

// publish sends one message once the master is ready and the link is up.
// Retryable failures hold the message and try again after the next
// readiness check. Only ctx errors are returned.
func (a *Agent) publish(ctx context.Context, topic string, payload []byte, retain bool) error {
	for {
		if err := a.awaitLink(ctx); err != nil {
			return err
		}
		err := a.link.Publish(topic, payload, retain)
		if err == nil {
			return nil
		}
		if !apperrors.IsRetryable(err) {
			a.logError("publish failed", err, "topic", topic)
			return nil
		}
		a.logger.Warn("publish deferred", "topic", topic, "error", err.Error())
		if err := pause(ctx, a.cfg.ReadyPoll); err != nil {
			return err
		}
	}
}

// awaitLink re-polls the master status every ReadyPoll until the master
// is ready and the link is up.
func (a *Agent) awaitLink(ctx context.Context) error {
	waiting := false
	for {
		if msg, ok := a.mb.Take(mailbox.MasterStatus); ok {
			if err := a.dispatch(ctx, msg); err != nil {
				return err
			}
		}
		if a.masterReady.Load() && a.link.Connected() {
			if waiting {
				a.logger.Info("coordination link ready")
			}
			return nil
		}
		if !waiting {
			a.logger.Info("waiting for coordination link",
				"master_ready", a.masterReady.Load(),
				"connected", a.link.Connected(),
			)
			waiting = true
		}
		if err := pause(ctx, a.cfg.ReadyPoll); err != nil {
			return err
		}
	}
}

func (a *Agent) subscribe(ctx context.Context, topic string) error {
	for {
		err := a.link.Subscribe(topic)
		if err == nil {
			a.logger.Debug("subscribed", "topic", topic)
			return nil
		}
		if !apperrors.IsRetryable(err) {
			return apperrors.Wrapf(err, "subscribe %s", topic)
		}
		a.logger.Warn("subscribe deferred", "topic", topic, "error", err.Error())
		if err := pause(ctx, a.cfg.ReadyPoll); err != nil {
			return err
		}
	}
}

func (a *Agent) setPhase(p Phase) {
	from := Phase(a.phase.Swap(int32(p)))
	if from == p {
		return
	}
	a.logger.WithPhase(p.String()).Info("phase changed", "from", from.String())
	a.bus.Publish(event.NewPhaseChangedEvent(a.index.Load(), from.String(), p.String()))
}

func (a *Agent) anomaly(msg mailbox.Message, err error) {
	a.anomalies.Add(1)
	a.logError("ignoring message", err,
		"topic", msg.Topic,
		"payload", string(msg.Payload),
	)
	a.bus.Publish(event.NewProtocolAnomalyEvent(a.index.Load(), msg.Topic, string(msg.Payload), err.Error()))
}

// logError logs err at the level its severity calls for.
func (a *Agent) logError(msg string, err error, args ...any) {
	sev := apperrors.GetSeverity(err)
	args = append(args, "error", err.Error(), "severity", sev.String())
	switch sev {
	case apperrors.SeverityDebug:
		a.logger.Debug(msg, args...)
	case apperrors.SeverityInfo:
		a.logger.Info(msg, args...)
	case apperrors.SeverityWarning:
		a.logger.Warn(msg, args...)
	default:
		a.logger.Error(msg, args...)
	}
}

func pause(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
