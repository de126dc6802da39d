package master

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	apperrors "github.com/Iron-Ham/swarmbot/internal/errors"
	"github.com/Iron-Ham/swarmbot/internal/logging"
	"github.com/Iron-Ham/swarmbot/internal/protocol"
	"github.com/Iron-Ham/swarmbot/internal/transport"
)

// Config bounds a master run.
type Config struct {
	// Agents is how many agents to serve. Run returns once that many
	// have finished all episodes. Zero serves agents until ctx is done.
	Agents int
	// MaxSteps caps the steps of one episode.
	MaxSteps int
	// Episodes is the number of episodes per agent.
	Episodes int
	// StepTimeout bounds the wait for one agent message. Zero waits
	// without bound.
	StepTimeout time.Duration
}

// DefaultConfig returns a one-agent, one-episode, twenty-step run.
func DefaultConfig() Config {
	return Config{
		Agents:      1,
		MaxSteps:    20,
		Episodes:    1,
		StepTimeout: 30 * time.Second,
	}
}

// Will is the last will a master's broker connection should carry, so
// agents see the master go away.
func Will() transport.Will {
	return transport.Will{
		Topic:    protocol.MasterStatusTopic,
		Payload:  protocol.FormatFlag(false),
		Retained: true,
	}
}

// StepResult is one reported step.
type StepResult struct {
	Step          int
	Action        int
	ObservationMM float64
	Reward        int
	Done          bool
}

// EpisodeResult is everything one agent reported during an episode.
type EpisodeResult struct {
	Agent       uint32
	Episode     int
	InitialMM   float64
	Steps       []StepResult
	TotalReward int
	Done        bool
}

// Summary collects the episodes of a run, in completion order.
type Summary struct {
	Episodes []EpisodeResult
}

// TotalReward sums the rewards of every episode.
func (s Summary) TotalReward() int {
	total := 0
	for _, e := range s.Episodes {
		total += e.TotalReward
	}
	return total
}

// Option configures a Master.
type Option func(*Master)

// WithLogger sets the master logger.
func WithLogger(l *logging.Logger) Option {
	return func(m *Master) { m.logger = l }
}

// Master serves agents over a transport. Handle may be called from any
// goroutine; Run must be called once.
type Master struct {
	cfg    Config
	policy Policy
	logger *logging.Logger
	link   transport.Transport

	adds chan []byte

	mu     sync.Mutex
	agents map[uint32]*session
	next   uint32
}

// New creates a master that chooses actions with policy.
func New(policy Policy, cfg Config, opts ...Option) (*Master, error) {
	if policy == nil {
		return nil, apperrors.NewValidationError("policy is required")
	}
	if cfg.MaxSteps <= 0 {
		return nil, apperrors.NewValidationError("must be positive").WithField("max_steps").WithValue(cfg.MaxSteps)
	}
	if cfg.Episodes <= 0 {
		return nil, apperrors.NewValidationError("must be positive").WithField("episodes").WithValue(cfg.Episodes)
	}
	if cfg.Agents > protocol.MaxIndex+1 {
		return nil, apperrors.NewValidationError("more agents than the index space holds").
			WithField("agents").WithValue(cfg.Agents)
	}
	m := &Master{
		cfg:    cfg,
		policy: policy,
		adds:   make(chan []byte, 64),
		agents: make(map[uint32]*session),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = logging.NopLogger()
	}
	m.logger = m.logger.WithComponent("master")
	return m, nil
}

// Handle is the transport handler.
func (m *Master) Handle(msg transport.Message) {
	if msg.Topic == protocol.AddTopic {
		select {
		case m.adds <- slices.Clone(msg.Payload):
		default:
			m.logger.Warn("dropping announcement, registration backlog full")
		}
		return
	}
	n, leaf, ok := protocol.ParseAgentTopic(msg.Topic)
	if !ok {
		return
	}
	m.mu.Lock()
	s := m.agents[n]
	m.mu.Unlock()
	if s != nil {
		s.offer(leaf, msg.Payload, m.logger)
	}
}

type outcome struct {
	episodes []EpisodeResult
	err      error
}

// recorder gathers outcomes from the per-agent goroutines.
type recorder struct {
	mu       sync.Mutex
	summary  Summary
	errs     []error
	finished int
}

func (r *recorder) add(o outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summary.Episodes = append(r.summary.Episodes, o.episodes...)
	if o.err != nil && !errors.Is(o.err, context.Canceled) {
		r.errs = append(r.errs, o.err)
	}
	r.finished++
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.finished
}

func (r *recorder) result() (Summary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.summary, errors.Join(r.errs...)
}

// Run announces the master, registers agents as they announce
// themselves and plays their episodes. It returns the collected results
// and the joined errors of agents that could not finish.
func (m *Master) Run(ctx context.Context, link transport.Transport) (Summary, error) {
	if link == nil {
		return Summary{}, apperrors.NewValidationError("transport is required")
	}
	m.link = link
	if err := link.Connect(ctx); err != nil {
		return Summary{}, apperrors.Wrap(err, "connect")
	}
	if err := link.Subscribe(protocol.AddTopic); err != nil {
		return Summary{}, apperrors.Wrap(err, "subscribe")
	}
	if err := link.Publish(protocol.MasterStatusTopic, protocol.FormatFlag(true), true); err != nil {
		return Summary{}, apperrors.Wrap(err, "announce master")
	}
	m.logger.Info("master ready",
		"agents", m.cfg.Agents,
		"episodes", m.cfg.Episodes,
		"max_steps", m.cfg.MaxSteps,
	)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	var (
		rec  recorder
		wg   sync.WaitGroup
		wake = make(chan struct{}, 1)
	)

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			summary, _ := rec.result()
			return summary, ctx.Err()

		case payload := <-m.adds:
			v, err := protocol.ParseInt(payload)
			if err != nil {
				m.logger.Warn("ignoring announcement", "payload", string(payload), "error", err.Error())
				continue
			}
			switch v {
			case protocol.Join:
				s, err := m.register()
				if err != nil {
					m.logger.Error("registration failed", "error", err.Error())
					continue
				}
				wg.Go(func() {
					rec.add(m.serve(runCtx, s))
					select {
					case wake <- struct{}{}:
					default:
					}
				})
			case protocol.Leave:
				m.logger.Info("agent left")
			default:
				m.logger.Warn("ignoring announcement", "payload", string(payload))
			}

		case <-wake:
			if m.cfg.Agents > 0 && rec.count() >= m.cfg.Agents {
				cancel()
				wg.Wait()
				m.retire()
				return rec.result()
			}
		}
	}
}

// register assigns the next index and subscribes to the agent's reports.
func (m *Master) register() (*session, error) {
	m.mu.Lock()
	n := m.next
	if n > protocol.MaxIndex {
		m.mu.Unlock()
		return nil, apperrors.NewValidationError("agent index space exhausted").WithField("index").WithValue(n)
	}
	m.next++
	s := newSession(n)
	m.agents[n] = s
	m.mu.Unlock()

	t := s.topics
	// Hold the agent until its episode goroutine is running.
	if err := m.link.Publish(t.Start, protocol.FormatFlag(false), true); err != nil {
		return nil, err
	}
	for _, topic := range append(t.Results(), t.Status) {
		if err := m.link.Subscribe(topic); err != nil {
			return nil, err
		}
	}
	if err := m.link.Publish(protocol.IndexTopic, protocol.FormatInt(int(n)), false); err != nil {
		return nil, err
	}
	m.logger.Info("agent added", "index", n, "agents", n+1)
	return s, nil
}

// retire withdraws the master's readiness.
func (m *Master) retire() {
	if err := m.link.Publish(protocol.MasterStatusTopic, protocol.FormatFlag(false), true); err != nil {
		m.logger.Warn("failed to withdraw master status", "error", err.Error())
	}
}

// serve plays every episode of one agent.
func (m *Master) serve(ctx context.Context, s *session) outcome {
	var out outcome
	log := m.logger.WithAgent(s.index)
	for ep := 1; ep <= m.cfg.Episodes; ep++ {
		res, err := m.episode(ctx, s, ep)
		if err != nil {
			out.err = apperrors.Wrapf(err, "agent %d episode %d", s.index, ep)
			if len(res.Steps) > 0 {
				out.episodes = append(out.episodes, res)
			}
			return out
		}
		log.Info("episode finished",
			"episode", ep,
			"steps", len(res.Steps),
			"total_reward", res.TotalReward,
			"done", res.Done,
		)
		out.episodes = append(out.episodes, res)
	}
	return out
}

func (m *Master) episode(ctx context.Context, s *session, ep int) (EpisodeResult, error) {
	res := EpisodeResult{Agent: s.index, Episode: ep}
	if ep > 1 {
		if err := m.link.Publish(s.topics.Start, protocol.FormatFlag(false), true); err != nil {
			return res, err
		}
	}
	if err := m.link.Publish(s.topics.Start, protocol.FormatFlag(true), true); err != nil {
		return res, err
	}
	if err := s.awaitReady(ctx); err != nil {
		return res, err
	}
	obs, err := m.observation(ctx, s)
	if err != nil {
		return res, err
	}
	res.InitialMM = obs

	for step := 0; step < m.cfg.MaxSteps; step++ {
		if err := s.awaitReady(ctx); err != nil {
			return res, err
		}
		action := m.policy.Action(s.index, step, obs)
		if err := m.link.Publish(s.topics.Action, protocol.FormatInt(action), false); err != nil {
			return res, err
		}
		r, err := m.collect(ctx, s)
		if err != nil {
			return res, err
		}
		r.Step, r.Action = step+1, action
		res.Steps = append(res.Steps, r)
		res.TotalReward += r.Reward
		obs = r.ObservationMM
		if r.Done {
			res.Done = true
			break
		}
	}
	return res, nil
}

// observation waits for the initial observation of an episode.
func (m *Master) observation(ctx context.Context, s *session) (float64, error) {
	for {
		msg, err := s.next(ctx, m.cfg.StepTimeout)
		if err != nil {
			return 0, err
		}
		if msg.leaf != protocol.LeafObv {
			m.logger.Debug("ignoring report before initial observation", "agent", s.index, "leaf", msg.leaf)
			continue
		}
		v, err := protocol.ParseObservation(msg.payload)
		if err != nil {
			m.logger.Warn("ignoring report", "agent", s.index, "leaf", msg.leaf, "error", err.Error())
			continue
		}
		return v[0], nil
	}
}

// collect gathers one step's observation, reward and termination flag,
// which may arrive in any order.
func (m *Master) collect(ctx context.Context, s *session) (StepResult, error) {
	var (
		r                       StepResult
		haveObv, haveR, haveEnd bool
	)
	for !haveObv || !haveR || !haveEnd {
		msg, err := s.next(ctx, m.cfg.StepTimeout)
		if err != nil {
			return r, err
		}
		switch msg.leaf {
		case protocol.LeafObv:
			v, perr := protocol.ParseObservation(msg.payload)
			if err = perr; err == nil {
				r.ObservationMM, haveObv = v[0], true
			}
		case protocol.LeafReward:
			v, perr := protocol.ParseInt(msg.payload)
			if err = perr; err == nil {
				r.Reward, haveR = v, true
			}
		case protocol.LeafDone:
			v, perr := protocol.ParseDone(msg.payload)
			if err = perr; err == nil {
				r.Done, haveEnd = v, true
			}
		}
		if err != nil {
			m.logger.Warn("ignoring report", "agent", s.index, "leaf", msg.leaf, "error", err.Error())
		}
	}
	return r, nil
}

// report is one message from an agent.
type report struct {
	leaf    string
	payload []byte
}

// session is the master's view of one agent.
type session struct {
	index  uint32
	topics protocol.Topics
	inbox  chan report
	ready  atomic.Bool
	wake   chan struct{}
}

func newSession(n uint32) *session {
	return &session{
		index:  n,
		topics: protocol.AgentTopics(n),
		inbox:  make(chan report, 32),
		wake:   make(chan struct{}, 1),
	}
}

func (s *session) offer(leaf string, payload []byte, logger *logging.Logger) {
	switch leaf {
	case protocol.LeafStatus:
		ready, err := protocol.ParseFlag(payload)
		if err != nil {
			logger.Warn("ignoring agent status", "agent", s.index, "error", err.Error())
			return
		}
		s.ready.Store(ready)
		select {
		case s.wake <- struct{}{}:
		default:
		}
	case protocol.LeafObv, protocol.LeafReward, protocol.LeafDone:
		select {
		case s.inbox <- report{leaf: leaf, payload: slices.Clone(payload)}:
		default:
			logger.Warn("dropping agent report, inbox full", "agent", s.index, "leaf", leaf)
		}
	}
}

func (s *session) awaitReady(ctx context.Context) error {
	for !s.ready.Load() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.wake:
		}
	}
	return nil
}

func (s *session) next(ctx context.Context, timeout time.Duration) (report, error) {
	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}
	select {
	case <-ctx.Done():
		return report{}, ctx.Err()
	case <-expired:
		return report{}, apperrors.NewTimeoutError("agent report", timeout)
	case r := <-s.inbox:
		return r, nil
	}
}
