package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/swarmbot/internal/agent"
	"github.com/Iron-Ham/swarmbot/internal/config"
	"github.com/Iron-Ham/swarmbot/internal/event"
	"github.com/Iron-Ham/swarmbot/internal/hal/sim"
	"github.com/Iron-Ham/swarmbot/internal/logging"
	"github.com/Iron-Ham/swarmbot/internal/master"
	"github.com/Iron-Ham/swarmbot/internal/transport"
	"github.com/Iron-Ham/swarmbot/internal/transport/memory"
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run simulated agents in a virtual arena",
	Long: `Run one or more agents against simulated hardware: each robot lives in a
rectangular arena, its ultrasonic sensor ranges the wall ahead and its motors
move it for exactly as long as the motion controller asks.

By default an in-process broker and master drive the agents for the
configured number of episodes and a summary is printed at the end. With
--embedded-broker=false the agents connect to broker.url instead and wait
for an external master until interrupted.

Examples:
  # Three robots, two episodes of ten random steps, ten times real time
  swarmbot simulate --agents 3 --episodes 2 --steps 10 --policy random --time-scale 10

  # Agents only, driven by a master on a real broker
  swarmbot simulate --embedded-broker=false`,
	RunE: runSimulate,
}

// assignTimeout bounds the wait for the embedded master to hand out an index.
const assignTimeout = 10 * time.Second

func init() {
	rootCmd.AddCommand(simulateCmd)

	flags := simulateCmd.Flags()
	flags.Int("agents", 0, "number of simulated robots")
	flags.Int("episodes", 0, "episodes per robot")
	flags.Int("steps", 0, "maximum steps per episode")
	flags.String("policy", "", "master action policy (cycle, random, scripted)")
	flags.IntSlice("script", nil, "action sequence for the scripted policy")
	flags.Float64("time-scale", 0, "simulated clock speed-up")
	flags.Float64("noise", 0, "echo distance noise deviation in mm")
	flags.Int64("seed", 0, "policy and noise seed")
	flags.Bool("embedded-broker", true, "run an in-process broker and master")

	for key, flag := range map[string]string{
		"simulation.agents":          "agents",
		"simulation.episodes":        "episodes",
		"simulation.max_steps":       "steps",
		"simulation.policy":          "policy",
		"simulation.script":          "script",
		"simulation.time_scale":      "time-scale",
		"simulation.noise_mm":        "noise",
		"simulation.seed":            "seed",
		"simulation.embedded_broker": "embedded-broker",
	} {
		_ = viper.BindPFlag(key, flags.Lookup(flag))
	}
}

// simAgent is one simulated robot and its protocol driver.
type simAgent struct {
	id    string
	world *sim.World
	bot   *robot
	agent *agent.Agent
	link  transport.Transport
}

// linkFactory connects a named client to the coordination broker.
type linkFactory func(id string, handler transport.Handler, will *transport.Will) (transport.Transport, error)

func runSimulate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Close() }()
	watchLogLevel(logger)

	ctx, stop := signalContext(cmd)
	defer stop()

	sc := cfg.Simulation
	bus := event.NewBus(event.WithLogger(logger))
	newLink, err := simulationLinks(cfg, logger, bus)
	if err != nil {
		return err
	}

	var (
		summaryCh = make(chan master.Summary, 1)
		masterErr = make(chan error, 1)
	)
	if sc.EmbeddedBroker {
		policy, err := master.NewPolicy(sc.Policy, sc.Seed, sc.Script)
		if err != nil {
			return err
		}
		mcfg := master.DefaultConfig()
		mcfg.Agents = sc.Agents
		mcfg.MaxSteps = sc.MaxSteps
		mcfg.Episodes = sc.Episodes
		m, err := master.New(policy, mcfg, master.WithLogger(logger))
		if err != nil {
			return err
		}
		will := master.Will()
		link, err := newLink("swarmbot-master", m.Handle, &will)
		if err != nil {
			return err
		}
		defer func() { _ = link.Close() }()
		go func() {
			summary, err := m.Run(ctx, link)
			summaryCh <- summary
			masterErr <- err
		}()
	}

	agentCtx, stopAgents := context.WithCancel(ctx)
	defer stopAgents()
	clock := sim.NewScaledClock(sc.TimeScale)

	var (
		wg      sync.WaitGroup
		agents  []*simAgent
		runErrs = make(chan error, sc.Agents)
	)
	defer func() {
		stopAgents()
		wg.Wait()
		for _, s := range agents {
			_ = s.link.Close()
			_ = s.bot.Close()
		}
	}()

	for i := range sc.Agents {
		s, err := newSimAgent(cfg, i, clock, newLink, logger, bus)
		if err != nil {
			return err
		}
		agents = append(agents, s)
		wg.Go(func() {
			if err := s.agent.Run(agentCtx, s.link); err != nil && !errors.Is(err, context.Canceled) {
				runErrs <- fmt.Errorf("%s: %w", s.id, err)
			}
		})
		// The index broadcast reaches every agent still waiting for one, so
		// robots join one at a time.
		if err := awaitAssigned(ctx, s.agent, sc.EmbeddedBroker); err != nil {
			return fmt.Errorf("%s did not join: %w", s.id, err)
		}
		logger.Info("simulated agent joined", "client_id", s.id, "index", s.agent.Snapshot().Index)
	}

	if !sc.EmbeddedBroker {
		fmt.Fprintf(cmd.OutOrStdout(), "%d simulated agents connected to %s; press Ctrl+C to stop\n", len(agents), cfg.Broker.URL)
		select {
		case <-ctx.Done():
			return nil
		case err := <-runErrs:
			return err
		}
	}

	var summary master.Summary
	select {
	case summary = <-summaryCh:
	case err := <-runErrs:
		return err
	}
	err = <-masterErr
	printSummary(cmd.OutOrStdout(), summary, agents)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// simulationLinks returns a factory for the in-process broker or for MQTT
// clients of broker.url.
func simulationLinks(cfg *config.Config, logger *logging.Logger, bus *event.Bus) (linkFactory, error) {
	if !cfg.Simulation.EmbeddedBroker {
		return func(id string, handler transport.Handler, will *transport.Will) (transport.Transport, error) {
			mc, err := mqttConfig(cfg, id, will)
			if err != nil {
				return nil, err
			}
			return transport.NewMQTT(mc, handler, transport.WithMQTTLogger(logger), transport.WithMQTTBus(bus)), nil
		}, nil
	}

	opts := []memory.Option{memory.WithLogger(logger)}
	if cfg.Broker.JWT.Enabled {
		verifier, err := tokenSource(cfg, "broker")
		if err != nil {
			return nil, err
		}
		opts = append(opts, memory.WithAuthenticator(func(clientID, _, password string) error {
			subject, err := verifier.Verify(password)
			if err != nil {
				return err
			}
			if subject != clientID {
				return fmt.Errorf("token subject %q does not match client %q", subject, clientID)
			}
			return nil
		}))
	}
	broker := memory.NewBroker(opts...)

	return func(id string, handler transport.Handler, will *transport.Will) (transport.Transport, error) {
		var copts []memory.ClientOption
		if will != nil {
			copts = append(copts, memory.WithWill(*will))
		}
		tokens, err := tokenSource(cfg, id)
		if err != nil {
			return nil, err
		}
		if tokens != nil {
			copts = append(copts, memory.WithTokens(id, tokens))
		}
		return broker.Client(id, handler, copts...), nil
	}, nil
}

// startPose spreads n robots evenly across the arena, all facing +x.
func startPose(i, n int, arena sim.Arena) sim.Pose {
	return sim.Pose{
		X:       arena.Width / 4,
		Y:       arena.Height * float64(i+1) / float64(n+1),
		Heading: 0,
	}
}

func newSimAgent(cfg *config.Config, i int, clock *sim.ScaledClock, newLink linkFactory, logger *logging.Logger, bus *event.Bus) (*simAgent, error) {
	sc := cfg.Simulation
	rig := sim.NewRig(sim.WithClock(clock), sim.WithAlarmBits(cfg.Hardware.AlarmBits))
	arena := sim.Arena{Width: sc.ArenaWidthMM, Height: sc.ArenaHeightMM}
	wopts := []sim.WorldOption{
		sim.WithVelocities(cfg.Motion.LinearMMPerSec, cfg.Motion.AngularRadPerSec),
		sim.WithSensorRange(cfg.Ranging.MaxRangeMM),
	}
	if sc.NoiseMM > 0 {
		wopts = append(wopts, sim.WithNoise(sc.NoiseMM, sc.Seed+int64(i)))
	}
	world := sim.NewWorld(rig, arena, startPose(i, sc.Agents, arena), wopts...)

	id := fmt.Sprintf("swarmbot-sim-%d", i)
	alog := logger.With("client_id", id)
	// Simulated hardware never wedges, so there is nothing to supervise.
	bot, err := newRobot(rig.Board, cfg, nil, alog, bus)
	if err != nil {
		return nil, err
	}
	a, err := agent.New(bot.ranger, bot.motion, agentConfig(cfg), agent.WithLogger(alog), agent.WithBus(bus))
	if err != nil {
		_ = bot.Close()
		return nil, err
	}
	link, err := newLink(id, a.Handle, nil)
	if err != nil {
		_ = bot.Close()
		return nil, err
	}
	return &simAgent{id: id, world: world, bot: bot, agent: a, link: link}, nil
}

// awaitAssigned polls until a has an index. Without the embedded master
// the wait is unbounded.
func awaitAssigned(ctx context.Context, a *agent.Agent, bounded bool) error {
	if bounded {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, assignTimeout)
		defer cancel()
	}
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for !a.Snapshot().Assigned {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

func printSummary(w io.Writer, summary master.Summary, agents []*simAgent) {
	fmt.Fprintln(w, "Episodes:")
	fmt.Fprintf(w, "  %-6s %-8s %10s %6s %8s %5s\n", "AGENT", "EPISODE", "START(mm)", "STEPS", "REWARD", "DONE")
	for _, ep := range summary.Episodes {
		fmt.Fprintf(w, "  %-6d %-8d %10.1f %6d %8d %5v\n",
			ep.Agent, ep.Episode, ep.InitialMM, len(ep.Steps), ep.TotalReward, ep.Done)
	}
	fmt.Fprintf(w, "Total reward: %d\n\n", summary.TotalReward())

	fmt.Fprintln(w, "Robots:")
	for _, s := range agents {
		snap := s.agent.Snapshot()
		pose := s.world.Pose()
		fmt.Fprintf(w, "  %s index=%d steps=%d averted=%d wall_hits=%d pose=(%.0f, %.0f, %.0f°)\n",
			s.id, snap.Index, snap.Steps, snap.Collisions, s.world.Collisions(),
			pose.X, pose.Y, pose.Heading*180/math.Pi)
	}
}
