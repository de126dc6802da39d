package sim

import (
	"math"
	"math/rand/v2"
	"sync"

	"github.com/Iron-Ham/swarmbot/internal/hal"
)

// Arena is a rectangular enclosure with corners (0,0) and (Width,Height), in mm.
type Arena struct {
	Width  float64
	Height float64
}

// Pose is the robot position in mm and heading in radians (0 faces +X,
// counter-clockwise positive).
type Pose struct {
	X       float64
	Y       float64
	Heading float64
}

type drive int

const (
	driveStop drive = iota
	driveForward
	driveLeft
	driveRight
)

// World integrates the robot's open-loop motion from the motor pin pattern
// and answers trigger pulses with the echo of the wall straight ahead.
type World struct {
	rig   *Rig
	arena Arena

	mu         sync.Mutex
	pose       Pose
	drive      drive
	lastUpdate uint64
	collisions int

	linear   float64 // mm/s
	angular  float64 // rad/s
	speed    float64 // mm/us
	maxRange float64
	noise    float64
	rng      *rand.Rand
}

// WorldOption configures a World.
type WorldOption func(*World)

// WithVelocities sets the true wheel velocities. They default to the
// calibrated 500 mm/s and 0.5 rad/s, so open-loop motion is exact.
func WithVelocities(linearMMPerSec, angularRadPerSec float64) WorldOption {
	return func(w *World) {
		w.linear = linearMMPerSec
		w.angular = angularRadPerSec
	}
}

// WithNoise adds zero-mean gaussian noise with the given deviation to echo distances.
func WithNoise(stddevMM float64, seed int64) WorldOption {
	return func(w *World) {
		w.noise = stddevMM
		w.rng = rand.New(rand.NewPCG(uint64(seed), uint64(seed)^0x9e3779b97f4a7c15))
	}
}

// WithSensorRange sets the farthest distance that produces an echo (default 4000mm).
func WithSensorRange(mm float64) WorldOption {
	return func(w *World) { w.maxRange = mm }
}

// NewWorld places the robot of rig at start inside arena and takes over
// the rig's trigger responder.
func NewWorld(rig *Rig, arena Arena, start Pose, opts ...WorldOption) *World {
	w := &World{
		rig:        rig,
		arena:      arena,
		pose:       start,
		lastUpdate: rig.Clock.Micros(),
		linear:     500,
		angular:    0.5,
		speed:      0.34,
		maxRange:   4000,
	}
	for _, opt := range opts {
		opt(w)
	}

	onMotor := func(_, _ hal.Level) { w.motorChanged() }
	for _, p := range []*Pin{rig.MotorA1, rig.MotorA2, rig.MotorB1, rig.MotorB2} {
		p.OnChange(onMotor)
	}
	rig.SetResponder(w.respond)
	return w
}

// Pose returns the robot pose at the current clock time.
func (w *World) Pose() Pose {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.integrate(w.rig.Clock.Micros())
	return w.pose
}

// Collisions returns how many times forward motion was stopped by a wall.
func (w *World) Collisions() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.collisions
}

// DistanceAhead returns the exact distance to the wall in front of the robot.
func (w *World) DistanceAhead() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.integrate(w.rig.Clock.Micros())
	return w.rayToWall()
}

func (w *World) motorChanged() {
	p := w.rig.MotorPattern()
	w.mu.Lock()
	defer w.mu.Unlock()
	w.integrate(w.rig.Clock.Micros())
	w.drive = decodeDrive(p)
}

func decodeDrive(p [4]hal.Level) drive {
	a1, a2, b1, b2 := bool(p[0]), bool(p[1]), bool(p[2]), bool(p[3])
	switch {
	case !a1 && a2 && !b1 && b2:
		return driveForward
	case !a1 && a2 && b1 && !b2:
		return driveLeft
	case a1 && !a2 && !b1 && b2:
		return driveRight
	default:
		return driveStop
	}
}

// integrate advances the pose to now. Caller holds mu.
func (w *World) integrate(now uint64) {
	if now <= w.lastUpdate {
		return
	}
	dt := float64(now-w.lastUpdate) / 1e6
	w.lastUpdate = now

	switch w.drive {
	case driveForward:
		d := w.linear * dt
		if ahead := w.rayToWall(); d > ahead {
			d = ahead
			w.collisions++
		}
		w.pose.X += d * math.Cos(w.pose.Heading)
		w.pose.Y += d * math.Sin(w.pose.Heading)
	case driveLeft:
		w.pose.Heading = normalizeAngle(w.pose.Heading + w.angular*dt)
	case driveRight:
		w.pose.Heading = normalizeAngle(w.pose.Heading - w.angular*dt)
	}
}

// rayToWall casts from the pose along the heading. Caller holds mu.
func (w *World) rayToWall() float64 {
	dx, dy := math.Cos(w.pose.Heading), math.Sin(w.pose.Heading)
	best := math.Inf(1)
	const eps = 1e-12
	if dx > eps {
		best = math.Min(best, (w.arena.Width-w.pose.X)/dx)
	} else if dx < -eps {
		best = math.Min(best, -w.pose.X/dx)
	}
	if dy > eps {
		best = math.Min(best, (w.arena.Height-w.pose.Y)/dy)
	} else if dy < -eps {
		best = math.Min(best, -w.pose.Y/dy)
	}
	return math.Max(best, 0)
}

func (w *World) respond(at uint64) []hal.Edge {
	w.mu.Lock()
	w.integrate(at)
	d := w.rayToWall()
	if w.noise > 0 && w.rng != nil {
		d = math.Max(0, d+w.rng.NormFloat64()*w.noise)
	}
	w.mu.Unlock()

	if d > w.maxRange {
		return []hal.Edge{{Rising: true, At: at}}
	}
	width := uint64(math.Round(2 * d / w.speed))
	return []hal.Edge{{Rising: true, At: at}, {Rising: false, At: at + width}}
}

func normalizeAngle(a float64) float64 {
	a = math.Mod(a, 2*math.Pi)
	if a < 0 {
		a += 2 * math.Pi
	}
	return a
}
