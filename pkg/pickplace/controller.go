// Package pickplace provides the pick-and-place state machine and the
// control loop that drives it.
package pickplace

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gwillem/pickplace/pkg/robot"
)

// Snapshot is what the controller publishes after every tick.
type Snapshot struct {
	State     State
	Positions map[robot.JointName]float64
	Proximity float64
	// Remaining is the largest joint error to the current phase's target.
	Remaining float64
	Cycles    int
	Tick      uint64
	Timestamp time.Time
}

// Config holds the task geometry and loop tuning.
type Config struct {
	Arm     []robot.JointName
	Fingers []robot.JointName

	Home          robot.Pose
	Drop          robot.Pose
	FingersOpen   robot.Pose
	FingersClosed robot.Pose

	GrabThreshold    float64
	Tolerance        float64
	MaxJointVelocity float64
	Tick             time.Duration
	StallWarning     time.Duration
}

// ConfigFromRig builds the controller configuration from a validated rig
// configuration.
func ConfigFromRig(rc *robot.Config) Config {
	return Config{
		Arm:              rc.Arm,
		Fingers:          rc.Fingers,
		Home:             rc.Motion.Home,
		Drop:             rc.Motion.Drop,
		FingersOpen:      rc.FingersOpen(),
		FingersClosed:    rc.FingersClosed(),
		GrabThreshold:    *rc.Motion.GrabThreshold,
		Tolerance:        *rc.Motion.Tolerance,
		MaxJointVelocity: rc.Motion.MaxJointVelocity,
		Tick:             rc.Motion.Tick(),
		StallWarning:     rc.Motion.StallWarning(),
	}
}

// Controller runs the pick-and-place cycle against a rig.
type Controller struct {
	hw        robot.Hardware
	arm       robot.JointGroup
	fingers   robot.JointGroup
	proximity robot.DistanceSensor
	cfg       Config

	// Loop-owned.
	ticks       uint64
	phaseTicks  uint64
	stallWarned bool

	mu      sync.RWMutex
	state   State
	cycles  int
	running bool
	stateCh chan Snapshot
	logCh   chan string
}

// NewController binds the arm, the fingers and the proximity sensor and
// checks every pose against its group. Any failure here is a configuration
// error; once this returns the loop has no error path.
func NewController(hw robot.Hardware, cfg Config) (*Controller, error) {
	if cfg.Tick <= 0 {
		return nil, fmt.Errorf("tick must be positive, got %s", cfg.Tick)
	}
	if cfg.Tolerance < 0 {
		return nil, fmt.Errorf("tolerance must be >= 0, got %f", cfg.Tolerance)
	}
	if cfg.MaxJointVelocity <= 0 {
		return nil, fmt.Errorf("max joint velocity must be positive, got %f", cfg.MaxJointVelocity)
	}

	arm, err := robot.BindGroup(hw, cfg.Arm, cfg.Tick)
	if err != nil {
		return nil, fmt.Errorf("bind arm: %w", err)
	}
	fingers, err := robot.BindGroup(hw, cfg.Fingers, cfg.Tick)
	if err != nil {
		return nil, fmt.Errorf("bind fingers: %w", err)
	}
	proximity, err := hw.DistanceSensor(robot.ProximitySensorName)
	if err != nil {
		return nil, fmt.Errorf("bind proximity sensor: %w", err)
	}
	if err := proximity.Enable(cfg.Tick); err != nil {
		return nil, fmt.Errorf("enable proximity sensor: %w", err)
	}

	poses := []struct {
		name  string
		pose  robot.Pose
		group robot.JointGroup
	}{
		{"home", cfg.Home, arm},
		{"drop", cfg.Drop, arm},
		{"fingers open", cfg.FingersOpen, fingers},
		{"fingers closed", cfg.FingersClosed, fingers},
	}
	for _, p := range poses {
		if err := p.pose.Fits(p.group); err != nil {
			return nil, fmt.Errorf("%s pose: %w", p.name, err)
		}
	}

	return &Controller{
		hw:        hw,
		arm:       arm,
		fingers:   fingers,
		proximity: proximity,
		cfg:       cfg,
		state:     InitialState(),
		stateCh:   make(chan Snapshot, 1),
		logCh:     make(chan string, 10),
	}, nil
}

// Snapshots returns a channel that receives a snapshot after every tick.
func (c *Controller) Snapshots() <-chan Snapshot {
	return c.stateCh
}

// Logs returns a channel that receives log messages.
func (c *Controller) Logs() <-chan string {
	return c.logCh
}

// TickDuration returns the control period.
func (c *Controller) TickDuration() time.Duration {
	return c.cfg.Tick
}

// Joints returns arm joints followed by finger joints.
func (c *Controller) Joints() []robot.JointName {
	return append(c.arm.Names(), c.fingers.Names()...)
}

// State returns the current controller state.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Cycles returns the number of completed pick-and-place cycles.
func (c *Controller) Cycles() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cycles
}

func (c *Controller) log(format string, args ...any) {
	msg := fmt.Sprintf("[%s] %s", time.Now().Format("15:04:05"), fmt.Sprintf(format, args...))
	select {
	case c.logCh <- msg:
	default:
		// Drop if channel full
	}
}

// Run commands the start pose and then executes one tick per rig step until
// the rig terminates or ctx is cancelled.
func (c *Controller) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return errors.New("already running")
	}
	c.running = true
	c.mu.Unlock()
	defer c.shutdown()

	c.arm.SetVelocityLimit(c.cfg.MaxJointVelocity)
	c.fingers.Command(c.cfg.FingersOpen)
	c.arm.Command(c.cfg.Home)

	c.log("Pick-and-place started, tick %s", c.cfg.Tick)

	for c.hw.Step(ctx, c.cfg.Tick) {
		c.step()
	}

	if err := c.hw.Err(); err != nil {
		c.log("Rig error: %v", err)
		return err
	}
	return ctx.Err()
}

func (c *Controller) step() {
	c.ticks++
	c.phaseTicks++

	c.mu.RLock()
	prev := c.state
	c.mu.RUnlock()

	next := c.Tick(prev)

	c.mu.Lock()
	c.state = next
	if next.Phase != prev.Phase && next.Phase == Waiting {
		c.cycles++
	}
	cycles := c.cycles
	c.mu.Unlock()

	if next.Phase != prev.Phase {
		c.log("%s -> %s (%s)", prev.Phase, next.Phase, transitionFrom(prev.Phase).Trigger)
		c.phaseTicks = 0
		c.stallWarned = false
	} else {
		c.checkStall(next.Phase)
	}

	c.sendSnapshot(Snapshot{
		State:     next,
		Positions: c.positions(),
		Proximity: c.proximity.Distance(),
		Remaining: c.remaining(next.Phase),
		Cycles:    cycles,
		Tick:      c.ticks,
		Timestamp: time.Now(),
	})
}

// Tick runs one read-decide-act cycle from state s and returns the state to
// carry into the next tick.
func (c *Controller) Tick(s State) State {
	var done bool
	switch s.Phase {
	case Waiting:
		done = c.proximity.Distance() < c.cfg.GrabThreshold
		if done {
			c.fingers.Command(c.cfg.FingersClosed)
		}
	case Grasping:
		done = AllReached(c.fingers, c.cfg.FingersClosed, c.cfg.Tolerance)
	case MovingToDrop:
		StepToward(c.arm, c.cfg.Drop, c.cfg.MaxJointVelocity, c.cfg.Tick)
		done = AllReached(c.arm, c.cfg.Drop, c.cfg.Tolerance)
		if done {
			c.fingers.Command(c.cfg.FingersOpen)
		}
	case Releasing:
		done = AllReached(c.fingers, c.cfg.FingersOpen, c.cfg.Tolerance)
	case MovingHome:
		StepToward(c.arm, c.cfg.Home, c.cfg.MaxJointVelocity, c.cfg.Tick)
		done = AllReached(c.arm, c.cfg.Home, c.cfg.Tolerance)
	}
	if !done {
		return s
	}
	return s.advance()
}

func (c *Controller) checkStall(p Phase) {
	if p == Waiting || c.cfg.StallWarning <= 0 || c.stallWarned {
		return
	}
	if time.Duration(c.phaseTicks)*c.cfg.Tick < c.cfg.StallWarning {
		return
	}
	c.stallWarned = true
	c.log("Warning: %s for %s without reaching its target (remaining %.3f rad)",
		p, c.cfg.StallWarning, c.remaining(p))
}

// remaining returns how far the group the phase is waiting on is from its
// target.
func (c *Controller) remaining(p Phase) float64 {
	switch p {
	case Grasping:
		return c.fingers.Positions().MaxError(c.cfg.FingersClosed)
	case MovingToDrop:
		return c.arm.Positions().MaxError(c.cfg.Drop)
	case Releasing:
		return c.fingers.Positions().MaxError(c.cfg.FingersOpen)
	case MovingHome:
		return c.arm.Positions().MaxError(c.cfg.Home)
	default:
		return 0
	}
}

func (c *Controller) positions() map[robot.JointName]float64 {
	positions := make(map[robot.JointName]float64, len(c.arm)+len(c.fingers))
	for _, group := range []robot.JointGroup{c.arm, c.fingers} {
		for _, j := range group {
			positions[j.Name] = j.Position()
		}
	}
	return positions
}

func (c *Controller) sendSnapshot(s Snapshot) {
	select {
	case c.stateCh <- s:
	default:
		// Drop old snapshot if channel full, replace with new
		select {
		case <-c.stateCh:
		default:
		}
		select {
		case c.stateCh <- s:
		default:
		}
	}
}

func (c *Controller) shutdown() {
	c.mu.Lock()
	c.running = false
	c.mu.Unlock()

	c.log("Pick-and-place stopped after %d cycles", c.Cycles())
}
