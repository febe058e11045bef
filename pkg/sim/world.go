// Package sim is a kinematic stand-in for the pick-and-place cell. Motors
// slew toward their setpoints at a bounded speed, objects appear in front of
// the proximity sensor after a delay and are carried off once the gripper
// closes on them.
package sim

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/gwillem/pickplace/pkg/robot"
)

// Default cell behaviour.
const (
	DefaultMotorVelocity = 3.0
	DefaultObjectDelay   = 2 * time.Second
	DefaultNearReading   = 100.0
	DefaultFarReading    = 1000.0
	DefaultHoldAngle     = 0.5
)

// Options configures a World. Zero values take the defaults above.
type Options struct {
	Arm     []robot.JointName
	Fingers []robot.JointName

	// MotorVelocity is the hardware speed limit of every motor in rad/s.
	MotorVelocity float64
	// ObjectDelay is how long after a drop (or start) the next object shows up.
	ObjectDelay time.Duration
	NearReading float64
	FarReading  float64
	// HoldAngle is the mean finger angle above which an object is held.
	HoldAngle float64

	// RealTime paces Step to the wall clock.
	RealTime bool
	// MaxTicks terminates the world after that many steps. Zero runs forever.
	MaxTicks uint64
}

func (o *Options) setDefaults() {
	if len(o.Arm) == 0 {
		o.Arm = robot.ArmJoints()
	}
	if len(o.Fingers) == 0 {
		o.Fingers = robot.FingerJoints()
	}
	if o.MotorVelocity == 0 {
		o.MotorVelocity = DefaultMotorVelocity
	}
	if o.ObjectDelay == 0 {
		o.ObjectDelay = DefaultObjectDelay
	}
	if o.NearReading == 0 {
		o.NearReading = DefaultNearReading
	}
	if o.FarReading == 0 {
		o.FarReading = DefaultFarReading
	}
	if o.HoldAngle == 0 {
		o.HoldAngle = DefaultHoldAngle
	}
}

// World implements robot.Hardware in memory.
type World struct {
	opts Options

	mu        sync.Mutex
	motors    map[robot.JointName]*motor
	fingers   []*motor
	proximity *proximity
	elapsed   time.Duration
	ticks     uint64
	spawnAt   time.Duration
	present   bool
	held      bool
	delivered int
	done      bool
	last      time.Time
}

// New returns a world with every motor at zero and no object in sight.
func New(opts Options) *World {
	opts.setDefaults()
	w := &World{
		opts:    opts,
		motors:  make(map[robot.JointName]*motor),
		spawnAt: opts.ObjectDelay,
	}
	for _, name := range append(append([]robot.JointName(nil), opts.Arm...), opts.Fingers...) {
		w.motors[name] = &motor{world: w, name: name}
	}
	for _, name := range opts.Fingers {
		w.fingers = append(w.fingers, w.motors[name])
	}
	w.proximity = &proximity{world: w}
	return w
}

// Devices lists a motor and a position sensor per joint, then the
// proximity sensor.
func (w *World) Devices() []robot.DeviceInfo {
	var devices []robot.DeviceInfo
	for _, name := range append(append([]robot.JointName(nil), w.opts.Arm...), w.opts.Fingers...) {
		devices = append(devices,
			robot.DeviceInfo{Name: string(name), Type: robot.DeviceMotor},
			robot.DeviceInfo{Name: robot.SensorName(name), Type: robot.DevicePositionSensor},
		)
	}
	return append(devices, robot.DeviceInfo{Name: robot.ProximitySensorName, Type: robot.DeviceDistanceSensor})
}

// Actuator binds the motor of the named joint.
func (w *World) Actuator(name string) (robot.Actuator, error) {
	m, ok := w.motors[robot.JointName(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", robot.ErrDeviceNotFound, name)
	}
	return m, nil
}

// PositionSensor binds the encoder of the named joint.
func (w *World) PositionSensor(name string) (robot.PositionSensor, error) {
	for joint, m := range w.motors {
		if robot.SensorName(joint) == name {
			return &encoder{motor: m}, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", robot.ErrDeviceNotFound, name)
}

// DistanceSensor binds the proximity sensor.
func (w *World) DistanceSensor(name string) (robot.DistanceSensor, error) {
	if name != robot.ProximitySensorName {
		return nil, fmt.Errorf("%w: %q", robot.ErrDeviceNotFound, name)
	}
	return w.proximity, nil
}

// Step advances the world by d.
func (w *World) Step(ctx context.Context, d time.Duration) bool {
	if ctx.Err() != nil {
		return false
	}
	if w.opts.RealTime && !w.pace(ctx, d) {
		return false
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done {
		return false
	}
	if w.opts.MaxTicks > 0 && w.ticks >= w.opts.MaxTicks {
		w.done = true
		return false
	}
	w.ticks++
	w.elapsed += d

	for _, m := range w.motors {
		m.advance(d, w.opts.MotorVelocity)
	}
	w.updateObject()
	return true
}

func (w *World) pace(ctx context.Context, d time.Duration) bool {
	now := time.Now()
	if w.last.IsZero() {
		w.last = now
		return true
	}
	w.last = w.last.Add(d)
	wait := w.last.Sub(now)
	if wait <= 0 {
		return true
	}
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (w *World) updateObject() {
	if !w.present && !w.held && w.elapsed >= w.spawnAt {
		w.present = true
	}

	var mean float64
	for _, f := range w.fingers {
		mean += f.position
	}
	if len(w.fingers) > 0 {
		mean /= float64(len(w.fingers))
	}
	closed := mean >= w.opts.HoldAngle

	switch {
	case w.present && closed:
		w.present = false
		w.held = true
	case w.held && !closed:
		w.held = false
		w.delivered++
		w.spawnAt = w.elapsed + w.opts.ObjectDelay
	}
}

// Err is always nil; a world never faults.
func (w *World) Err() error {
	return nil
}

// Delivered returns how many objects have been dropped.
func (w *World) Delivered() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.delivered
}

// Holding reports whether the gripper currently carries an object.
func (w *World) Holding() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.held
}

// Ticks returns how many steps have completed.
func (w *World) Ticks() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.ticks
}

// SetPosition teleports a joint, setpoint included.
func (w *World) SetPosition(name robot.JointName, rad float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if m, ok := w.motors[name]; ok {
		m.position = rad
		m.setpoint = rad
	}
}

type motor struct {
	world    *World
	name     robot.JointName
	position float64
	setpoint float64
	limit    float64
}

func (m *motor) SetPosition(rad float64) {
	m.world.mu.Lock()
	m.setpoint = rad
	m.world.mu.Unlock()
}

func (m *motor) SetVelocityLimit(radPerSec float64) {
	m.world.mu.Lock()
	m.limit = radPerSec
	m.world.mu.Unlock()
}

func (m *motor) advance(d time.Duration, hwLimit float64) {
	speed := hwLimit
	if m.limit > 0 {
		speed = math.Min(speed, m.limit)
	}
	maxStep := speed * d.Seconds()
	diff := m.setpoint - m.position
	if math.Abs(diff) <= maxStep {
		m.position = m.setpoint
		return
	}
	m.position += math.Copysign(maxStep, diff)
}

// encoder reads NaN until enabled.
type encoder struct {
	motor   *motor
	enabled bool
}

func (e *encoder) Enable(period time.Duration) error {
	if period <= 0 {
		return fmt.Errorf("invalid sampling period %s", period)
	}
	e.enabled = true
	return nil
}

func (e *encoder) Position() float64 {
	if !e.enabled {
		return math.NaN()
	}
	e.motor.world.mu.Lock()
	defer e.motor.world.mu.Unlock()
	return e.motor.position
}

type proximity struct {
	world   *World
	enabled bool
}

func (p *proximity) Enable(period time.Duration) error {
	if period <= 0 {
		return fmt.Errorf("invalid sampling period %s", period)
	}
	p.enabled = true
	return nil
}

func (p *proximity) Distance() float64 {
	if !p.enabled {
		return math.NaN()
	}
	p.world.mu.Lock()
	defer p.world.mu.Unlock()
	if p.world.present {
		return p.world.opts.NearReading
	}
	return p.world.opts.FarReading
}
