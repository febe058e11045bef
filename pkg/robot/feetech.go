package robot

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/hipsterbrown/feetech-servo/feetech"
	"go.uber.org/multierr"
)

// FeetechRig drives one STS servo per joint on a shared serial bus. The
// servo's present position is the joint's sensor. Setpoints written during a
// tick are buffered and flushed in one sync write when the tick ends, and
// positions are refreshed with one sync read as the next tick begins.
type FeetechRig struct {
	bus         *feetech.Bus
	group       *feetech.ServoGroup
	servos      map[int]*feetech.Servo
	calibration Calibration
	joints      []JointName
	proximity   *SerialProximity

	positions map[int]int
	pending   map[int]int
	limits    map[int]float64

	ticker *time.Ticker
	period time.Duration
	err    error
}

// NewFeetechRig opens the servo bus, enables torque on every configured
// joint's servo that answers a scan and takes a first position snapshot.
// Joints whose servo is silent are left out of Devices. transport may be nil
// to open cfg.Port, and proximity may be nil on a rig without a distance
// sensor.
func NewFeetechRig(ctx context.Context, cfg *Config, proximity *SerialProximity, transport feetech.Transport) (*FeetechRig, error) {
	bus, err := feetech.NewBus(feetech.BusConfig{
		Transport: transport,
		Port:      cfg.Port,
		BaudRate:  DefaultBaudRate,
		Protocol:  feetech.ProtocolSTS,
		Timeout:   100 * time.Millisecond,
	})
	if err != nil {
		return nil, fmt.Errorf("open bus: %w", err)
	}

	joints := cfg.Joints()
	ids := cfg.Calibration.MotorIDs(joints)
	if len(ids) != len(joints) {
		bus.Close()
		return nil, fmt.Errorf("calibration covers %d of %d joints", len(ids), len(joints))
	}

	found, err := bus.Scan(ctx, minInt(ids), maxInt(ids))
	if err != nil {
		bus.Close()
		return nil, fmt.Errorf("scan bus: %w", err)
	}
	wanted := make(map[int]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}
	servos := make(map[int]*feetech.Servo, len(found))
	var present []int
	for _, s := range found {
		if !wanted[s.ID] {
			continue
		}
		servos[s.ID] = feetech.NewServo(bus, s.ID, s.Model)
		present = append(present, s.ID)
	}
	if len(present) == 0 {
		bus.Close()
		return nil, fmt.Errorf("no servo answered on ids %d-%d", minInt(ids), maxInt(ids))
	}

	r := &FeetechRig{
		bus:         bus,
		group:       feetech.NewServoGroupByIDs(bus, present...),
		servos:      servos,
		calibration: cfg.Calibration,
		joints:      joints,
		proximity:   proximity,
		positions:   make(map[int]int, len(present)),
		pending:     make(map[int]int, len(present)),
		limits:      make(map[int]float64),
	}

	if err := r.group.EnableAll(ctx); err != nil {
		bus.Close()
		return nil, fmt.Errorf("enable torque: %w", err)
	}
	if err := r.refresh(ctx); err != nil {
		bus.Close()
		return nil, err
	}
	return r, nil
}

func minInt(v []int) int {
	m := v[0]
	for _, x := range v[1:] {
		m = min(m, x)
	}
	return m
}

func maxInt(v []int) int {
	m := v[0]
	for _, x := range v[1:] {
		m = max(m, x)
	}
	return m
}

// Close disables torque and releases the bus and the proximity port.
func (r *FeetechRig) Close() error {
	if r.ticker != nil {
		r.ticker.Stop()
	}
	err := r.group.DisableAll(context.Background())
	err = multierr.Append(err, r.bus.Close())
	if r.proximity != nil {
		err = multierr.Append(err, r.proximity.Close())
	}
	return err
}

// Devices lists a motor and a position sensor per joint, then the
// proximity sensor when one is attached.
func (r *FeetechRig) Devices() []DeviceInfo {
	devices := make([]DeviceInfo, 0, 2*len(r.joints)+1)
	for _, name := range r.joints {
		if _, ok := r.servo(name); !ok {
			continue
		}
		devices = append(devices,
			DeviceInfo{Name: string(name), Type: DeviceMotor},
			DeviceInfo{Name: SensorName(name), Type: DevicePositionSensor},
		)
	}
	if r.proximity != nil {
		devices = append(devices, DeviceInfo{Name: ProximitySensorName, Type: DeviceDistanceSensor})
	}
	return devices
}

func (r *FeetechRig) servo(name JointName) (MotorCalibration, bool) {
	cal, ok := r.calibration[name]
	if !ok {
		return MotorCalibration{}, false
	}
	if _, ok := r.servos[cal.ID]; !ok {
		return MotorCalibration{}, false
	}
	return cal, true
}

// Actuator binds the servo of the named joint.
func (r *FeetechRig) Actuator(name string) (Actuator, error) {
	cal, ok := r.servo(JointName(name))
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrDeviceNotFound, name)
	}
	return &feetechJoint{rig: r, cal: cal}, nil
}

// PositionSensor binds the present-position feedback of a joint's servo.
func (r *FeetechRig) PositionSensor(name string) (PositionSensor, error) {
	for _, joint := range r.joints {
		if SensorName(joint) != name {
			continue
		}
		if cal, ok := r.servo(joint); ok {
			return &feetechJoint{rig: r, cal: cal}, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrDeviceNotFound, name)
}

// DistanceSensor binds the serial proximity sensor.
func (r *FeetechRig) DistanceSensor(name string) (DistanceSensor, error) {
	if r.proximity == nil || name != ProximitySensorName {
		return nil, fmt.Errorf("%w: %q", ErrDeviceNotFound, name)
	}
	return r.proximity, nil
}

// Step flushes the tick's setpoints, waits for the next tick and refreshes
// the position snapshot.
func (r *FeetechRig) Step(ctx context.Context, d time.Duration) bool {
	if r.err != nil {
		return false
	}
	if err := r.flush(ctx); err != nil {
		r.err = err
		return false
	}

	if r.ticker == nil || r.period != d {
		if r.ticker != nil {
			r.ticker.Stop()
		}
		r.ticker = time.NewTicker(d)
		r.period = d
	}
	select {
	case <-ctx.Done():
		return false
	case <-r.ticker.C:
	}

	if r.proximity != nil {
		if err := r.proximity.Err(); err != nil {
			r.err = err
			return false
		}
	}
	if err := r.refresh(ctx); err != nil {
		r.err = err
		return false
	}
	return true
}

// Err returns the bus or sensor fault that stopped the rig.
func (r *FeetechRig) Err() error {
	return r.err
}

func (r *FeetechRig) refresh(ctx context.Context) error {
	raw, err := r.group.Positions(ctx)
	if err != nil {
		return fmt.Errorf("read positions: %w", err)
	}
	for id, pos := range raw {
		r.positions[id] = pos
	}
	return nil
}

func (r *FeetechRig) flush(ctx context.Context) error {
	if len(r.pending) == 0 {
		return nil
	}

	batch := make(feetech.PositionMap, len(r.pending))
	for id, raw := range r.pending {
		limit, ok := r.limits[id]
		if !ok || limit <= 0 {
			batch[id] = raw
			continue
		}
		// Velocity-capped servos get a move time long enough to respect
		// the cap from where they are now.
		steps := math.Abs(float64(raw - r.positions[id]))
		ms := int(math.Ceil(steps / (limit * StepsPerTurn / (2 * math.Pi)) * 1000))
		if err := r.servos[id].SetPositionWithTime(ctx, raw, max(ms, 1)); err != nil {
			return fmt.Errorf("write servo %d: %w", id, err)
		}
	}
	clear(r.pending)

	if len(batch) == 0 {
		return nil
	}
	if err := r.group.SetPositions(ctx, batch); err != nil {
		return fmt.Errorf("write positions: %w", err)
	}
	return nil
}

// feetechJoint is both the actuator and the position sensor of one servo.
type feetechJoint struct {
	rig *FeetechRig
	cal MotorCalibration
}

func (j *feetechJoint) SetPosition(rad float64) {
	j.rig.pending[j.cal.ID] = j.cal.FromRadians(rad)
}

func (j *feetechJoint) SetVelocityLimit(radPerSec float64) {
	j.rig.limits[j.cal.ID] = radPerSec
}

// Enable accepts any period; the bus is sampled once per tick.
func (j *feetechJoint) Enable(period time.Duration) error {
	if period <= 0 {
		return fmt.Errorf("invalid sampling period %s", period)
	}
	return nil
}

func (j *feetechJoint) Position() float64 {
	return j.cal.ToRadians(j.rig.positions[j.cal.ID])
}
