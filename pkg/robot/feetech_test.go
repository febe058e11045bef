package robot

import (
	"context"
	"io"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/hipsterbrown/feetech-servo/feetech"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// servoBus answers the STS protocol for a set of servos that reach their
// goal position instantly. It implements feetech.Transport.
type servoBus struct {
	mu     sync.Mutex
	proto  *feetech.Protocol
	servos map[byte]*busServo
	out    []byte
	closed bool

	// silent drops every reply, as if the bus had been unplugged.
	silent bool
	// syncWrites counts goal position sync writes.
	syncWrites int
}

type busServo struct {
	position int
	moveTime int
	torque   bool
	writes   int
}

func newServoBus(ids ...int) *servoBus {
	b := &servoBus{proto: feetech.NewProtocol(feetech.ProtocolSTS), servos: make(map[byte]*busServo)}
	for _, id := range ids {
		b.servos[byte(id)] = &busServo{position: StepsPerTurn / 2}
	}
	return b
}

func (b *servoBus) servo(id int) *busServo {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.servos[byte(id)]
}

func (b *servoBus) setSilent(silent bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.silent = silent
}

func (b *servoBus) reply(id byte, params []byte) {
	if b.silent {
		return
	}
	b.out = append(b.out, b.proto.Encode(feetech.Packet{ID: id, Parameters: params})...)
}

func (b *servoBus) word(v int) []byte {
	return b.proto.EncodeWord(uint16(v))
}

func (b *servoBus) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, io.ErrClosedPipe
	}
	if len(p) < 6 {
		return len(p), nil
	}

	id, inst := p[2], p[4]
	params := p[5 : 4+int(p[3])-1]
	s := b.servos[id]

	switch inst {
	case feetech.InstPing:
		if s != nil {
			b.reply(id, nil)
		}
	case feetech.InstRead:
		if s == nil {
			break
		}
		switch params[0] {
		case feetech.RegModelNumber.Address:
			b.reply(id, b.word(feetech.ModelSTS3215.Number))
		case feetech.RegPresentPosition.Address:
			b.reply(id, b.word(s.position))
		}
	case feetech.InstWrite:
		if s == nil {
			break
		}
		if params[0] == feetech.RegGoalPosition.Address {
			data := params[1:]
			s.position = int(b.proto.DecodeWord(data[0:2]))
			if len(data) >= 4 {
				s.moveTime = int(b.proto.DecodeWord(data[2:4]))
			}
			s.writes++
		}
		b.reply(id, nil)
	case feetech.InstSyncWrite:
		addr, n := params[0], int(params[1])
		if addr == feetech.RegGoalPosition.Address {
			b.syncWrites++
		}
		for rest := params[2:]; len(rest) >= 1+n; rest = rest[1+n:] {
			target := b.servos[rest[0]]
			if target == nil {
				continue
			}
			data := rest[1 : 1+n]
			switch addr {
			case feetech.RegGoalPosition.Address:
				target.position = int(b.proto.DecodeWord(data))
				target.writes++
			case feetech.RegTorqueEnable.Address:
				target.torque = data[0] == 1
			}
		}
	case feetech.InstSyncRead:
		for _, sid := range params[2:] {
			if target := b.servos[sid]; target != nil {
				b.reply(sid, b.word(target.position))
			}
		}
	}
	return len(p), nil
}

func (b *servoBus) Read(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.out) == 0 {
		return 0, io.EOF
	}
	n := copy(p, b.out)
	b.out = b.out[n:]
	return n, nil
}

func (b *servoBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

func (b *servoBus) SetReadTimeout(time.Duration) error { return nil }

func (b *servoBus) Flush() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.out = nil
	return nil
}

func calibratedConfig() *Config {
	cfg := DefaultConfig()
	cfg.Calibration = DefaultCalibration(cfg.Joints())
	return cfg
}

func newTestRig(t *testing.T, bus *servoBus) *FeetechRig {
	t.Helper()
	rig, err := NewFeetechRig(context.Background(), calibratedConfig(), nil, bus)
	require.NoError(t, err)
	t.Cleanup(func() { rig.Close() })
	return rig
}

func TestNewFeetechRig(t *testing.T) {
	bus := newServoBus(1, 2, 3, 4, 5, 6, 7)
	rig := newTestRig(t, bus)

	assert.Len(t, rig.Devices(), 2*len(AllJoints()))
	for id := 1; id <= 7; id++ {
		assert.True(t, bus.servo(id).torque, "servo %d torque", id)
	}

	sensor, err := rig.PositionSensor(SensorName(Elbow))
	require.NoError(t, err)
	assert.InDelta(t, 0, sensor.Position(), 1e-9)

	require.NoError(t, rig.Close())
	assert.False(t, bus.servo(1).torque)
	assert.True(t, bus.closed)
}

func TestNewFeetechRig_NoServos(t *testing.T) {
	_, err := NewFeetechRig(context.Background(), calibratedConfig(), nil, newServoBus())
	assert.ErrorContains(t, err, "no servo answered")
}

func TestNewFeetechRig_Uncalibrated(t *testing.T) {
	_, err := NewFeetechRig(context.Background(), DefaultConfig(), nil, newServoBus(1))
	assert.ErrorContains(t, err, "calibration covers")
}

func TestFeetechRig_MissingServo(t *testing.T) {
	rig := newTestRig(t, newServoBus(1, 2, 3, 4, 5, 6))

	_, err := rig.Actuator(string(FingerMiddle))
	assert.ErrorIs(t, err, ErrDeviceNotFound)
	_, err = rig.PositionSensor(SensorName(FingerMiddle))
	assert.ErrorIs(t, err, ErrDeviceNotFound)
	_, err = rig.DistanceSensor(ProximitySensorName)
	assert.ErrorIs(t, err, ErrDeviceNotFound)

	_, err = rig.Actuator(string(Finger1))
	assert.NoError(t, err)

	for _, d := range rig.Devices() {
		assert.NotEqual(t, string(FingerMiddle), d.Name)
	}
	assert.Len(t, rig.Devices(), 2*(len(AllJoints())-1))
}

func TestFeetechRig_SetpointsFlushOnStep(t *testing.T) {
	bus := newServoBus(1, 2, 3, 4, 5, 6, 7)
	rig := newTestRig(t, bus)
	ctx := context.Background()

	elbow, err := rig.Actuator(string(Elbow))
	require.NoError(t, err)
	wrist, err := rig.Actuator(string(Wrist1))
	require.NoError(t, err)
	sensor, err := rig.PositionSensor(SensorName(Elbow))
	require.NoError(t, err)

	elbow.SetPosition(math.Pi / 2)
	wrist.SetPosition(-math.Pi / 2)
	elbow.SetPosition(math.Pi / 4)

	// Nothing reaches the bus before the tick ends.
	assert.Equal(t, StepsPerTurn/2, bus.servo(2).position)
	assert.Zero(t, bus.servo(2).writes)

	require.True(t, rig.Step(ctx, time.Millisecond))

	assert.Equal(t, 1, bus.syncWrites)
	assert.Equal(t, 1, bus.servo(2).writes)
	assert.Equal(t, 2560, bus.servo(2).position)
	assert.Equal(t, 1024, bus.servo(3).position)
	assert.InDelta(t, math.Pi/4, sensor.Position(), 1e-9)

	// An idle tick writes nothing.
	require.True(t, rig.Step(ctx, time.Millisecond))
	assert.Equal(t, 1, bus.syncWrites)
}

func TestFeetechRig_VelocityLimitSetsMoveTime(t *testing.T) {
	tests := []struct {
		name   string
		limit  float64
		target float64
		wantMs int
	}{
		{"quarter turn at one turn per second", 2 * math.Pi, math.Pi / 2, 250},
		{"quarter turn at half a turn per second", math.Pi, -math.Pi / 2, 500},
		{"no movement still gets a move time", 2 * math.Pi, 0, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bus := newServoBus(1, 2, 3, 4, 5, 6, 7)
			rig := newTestRig(t, bus)

			shoulder, err := rig.Actuator(string(ShoulderLift))
			require.NoError(t, err)
			shoulder.SetVelocityLimit(tt.limit)
			shoulder.SetPosition(tt.target)

			require.True(t, rig.Step(context.Background(), time.Millisecond))

			s := bus.servo(1)
			assert.Equal(t, tt.wantMs, s.moveTime)
			assert.Equal(t, 1, s.writes)
			assert.Zero(t, bus.syncWrites)
		})
	}
}

func TestFeetechRig_FaultIsLatched(t *testing.T) {
	bus := newServoBus(1, 2, 3, 4, 5, 6, 7)
	rig := newTestRig(t, bus)
	ctx := context.Background()

	require.True(t, rig.Step(ctx, time.Millisecond))
	assert.NoError(t, rig.Err())

	bus.setSilent(true)
	assert.False(t, rig.Step(ctx, time.Millisecond))
	first := rig.Err()
	require.Error(t, first)
	assert.ErrorContains(t, first, "read positions")

	// The bus recovers but the rig stays stopped on the first fault.
	bus.setSilent(false)
	assert.False(t, rig.Step(ctx, time.Millisecond))
	assert.Equal(t, first, rig.Err())
}

func TestFeetechRig_StepCancelled(t *testing.T) {
	rig := newTestRig(t, newServoBus(1, 2, 3, 4, 5, 6, 7))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, rig.Step(ctx, time.Hour))
	assert.NoError(t, rig.Err())
}
