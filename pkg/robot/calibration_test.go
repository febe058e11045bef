package robot

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMotorCalibration_ToRadians(t *testing.T) {
	cal := MotorCalibration{
		RangeMin: 0,
		RangeMax: 4095,
	}

	tests := []struct {
		raw      int
		expected float64
	}{
		{2048, 0},            // center -> 0
		{3072, math.Pi / 2},  // quarter turn forward
		{1024, -math.Pi / 2}, // quarter turn back
		{0, -math.Pi},        // bottom of the encoder
	}

	for _, tt := range tests {
		got := cal.ToRadians(tt.raw)
		if math.Abs(got-tt.expected) > 1e-9 {
			t.Errorf("ToRadians(%d) = %f, want %f", tt.raw, got, tt.expected)
		}
	}
}

func TestMotorCalibration_FromRadians(t *testing.T) {
	cal := MotorCalibration{
		RangeMin: 1000,
		RangeMax: 3000,
	}

	tests := []struct {
		rad      float64
		expected int
	}{
		{0, 2048},
		{math.Pi / 4, 2560},
		{-math.Pi / 4, 1536},
		{math.Pi, 3000},  // clamped to range max
		{-math.Pi, 1000}, // clamped to range min
	}

	for _, tt := range tests {
		got := cal.FromRadians(tt.rad)
		if got != tt.expected {
			t.Errorf("FromRadians(%f) = %d, want %d", tt.rad, got, tt.expected)
		}
	}
}

func TestMotorCalibration_DriveModeAndOffset(t *testing.T) {
	cal := MotorCalibration{
		DriveMode:    1,
		HomingOffset: 100,
		RangeMin:     0,
		RangeMax:     4095,
	}

	assert.InDelta(t, 0, cal.ToRadians(2148), 1e-9)
	assert.InDelta(t, -math.Pi/2, cal.ToRadians(3172), 1e-9)
	assert.Equal(t, 3172, cal.FromRadians(-math.Pi/2))
}

func TestMotorCalibration_RoundTrip(t *testing.T) {
	cal := MotorCalibration{
		RangeMin: 823,
		RangeMax: 3540,
	}

	for raw := cal.RangeMin; raw <= cal.RangeMax; raw += 100 {
		rad := cal.ToRadians(raw)
		back := cal.FromRadians(rad)
		if back != raw {
			t.Errorf("Round-trip failed: %d -> %f -> %d", raw, rad, back)
		}
	}
}

func TestMotorCalibration_Validate(t *testing.T) {
	assert.NoError(t, MotorCalibration{ID: 1, RangeMin: 0, RangeMax: 4095}.Validate())
	assert.Error(t, MotorCalibration{ID: 0, RangeMax: 10}.Validate())
	assert.Error(t, MotorCalibration{ID: 2, RangeMin: 300, RangeMax: 200}.Validate())
	assert.Error(t, MotorCalibration{ID: 2, RangeMin: 0, RangeMax: 5000}.Validate())
}

func TestCalibration_MotorIDs(t *testing.T) {
	cal := DefaultCalibration(AllJoints())

	ids := cal.MotorIDs(AllJoints())
	expected := []int{1, 2, 3, 4, 5, 6, 7}

	if len(ids) != len(expected) {
		t.Fatalf("MotorIDs returned %d IDs, want %d", len(ids), len(expected))
	}

	for i, id := range ids {
		if id != expected[i] {
			t.Errorf("MotorIDs()[%d] = %d, want %d", i, id, expected[i])
		}
	}

	assert.Equal(t, []int{5, 6, 7}, cal.MotorIDs(FingerJoints()))
}

func TestCalibration_ByID(t *testing.T) {
	cal := Calibration{
		ShoulderLift: MotorCalibration{ID: 1, RangeMin: 100, RangeMax: 200},
		FingerMiddle: MotorCalibration{ID: 7, RangeMin: 300, RangeMax: 400},
	}

	name, mc, ok := cal.ByID(1)
	if !ok {
		t.Fatal("ByID(1) returned false")
	}
	if name != ShoulderLift {
		t.Errorf("ByID(1) returned name %s, want shoulder_lift_joint", name)
	}
	if mc.RangeMin != 100 {
		t.Errorf("ByID(1) returned wrong calibration: %+v", mc)
	}

	_, _, ok = cal.ByID(99)
	if ok {
		t.Error("ByID(99) should return false")
	}
}
