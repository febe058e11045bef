package robot

import (
	"fmt"
	"math"
)

// StepsPerTurn is the encoder resolution of an STS servo.
const StepsPerTurn = 4096

// MotorCalibration holds calibration data for a single servo.
type MotorCalibration struct {
	ID           int `json:"id"`
	DriveMode    int `json:"drive_mode"`
	HomingOffset int `json:"homing_offset"`
	RangeMin     int `json:"range_min"`
	RangeMax     int `json:"range_max"`
}

// Calibration holds calibration data for all joints, keyed by joint name.
type Calibration map[JointName]MotorCalibration

// zero is the raw position that maps to 0 rad.
func (c MotorCalibration) zero() int {
	return StepsPerTurn/2 + c.HomingOffset
}

// ToRadians converts a raw servo position to a joint angle.
func (c MotorCalibration) ToRadians(raw int) float64 {
	rad := float64(raw-c.zero()) * 2 * math.Pi / StepsPerTurn
	if c.DriveMode != 0 {
		rad = -rad
	}
	return rad
}

// FromRadians converts a joint angle to a raw servo position, clamped to the
// recorded range of motion when one is set.
func (c MotorCalibration) FromRadians(rad float64) int {
	if c.DriveMode != 0 {
		rad = -rad
	}
	raw := c.zero() + int(math.Round(rad*StepsPerTurn/(2*math.Pi)))
	if c.RangeMax > c.RangeMin {
		raw = min(max(raw, c.RangeMin), c.RangeMax)
	}
	return raw
}

// Validate rejects calibrations the servo bus cannot use.
func (c MotorCalibration) Validate() error {
	if c.ID < 1 || c.ID > 253 {
		return fmt.Errorf("servo id %d out of range", c.ID)
	}
	if c.RangeMin < 0 || c.RangeMax >= StepsPerTurn || c.RangeMin > c.RangeMax {
		return fmt.Errorf("servo %d: invalid range [%d, %d]", c.ID, c.RangeMin, c.RangeMax)
	}
	return nil
}

// MotorIDs returns the servo IDs for the given joints in order, skipping
// joints without calibration.
func (c Calibration) MotorIDs(joints []JointName) []int {
	ids := make([]int, 0, len(joints))
	for _, name := range joints {
		if mc, ok := c[name]; ok {
			ids = append(ids, mc.ID)
		}
	}
	return ids
}

// ByID returns joint name and calibration for a given servo ID.
func (c Calibration) ByID(id int) (JointName, MotorCalibration, bool) {
	for name, mc := range c {
		if mc.ID == id {
			return name, mc, true
		}
	}
	return "", MotorCalibration{}, false
}

// DefaultCalibration numbers the servos 1..n in joint order with a full
// range and no offset.
func DefaultCalibration(joints []JointName) Calibration {
	cal := make(Calibration, len(joints))
	for i, name := range joints {
		cal[name] = MotorCalibration{
			ID:       i + 1,
			RangeMin: 0,
			RangeMax: StepsPerTurn - 1,
		}
	}
	return cal
}
