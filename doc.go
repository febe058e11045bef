// Package pickplace runs a pick-and-place cell: a four-joint arm with a
// three-finger gripper that picks up whatever lands in front of its
// proximity sensor, carries it to a drop pose and returns home.
//
// # Installation
//
//	go install github.com/gwillem/pickplace/cmd/pickplace@latest
//
// # Usage
//
// First, run setup to find the servo bus and the proximity sensor and to
// calibrate the arm:
//
//	pickplace setup
//
// Then start the cell:
//
//	pickplace run
//
// Without hardware, run against the simulated cell:
//
//	pickplace run --sim
//	pickplace devices --sim
//
// # Packages
//
// The module is organized into the following packages:
//
//   - cmd/pickplace: CLI with setup, run and devices commands
//   - pkg/robot: Hardware interface, joint groups, calibration, configuration and the servo-bus rig
//   - pkg/pickplace: Ramp planner, reached detector and the pick-and-place state machine
//   - pkg/sim: Simulated cell
package pickplace
