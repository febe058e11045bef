package main

import (
	"context"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gwillem/pickplace/pkg/pickplace"
	"github.com/gwillem/pickplace/pkg/robot"
	"github.com/gwillem/pickplace/pkg/sim"
)

func TestApplyTick(t *testing.T) {
	tests := []struct {
		name    string
		tick    time.Duration
		wantMs  int
		wantErr string
	}{
		{"unset keeps config", 0, 32, ""},
		{"whole milliseconds", 20 * time.Millisecond, 20, ""},
		{"one millisecond", time.Millisecond, 1, ""},
		{"fractional", 1500 * time.Microsecond, 32, "whole number"},
		{"below 1ms", 500 * time.Microsecond, 32, "below 1ms"},
		{"negative", -time.Millisecond, 32, "below 1ms"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := robot.DefaultConfig()
			err := applyTick(cfg, tt.tick)
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.wantMs, cfg.Motion.TickMs)
		})
	}
}

func newSimController(t *testing.T, opts sim.Options) (*pickplace.Controller, *sim.World) {
	t.Helper()
	world := sim.New(opts)
	ctrl, err := pickplace.NewController(world, pickplace.ConfigFromRig(robot.DefaultConfig()))
	require.NoError(t, err)
	return ctrl, world
}

func TestRunController_DoneAfterCancel(t *testing.T) {
	ctrl, world := newSimController(t, sim.Options{})

	msgs := make(chan tea.Msg, 1)
	ctx, cancel := context.WithCancel(context.Background())
	done := runController(ctx, ctrl, func(msg tea.Msg) { msgs <- msg })

	require.Eventually(t, func() bool { return world.Ticks() > 10 }, 5*time.Second, time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("controller still running after cancel")
	}

	// Nothing steps the world once done is closed.
	ticks := world.Ticks()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, ticks, world.Ticks())

	msg := <-msgs
	assert.Equal(t, doneMsg{err: nil}, msg)
}

func TestRunController_RigStops(t *testing.T) {
	ctrl, world := newSimController(t, sim.Options{MaxTicks: 50})

	msgs := make(chan tea.Msg, 1)
	done := runController(context.Background(), ctrl, func(msg tea.Msg) { msgs <- msg })

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("controller did not stop with the rig")
	}
	assert.Equal(t, uint64(50), world.Ticks())
	assert.Equal(t, doneMsg{err: nil}, <-msgs)
}

func TestStripClock(t *testing.T) {
	assert.Equal(t, "Grasping", stripClock("[15:04:05] Grasping"))
	assert.Equal(t, "no clock", stripClock("no clock"))
	assert.Equal(t, "[broken", stripClock("[broken"))
}
