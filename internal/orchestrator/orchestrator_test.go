package orchestrator

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/huelight/internal/color"
	"github.com/dokzlo13/huelight/internal/command"
	"github.com/dokzlo13/huelight/internal/eventbus"
	"github.com/dokzlo13/huelight/internal/ledger"
	"github.com/dokzlo13/huelight/internal/light"
)

func extended(e command.Extended) command.Command {
	return command.Command{LightID: 1, Kind: command.KindExtended, Extended: e}
}

func TestHandle_OnOff(t *testing.T) {
	// arrange
	dev := newFakeDevice(colorLight())
	h := newHarness(dev)

	// act
	status, err := h.orch.Handle(context.Background(), command.Command{LightID: 1, Kind: command.KindOnOff, On: true})

	// assert
	require.NoError(t, err)
	require.NotNil(t, status)
	assert.True(t, status.On)
	assert.Equal(t, 39, status.Brightness)
	assert.True(t, dev.current().On)

	require.Len(t, dev.written(), 1)
	assert.Equal(t, light.FieldOn, dev.written()[0].Dirty())
}

func TestHandle_ToggleTwiceRestoresPower(t *testing.T) {
	for _, initial := range []bool{true, false} {
		s := colorLight()
		s.On = initial
		dev := newFakeDevice(s)
		h := newHarness(dev)

		toggle := command.Command{LightID: 1, Kind: command.KindToggle}
		first, err := h.orch.Handle(context.Background(), toggle)
		require.NoError(t, err)
		assert.Equal(t, !initial, first.On)

		second, err := h.orch.Handle(context.Background(), toggle)
		require.NoError(t, err)
		assert.Equal(t, initial, second.On)
		assert.Equal(t, initial, dev.current().On)
	}
}

func TestHandle_ValidationNeverPersists(t *testing.T) {
	tests := []struct {
		name string
		ext  command.Extended
		want error
	}{
		{"brightness above range", command.Extended{Brightness: float64Ptr(101)}, ErrInvalidBrightness},
		{"brightness below range", command.Extended{Brightness: float64Ptr(-1)}, ErrInvalidBrightness},
		{"increment above range", command.Extended{IncrementBrightness: float64Ptr(150)}, ErrInvalidBrightness},
		{"color temperature too cold", command.Extended{ColorTemp: float64Ptr(152)}, ErrInvalidColorTemperature},
		{"color temperature too warm", command.Extended{ColorTemp: float64Ptr(501)}, ErrInvalidColorTemperature},
		{"saturation above range", command.Extended{Saturation: float64Ptr(101)}, ErrInvalidSaturation},
		{"negative transition", command.Extended{TransitionTime: float64Ptr(-1)}, ErrInvalidTransitionTime},
		{"transition beyond bridge range", command.Extended{TransitionTime: float64Ptr(65536)}, ErrInvalidTransitionTime},
		{"colorloop too long", command.Extended{Colorloop: float64Ptr(1e12)}, ErrInvalidDuration},
		{"colorloop infinite", command.Extended{Colorloop: float64Ptr(math.Inf(1))}, ErrInvalidDuration},
		{"late failure after valid fields", command.Extended{On: boolPtr(true), Brightness: float64Ptr(50), Saturation: float64Ptr(200)}, ErrInvalidSaturation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// arrange
			dev := &mockDevices{}
			dev.On("Fetch", mock.Anything, 1).Return(colorLight(), nil)
			h := newHarness(dev)

			// act
			status, err := h.orch.Handle(context.Background(), extended(tt.ext))

			// assert
			assert.Nil(t, status)
			assert.ErrorIs(t, err, tt.want)
			assert.True(t, IsValidation(err))
			dev.AssertNotCalled(t, "Persist", mock.Anything, mock.Anything)
			assert.Empty(t, h.orch.Degraded())
		})
	}
}

func TestHandle_ValidationBoundariesAccepted(t *testing.T) {
	tests := []struct {
		name string
		ext  command.Extended
	}{
		{"brightness 0", command.Extended{Brightness: float64Ptr(0)}},
		{"brightness 100", command.Extended{Brightness: float64Ptr(100)}},
		{"color temperature 153", command.Extended{ColorTemp: float64Ptr(153)}},
		{"color temperature 500", command.Extended{ColorTemp: float64Ptr(500)}},
		{"saturation 0", command.Extended{Saturation: float64Ptr(0)}},
		{"saturation 100", command.Extended{Saturation: float64Ptr(100)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := newFakeDevice(colorLight())
			h := newHarness(dev)

			_, err := h.orch.Handle(context.Background(), extended(tt.ext))
			require.NoError(t, err)
			assert.Len(t, dev.written(), 1)
		})
	}
}

func TestHandle_ColorTempIgnoredWithoutCapability(t *testing.T) {
	s := colorLight()
	s.Model.HasColorTemp = false
	dev := newFakeDevice(s)
	h := newHarness(dev)

	_, err := h.orch.Handle(context.Background(), extended(command.Extended{ColorTemp: float64Ptr(9000), On: boolPtr(true)}))
	require.NoError(t, err)
	require.Len(t, dev.written(), 1)
	assert.False(t, dev.written()[0].IsDirty(light.FieldColorTemp))
}

func TestHandle_Brightness(t *testing.T) {
	t.Run("should switch off at zero", func(t *testing.T) {
		s := colorLight()
		s.On = true
		dev := newFakeDevice(s)
		h := newHarness(dev)

		status, err := h.orch.Handle(context.Background(), extended(command.Extended{Brightness: float64Ptr(0)}))
		require.NoError(t, err)
		assert.False(t, status.On)
		assert.Equal(t, 0, status.Brightness)
		assert.Equal(t, uint8(100), *dev.current().Brightness)
	})

	t.Run("should switch on and scale", func(t *testing.T) {
		dev := newFakeDevice(colorLight())
		h := newHarness(dev)

		status, err := h.orch.Handle(context.Background(), extended(command.Extended{Brightness: float64Ptr(50)}))
		require.NoError(t, err)
		assert.True(t, status.On)
		assert.Equal(t, 50, status.Brightness)
		assert.Equal(t, uint8(127), *dev.current().Brightness)
	})

	t.Run("should prefer absolute over increment", func(t *testing.T) {
		dev := newFakeDevice(colorLight())
		h := newHarness(dev)

		_, err := h.orch.Handle(context.Background(), extended(command.Extended{
			Brightness:          float64Ptr(10),
			IncrementBrightness: float64Ptr(20),
		}))
		require.NoError(t, err)
		assert.False(t, dev.written()[0].IsDirty(light.FieldIncrementBrightness))
	})

	t.Run("should increment and power on", func(t *testing.T) {
		dev := newFakeDevice(colorLight())
		h := newHarness(dev)

		_, err := h.orch.Handle(context.Background(), extended(command.Extended{IncrementBrightness: float64Ptr(10)}))
		require.NoError(t, err)
		w := dev.written()[0]
		assert.True(t, w.On)
		assert.Equal(t, 25, *w.IncrementBrightness)
	})
}

func TestHandle_Alert(t *testing.T) {
	// arrange
	dev := newFakeDevice(colorLight())
	h := newHarness(dev)
	red := color.RGBToXY(color.RGB{R: 255}, "LCT015")

	// act
	status, err := h.orch.Handle(context.Background(), command.Command{
		LightID: 1, Kind: command.KindAlert, Alert: command.Alert{Seconds: 2},
	})

	// assert: lit at full brightness in red, then flashing
	require.NoError(t, err)
	require.NotNil(t, status)
	assert.True(t, status.On)
	assert.Equal(t, 100, status.Brightness)

	writes := dev.written()
	require.Len(t, writes, 2)
	assert.True(t, writes[0].On)
	assert.Equal(t, uint8(254), *writes[0].Brightness)
	assert.Equal(t, 0.0, *writes[0].TransitionTime)
	assert.Equal(t, red, *writes[0].XY)
	assert.Equal(t, light.FieldAlert, writes[1].Dirty())
	assert.Equal(t, light.AlertLSelect, writes[1].Alert)

	cur := dev.current()
	assert.Equal(t, light.AlertLSelect, cur.Alert)
	assert.Equal(t, red, *cur.XY)

	tasks := h.clock.scheduled()
	require.Len(t, tasks, 1)
	assert.Equal(t, 2*time.Second, tasks[0].delay)
	assert.Equal(t, 1, h.orch.Pending(1))

	// act: the timer expires
	h.clock.fire(0)

	// assert: restored from the snapshot
	writes = dev.written()
	require.Len(t, writes, 3)
	assert.Equal(t, 2.0, *writes[2].TransitionTime)

	cur = dev.current()
	assert.False(t, cur.On)
	assert.Equal(t, uint8(100), *cur.Brightness)
	assert.Equal(t, color.XY{X: 0.3, Y: 0.3}, *cur.XY)
	assert.Equal(t, light.AlertNone, cur.Alert)
	assert.Equal(t, 0, h.orch.Pending(1))
}

func TestHandle_AlertColors(t *testing.T) {
	t.Run("should use the requested colour", func(t *testing.T) {
		dev := newFakeDevice(colorLight())
		h := newHarness(dev)

		blue := command.ColorSpec{Kind: command.ColorRGB, RGB: color.RGB{B: 255}}
		_, err := h.orch.Handle(context.Background(), command.Command{
			LightID: 1, Kind: command.KindAlert, Alert: command.Alert{Seconds: 1, Color: &blue},
		})
		require.NoError(t, err)
		assert.Equal(t, color.RGBToXY(blue.RGB, "LCT015"), *dev.written()[0].XY)
	})

	t.Run("should keep the colour for unknown names", func(t *testing.T) {
		dev := newFakeDevice(colorLight())
		h := newHarness(dev)

		spec := command.ColorSpec{Kind: command.ColorNamed, Name: "sparkly"}
		_, err := h.orch.Handle(context.Background(), command.Command{
			LightID: 1, Kind: command.KindAlert, Alert: command.Alert{Seconds: 1, Color: &spec},
		})
		require.NoError(t, err)
		assert.False(t, dev.written()[0].IsDirty(light.FieldXY))
	})

	t.Run("should not touch colour on white lights", func(t *testing.T) {
		s := colorLight()
		s.XY = nil
		s.Model.HasColor = false
		dev := newFakeDevice(s)
		h := newHarness(dev)

		_, err := h.orch.Handle(context.Background(), command.Command{
			LightID: 1, Kind: command.KindAlert, Alert: command.Alert{Seconds: 1},
		})
		require.NoError(t, err)
		assert.False(t, dev.written()[0].IsDirty(light.FieldXY))

		h.clock.fire(0)
		assert.Nil(t, dev.current().XY)
	})
}

func TestHandle_AlertStopsOnRejectedSave(t *testing.T) {
	dev := newFakeDevice(colorLight())
	dev.reject = true
	h := newHarness(dev)

	status, err := h.orch.Handle(context.Background(), command.Command{
		LightID: 1, Kind: command.KindAlert, Alert: command.Alert{Seconds: 2},
	})

	require.NoError(t, err)
	assert.Nil(t, status)
	assert.Len(t, dev.written(), 1)
	assert.Empty(t, h.clock.scheduled())
	assert.Empty(t, h.events.events)
}

func TestHandle_AnimationBracketRestoresState(t *testing.T) {
	// arrange
	dev := newFakeDevice(colorLight())
	h := newHarness(dev)
	ctx := context.Background()

	// act
	status, err := h.orch.Handle(ctx, command.Command{LightID: 1, Kind: command.KindAnimationStart})
	require.NoError(t, err)
	assert.Nil(t, status)
	assert.Empty(t, dev.written())

	_, err = h.orch.Handle(ctx, extended(command.Extended{
		Brightness: float64Ptr(90),
		Colors:     []command.ColorSpec{{Kind: command.ColorRGB, RGB: color.RGB{G: 255}}},
	}))
	require.NoError(t, err)
	require.True(t, dev.current().On)

	status, err = h.orch.Handle(ctx, command.Command{LightID: 1, Kind: command.KindAnimationStop})

	// assert
	require.NoError(t, err)
	assert.Nil(t, status)
	cur := dev.current()
	assert.False(t, cur.On)
	assert.Equal(t, uint8(100), *cur.Brightness)
	assert.Equal(t, color.XY{X: 0.3, Y: 0.3}, *cur.XY)
}

func TestHandle_AnimationStopWithoutSnapshot(t *testing.T) {
	dev := newFakeDevice(colorLight())
	h := newHarness(dev)

	_, err := h.orch.Handle(context.Background(), command.Command{LightID: 1, Kind: command.KindAnimationStop})

	assert.ErrorIs(t, err, ErrNoSnapshot)
	assert.Empty(t, dev.written())
}

func TestHandle_Colorloop(t *testing.T) {
	dev := newFakeDevice(colorLight())
	h := newHarness(dev)

	_, err := h.orch.Handle(context.Background(), extended(command.Extended{Colorloop: float64Ptr(5)}))
	require.NoError(t, err)
	assert.Equal(t, light.EffectColorloop, dev.current().Effect)

	tasks := h.clock.scheduled()
	require.Len(t, tasks, 1)
	assert.Equal(t, 5*time.Second, tasks[0].delay)

	h.clock.fire(0)
	assert.Equal(t, light.EffectNone, dev.current().Effect)
	writes := dev.written()
	assert.Equal(t, light.FieldEffect, writes[len(writes)-1].Dirty())
}

func TestHandle_TransitionDelaysStatus(t *testing.T) {
	dev := newFakeDevice(colorLight())
	h := newHarness(dev)

	status, err := h.orch.Handle(context.Background(), extended(command.Extended{
		On:             boolPtr(true),
		TransitionTime: float64Ptr(10),
	}))

	require.NoError(t, err)
	require.NotNil(t, status)
	assert.True(t, status.On)
	require.Len(t, h.clock.sleeps, 1)
	assert.Equal(t, 10100*time.Millisecond, h.clock.sleeps[0])
	assert.Equal(t, 10.0, *dev.written()[0].TransitionTime)
}

func TestHandle_TransitionCancelled(t *testing.T) {
	dev := newFakeDevice(colorLight())
	h := newHarness(dev, func(c *Config) { c.Sleep = sleep })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.orch.Handle(ctx, extended(command.Extended{On: boolPtr(true), TransitionTime: float64Ptr(100)}))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestHandle_LastColorWins(t *testing.T) {
	dev := newFakeDevice(colorLight())
	h := newHarness(dev)

	blue := color.RGB{B: 255}
	_, err := h.orch.Handle(context.Background(), extended(command.Extended{Colors: []command.ColorSpec{
		{Kind: command.ColorNamed, Name: "red"},
		{Kind: command.ColorNamed, Name: "nope"},
		{Kind: command.ColorHex, RGB: blue},
	}}))

	require.NoError(t, err)
	assert.Equal(t, color.RGBToXY(blue, "LCT015"), *dev.current().XY)
}

func TestHandle_Image(t *testing.T) {
	t.Run("should use the first extracted colour", func(t *testing.T) {
		dev := newFakeDevice(colorLight())
		images := &mockImages{}
		images.On("Extract", mock.Anything, "/tmp/a.png").Return([]color.RGB{{R: 255, G: 128, B: 64}, {B: 255}}, nil)
		h := newHarness(dev, func(c *Config) { c.Images = images })

		_, err := h.orch.Handle(context.Background(), extended(command.Extended{Image: "/tmp/a.png"}))

		require.NoError(t, err)
		assert.Equal(t, color.RGBToXY(color.RGB{R: 255, G: 128, B: 64}, "LCT015"), *dev.current().XY)
		images.AssertExpectations(t)
	})

	t.Run("should fail without persisting", func(t *testing.T) {
		dev := &mockDevices{}
		dev.On("Fetch", mock.Anything, 1).Return(colorLight(), nil)
		images := &mockImages{}
		images.On("Extract", mock.Anything, "broken").Return(nil, errors.New("decode failed"))
		h := newHarness(dev, func(c *Config) { c.Images = images })

		_, err := h.orch.Handle(context.Background(), extended(command.Extended{Image: "broken"}))

		assert.ErrorIs(t, err, ErrImageExtraction)
		dev.AssertNotCalled(t, "Persist", mock.Anything, mock.Anything)
	})
}

func TestHandle_DeviceErrors(t *testing.T) {
	t.Run("should report unreachable lights", func(t *testing.T) {
		dev := &mockDevices{}
		dev.On("Fetch", mock.Anything, 1).Return(nil, errors.New("timeout"))
		h := newHarness(dev)

		_, err := h.orch.Handle(context.Background(), command.Command{LightID: 1, Kind: command.KindToggle})

		assert.ErrorIs(t, err, ErrDeviceUnreachable)
		assert.Contains(t, h.orch.Degraded(), 1)
		require.Len(t, h.ledger.entries, 1)
		assert.Equal(t, ledger.EventCommandFailed, h.ledger.entries[0].EventType)
	})

	t.Run("should report persist failures", func(t *testing.T) {
		dev := &mockDevices{}
		dev.On("Fetch", mock.Anything, 1).Return(colorLight(), nil)
		dev.On("Persist", mock.Anything, mock.Anything).Return(nil, false, errors.New("bridge said no"))
		h := newHarness(dev)

		_, err := h.orch.Handle(context.Background(), command.Command{LightID: 1, Kind: command.KindOnOff, On: true})

		assert.ErrorIs(t, err, ErrPersistFailed)
		assert.True(t, IsDevice(err))
	})

	t.Run("should clear degraded state on success", func(t *testing.T) {
		dev := &mockDevices{}
		dev.On("Fetch", mock.Anything, 1).Return(nil, errors.New("timeout")).Once()
		dev.On("Fetch", mock.Anything, 1).Return(colorLight(), nil)
		dev.On("Persist", mock.Anything, mock.Anything).Return(colorLight(), true, nil)
		h := newHarness(dev)

		_, err := h.orch.Handle(context.Background(), command.Command{LightID: 1, Kind: command.KindToggle})
		require.Error(t, err)
		_, err = h.orch.Handle(context.Background(), command.Command{LightID: 1, Kind: command.KindToggle})
		require.NoError(t, err)
		assert.Empty(t, h.orch.Degraded())
	})
}

func TestHandle_BackgroundFailureIsRecorded(t *testing.T) {
	dev := &mockDevices{}
	dev.On("Fetch", mock.Anything, 1).Return(colorLight(), nil)
	dev.On("Persist", mock.Anything, mock.Anything).Return(colorLight(), true, nil).Times(2)
	dev.On("Persist", mock.Anything, mock.Anything).Return(nil, false, errors.New("gone"))
	h := newHarness(dev)

	_, err := h.orch.Handle(context.Background(), command.Command{
		LightID: 1, Kind: command.KindAlert, Alert: command.Alert{Seconds: 1},
	})
	require.NoError(t, err)

	h.clock.fire(0)

	last := h.ledger.entries[len(h.ledger.entries)-1]
	assert.Equal(t, ledger.EventBackgroundFailed, last.EventType)
	assert.Contains(t, last.Error, ErrBackgroundTask.Error())
	assert.Contains(t, h.orch.Degraded(), 1)
}

func TestHandle_PublishesStatus(t *testing.T) {
	t.Run("should publish on completion", func(t *testing.T) {
		h := newHarness(newFakeDevice(colorLight()))

		_, err := h.orch.Handle(context.Background(), command.Command{LightID: 1, Kind: command.KindOnOff, On: true})
		require.NoError(t, err)
		require.Len(t, h.events.events, 1)
		assert.Equal(t, eventbus.EventTypeStatus, h.events.events[0].Type)
		assert.Equal(t, "2024-01-02T03:04:05Z", h.events.events[0].Status.Updated)
	})

	t.Run("should stay quiet when events are skipped", func(t *testing.T) {
		h := newHarness(newFakeDevice(colorLight()), func(c *Config) { c.SkipEvents = true })

		status, err := h.orch.Handle(context.Background(), command.Command{LightID: 1, Kind: command.KindOnOff, On: true})
		require.NoError(t, err)
		assert.NotNil(t, status)
		assert.Empty(t, h.events.events)
	})

	t.Run("should publish push events", func(t *testing.T) {
		h := newHarness(newFakeDevice(colorLight()))

		h.orch.Observe(colorLight())
		require.Len(t, h.events.events, 1)
		assert.Equal(t, eventbus.EventTypePush, h.events.events[0].Type)
	})
}

func TestClose_CancelsPendingTasks(t *testing.T) {
	dev := newFakeDevice(colorLight())
	h := newHarness(dev)

	_, err := h.orch.Handle(context.Background(), command.Command{
		LightID: 1, Kind: command.KindAlert, Alert: command.Alert{Seconds: 30},
	})
	require.NoError(t, err)
	require.Equal(t, 1, h.orch.Pending(1))

	h.orch.Close()

	assert.Equal(t, 0, h.orch.Pending(1))
	assert.True(t, h.clock.scheduled()[0].cancelled)

	// new background work is refused after close
	_, err = h.orch.Handle(context.Background(), extended(command.Extended{Colorloop: float64Ptr(1)}))
	require.NoError(t, err)
	assert.Len(t, h.clock.scheduled(), 1)
}

func TestHandle_AlertRejectsOverlongDuration(t *testing.T) {
	// arrange
	dev := &mockDevices{}
	h := newHarness(dev)

	// act
	status, err := h.orch.Handle(context.Background(), command.Command{
		LightID: 1, Kind: command.KindAlert, Alert: command.Alert{Seconds: math.MaxInt64},
	})

	// assert
	assert.Nil(t, status)
	assert.ErrorIs(t, err, ErrInvalidDuration)
	assert.True(t, IsValidation(err))
	dev.AssertNotCalled(t, "Fetch", mock.Anything, mock.Anything)
	assert.Empty(t, h.clock.scheduled())
}

func TestHandle_OverlappingAlertsRestoreLastSnapshot(t *testing.T) {
	// arrange
	dev := newFakeDevice(colorLight())
	h := newHarness(dev)
	alert := command.Command{LightID: 1, Kind: command.KindAlert, Alert: command.Alert{Seconds: 5}}

	_, err := h.orch.Handle(context.Background(), alert)
	require.NoError(t, err)

	// the second alert snapshots the flashing state of the first
	_, err = h.orch.Handle(context.Background(), alert)
	require.NoError(t, err)
	require.Len(t, h.clock.scheduled(), 2)
	assert.Equal(t, 2, h.orch.Pending(1))

	// act: the first timer fires
	h.clock.fire(0)

	// assert: restored from the second snapshot, not the original state
	cur := dev.current()
	assert.True(t, cur.On)
	assert.Equal(t, uint8(254), *cur.Brightness)
	assert.Equal(t, color.RGBToXY(color.RGB{R: 255}, "LCT015"), *cur.XY)
	assert.Equal(t, light.AlertNone, cur.Alert)
	assert.Equal(t, 1, h.orch.Pending(1))
}
