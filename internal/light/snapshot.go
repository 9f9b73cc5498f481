package light

import (
	"time"

	"github.com/dokzlo13/huelight/internal/color"
)

// RestoreTransition is the fade used when reverting to a snapshot, in deciseconds.
const RestoreTransition = 2

// Snapshot is the part of a light's state that alerts and animations restore.
type Snapshot struct {
	WasOn      bool      `json:"was_on"`
	Brightness *uint8    `json:"brightness,omitempty"`
	XY         *color.XY `json:"xy,omitempty"`
	TakenAt    time.Time `json:"taken_at"`
}

// SnapshotOf captures the restorable part of s.
func SnapshotOf(s *State, now time.Time) Snapshot {
	snap := Snapshot{WasOn: s.On, TakenAt: now}
	if s.Brightness != nil {
		v := *s.Brightness
		snap.Brightness = &v
	}
	if s.XY != nil {
		v := *s.XY
		snap.XY = &v
	}
	return snap
}

// Restore stages the snapshot onto s: power, brightness and chromaticity
// (when captured), alert cleared, short fade.
func (snap Snapshot) Restore(s *State) {
	s.SetOn(snap.WasOn)
	if snap.Brightness != nil {
		s.SetBrightness(*snap.Brightness)
	}
	if snap.XY != nil {
		s.SetXY(*snap.XY)
	}
	s.SetAlert(AlertNone)
	s.SetTransitionTime(RestoreTransition)
}
