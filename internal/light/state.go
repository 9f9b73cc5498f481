// Package light holds the device-independent model of a single Hue light:
// its mutable state, capability descriptor, snapshots and status reports.
package light

import (
	"github.com/dokzlo13/huelight/internal/color"
)

// Effect is a dynamic effect running on the light.
type Effect string

const (
	EffectNone      Effect = "none"
	EffectColorloop Effect = "colorloop"
)

// Alert is the breathe/flash effect of the light.
type Alert string

const (
	AlertNone    Alert = "none"
	AlertLSelect Alert = "lselect"
)

// Field identifies one writable attribute of State.
type Field uint16

const (
	FieldOn Field = 1 << iota
	FieldBrightness
	FieldIncrementBrightness
	FieldXY
	FieldColorTemp
	FieldSaturation
	FieldTransitionTime
	FieldEffect
	FieldAlert
)

// Model describes the hardware behind a light and what it supports.
type Model struct {
	ID           string `json:"id"`
	Manufacturer string `json:"manufacturer"`
	Name         string `json:"name"`
	Type         string `json:"type"`
	ColorGamut   string `json:"colorGamut,omitempty"`
	FriendsOfHue bool   `json:"friendsOfHue"`

	HasColor      bool `json:"-"`
	HasColorTemp  bool `json:"-"`
	HasSaturation bool `json:"-"`
	HasDimming    bool `json:"-"`
}

// State is the last known state of a light plus any pending changes.
// Setters record which fields were changed so a save writes only those.
type State struct {
	ID              int
	UniqueID        string
	Name            string
	Type            string
	SoftwareVersion string
	Model           Model

	On        bool
	Reachable bool

	// Pointer fields are nil when the light does not report them.
	Brightness          *uint8
	XY                  *color.XY
	ColorTemp           *uint16
	Saturation          *uint8
	TransitionTime      *float64
	IncrementBrightness *int

	Effect Effect
	Alert  Alert

	dirty Field
}

// Clone returns a deep copy of the state, including pending changes.
func (s *State) Clone() *State {
	c := *s
	if s.Brightness != nil {
		v := *s.Brightness
		c.Brightness = &v
	}
	if s.XY != nil {
		v := *s.XY
		c.XY = &v
	}
	if s.ColorTemp != nil {
		v := *s.ColorTemp
		c.ColorTemp = &v
	}
	if s.Saturation != nil {
		v := *s.Saturation
		c.Saturation = &v
	}
	if s.TransitionTime != nil {
		v := *s.TransitionTime
		c.TransitionTime = &v
	}
	if s.IncrementBrightness != nil {
		v := *s.IncrementBrightness
		c.IncrementBrightness = &v
	}
	return &c
}

func (s *State) SetOn(on bool) {
	s.On = on
	s.dirty |= FieldOn
}

func (s *State) SetBrightness(native uint8) {
	s.Brightness = &native
	s.dirty |= FieldBrightness
}

func (s *State) SetIncrementBrightness(native int) {
	s.IncrementBrightness = &native
	s.dirty |= FieldIncrementBrightness
}

func (s *State) SetXY(xy color.XY) {
	s.XY = &xy
	s.dirty |= FieldXY
}

func (s *State) SetColorTemp(mired uint16) {
	s.ColorTemp = &mired
	s.dirty |= FieldColorTemp
}

func (s *State) SetSaturation(native uint8) {
	s.Saturation = &native
	s.dirty |= FieldSaturation
}

// SetTransitionTime sets the fade duration in deciseconds.
func (s *State) SetTransitionTime(deciseconds float64) {
	s.TransitionTime = &deciseconds
	s.dirty |= FieldTransitionTime
}

func (s *State) SetEffect(e Effect) {
	s.Effect = e
	s.dirty |= FieldEffect
}

func (s *State) SetAlert(a Alert) {
	s.Alert = a
	s.dirty |= FieldAlert
}

// Dirty returns the set of fields changed since the last ClearDirty.
func (s *State) Dirty() Field {
	return s.dirty
}

// IsDirty reports whether f was changed.
func (s *State) IsDirty(f Field) bool {
	return s.dirty&f != 0
}

// ClearDirty forgets pending changes without reverting them.
func (s *State) ClearDirty() {
	s.dirty = 0
}
