package light

import (
	"time"

	"github.com/dokzlo13/huelight/internal/color"
)

// Status is the report emitted after a command or a bridge push event.
type Status struct {
	On         bool   `json:"on"`
	Brightness int    `json:"brightness"`
	Reachable  bool   `json:"reachable"`
	RGB        []int  `json:"rgb,omitempty"`
	Hex        string `json:"hex,omitempty"`
	Color      string `json:"color,omitempty"`
	ColorTemp  int    `json:"colorTemp,omitempty"`
	Updated    string `json:"updated"`
	Info       Info   `json:"info"`
}

// Info identifies the light a status belongs to.
type Info struct {
	ID              int    `json:"id"`
	UniqueID        string `json:"uniqueId"`
	Name            string `json:"name"`
	Type            string `json:"type"`
	SoftwareVersion string `json:"softwareVersion"`
	Model           Model  `json:"model"`
}

// NewStatus builds a status report from s. Brightness is a percentage, 0 when
// the light is off and -1 when it is on but cannot dim.
func NewStatus(s *State, withColorName bool, now time.Time) Status {
	st := Status{
		On:        s.On,
		Reachable: s.Reachable,
		Updated:   now.UTC().Format(time.RFC3339),
		Info: Info{
			ID:              s.ID,
			UniqueID:        s.UniqueID,
			Name:            s.Name,
			Type:            s.Type,
			SoftwareVersion: s.SoftwareVersion,
			Model:           s.Model,
		},
	}

	if s.On {
		st.Brightness = -1
		if s.Brightness != nil {
			st.Brightness = NativeToPercent(int(*s.Brightness))
		}
	}

	if s.XY != nil {
		bri := uint8(MaxNative)
		if s.Brightness != nil {
			bri = *s.Brightness
		}
		if rgb, err := color.XYToRGB(*s.XY, bri); err == nil {
			st.RGB = rgb.Slice()
			st.Hex = rgb.Hex()
			if withColorName {
				st.Color = color.NearestName(rgb)
			}
		}
	}

	if s.ColorTemp != nil {
		st.ColorTemp = int(*s.ColorTemp)
	}

	return st
}
