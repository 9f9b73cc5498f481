package color

import (
	"fmt"
	"math/rand"
	"strings"

	colorful "github.com/lucasb-eyer/go-colorful"
	"github.com/samber/lo"
	"golang.org/x/image/colornames"
)

// basicNames is the palette status reports pick a colour name from.
var basicNames = []string{
	"black", "blue", "cyan", "green", "teal", "turquoise", "indigo", "gray",
	"purple", "brown", "tan", "violet", "beige", "fuchsia", "gold", "magenta",
	"orange", "pink", "red", "white", "yellow",
}

// ParseHex parses "#rgb", "#rrggbb" or the same without the leading '#'.
func ParseHex(s string) (RGB, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "#") {
		s = "#" + s
	}
	c, err := colorful.Hex(s)
	if err != nil {
		return RGB{}, fmt.Errorf("%w: hex %q", ErrInvalidColorInput, s)
	}
	r, g, b := c.RGB255()
	return RGB{R: r, G: g, B: b}, nil
}

// Hex formats the colour as lowercase rrggbb without a leading '#'.
func (c RGB) Hex() string {
	return strings.TrimPrefix(c.colorful().Hex(), "#")
}

// Named resolves a CSS/SVG colour name such as "cornflowerblue".
func Named(name string) (RGB, bool) {
	key := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(name), " ", ""))
	c, ok := colornames.Map[key]
	if !ok {
		return RGB{}, false
	}
	return RGB{R: c.R, G: c.G, B: c.B}, true
}

// Random returns a uniformly random colour in [000000, fffffe].
func Random(src *rand.Rand) RGB {
	v := src.Intn(0xFFFFFF)
	return RGB{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v)}
}

// NearestName returns the basic colour name closest to c in CIE Lab space.
func NearestName(c RGB) string {
	target := c.colorful()
	return lo.MinBy(basicNames, func(a, b string) bool {
		return target.DistanceLab(namedColorful(a)) < target.DistanceLab(namedColorful(b))
	})
}

func namedColorful(name string) colorful.Color {
	c := colornames.Map[name]
	return RGB{R: c.R, G: c.G, B: c.B}.colorful()
}

func (c RGB) colorful() colorful.Color {
	return colorful.Color{R: float64(c.R) / 255, G: float64(c.G) / 255, B: float64(c.B) / 255}
}
