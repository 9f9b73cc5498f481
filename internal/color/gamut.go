package color

// Gamut is the triangle of chromaticities a bulb family can reproduce.
type Gamut struct {
	Name  string
	Red   XY
	Green XY
	Blue  XY
}

var (
	GamutA = Gamut{Name: "A", Red: XY{0.704, 0.296}, Green: XY{0.2151, 0.7106}, Blue: XY{0.138, 0.08}}
	GamutB = Gamut{Name: "B", Red: XY{0.675, 0.322}, Green: XY{0.409, 0.518}, Blue: XY{0.167, 0.04}}
	GamutC = Gamut{Name: "C", Red: XY{0.6915, 0.3083}, Green: XY{0.17, 0.7}, Blue: XY{0.1532, 0.0475}}
)

var modelGamuts = map[string]Gamut{
	"LLC001": GamutA, "LLC005": GamutA, "LLC006": GamutA, "LLC007": GamutA,
	"LLC010": GamutA, "LLC011": GamutA, "LLC012": GamutA, "LLC013": GamutA,
	"LLC014": GamutA, "LST001": GamutA,

	"LCT001": GamutB, "LCT002": GamutB, "LCT003": GamutB, "LCT007": GamutB,
	"LLM001": GamutB,

	"LCT010": GamutC, "LCT011": GamutC, "LCT012": GamutC, "LCT014": GamutC,
	"LCT015": GamutC, "LCT016": GamutC, "LLC020": GamutC, "LST002": GamutC,
}

// GamutForModel returns the gamut of a bulb model. Unknown models get gamut C.
func GamutForModel(modelID string) Gamut {
	if g, ok := modelGamuts[modelID]; ok {
		return g
	}
	return GamutC
}

// Edges returns the triangle sides in the order R→G, G→B, B→R.
func (g Gamut) Edges() [3][2]XY {
	return [3][2]XY{
		{g.Red, g.Green},
		{g.Green, g.Blue},
		{g.Blue, g.Red},
	}
}

// Contains reports whether p lies inside the triangle or on its boundary.
func (g Gamut) Contains(p XY) bool {
	const eps = 1e-12
	d1 := cross(g.Red, g.Green, p)
	d2 := cross(g.Green, g.Blue, p)
	d3 := cross(g.Blue, g.Red, p)

	neg := d1 < -eps || d2 < -eps || d3 < -eps
	pos := d1 > eps || d2 > eps || d3 > eps
	return !(neg && pos)
}

// Clamp returns p unchanged if the gamut contains it, otherwise the closest
// point on the triangle boundary.
func (g Gamut) Clamp(p XY) XY {
	if g.Contains(p) {
		return p
	}
	q, _ := g.Nearest(p)
	return q
}

// Nearest projects p onto every edge and returns the closest projection with
// the index of its edge. Ties go to the lowest index.
func (g Gamut) Nearest(p XY) (XY, int) {
	var (
		best     XY
		bestEdge = -1
		bestDist float64
	)
	for i, e := range g.Edges() {
		q := ClosestOnSegment(e[0], e[1], p)
		d := distSq(p, q)
		if bestEdge < 0 || d < bestDist {
			best, bestEdge, bestDist = q, i, d
		}
	}
	return best, bestEdge
}

// ClosestOnSegment returns the point on segment ab closest to p.
func ClosestOnSegment(a, b, p XY) XY {
	abx, aby := b.X-a.X, b.Y-a.Y
	lenSq := abx*abx + aby*aby
	if lenSq == 0 {
		return a
	}
	t := ((p.X-a.X)*abx + (p.Y-a.Y)*aby) / lenSq
	switch {
	case t < 0:
		t = 0
	case t > 1:
		t = 1
	}
	return XY{X: a.X + abx*t, Y: a.Y + aby*t}
}

func cross(o, a, b XY) float64 {
	return (a.X-o.X)*(b.Y-o.Y) - (a.Y-o.Y)*(b.X-o.X)
}

func distSq(a, b XY) float64 {
	dx, dy := a.X-b.X, a.Y-b.Y
	return dx*dx + dy*dy
}
