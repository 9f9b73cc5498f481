package color

import "testing"

func TestGamutForModel(t *testing.T) {
	tests := []struct {
		model string
		want  string
	}{
		{"LLC001", "A"},
		{"LST001", "A"},
		{"LCT001", "B"},
		{"LLM001", "B"},
		{"LCT015", "C"},
		{"LST002", "C"},
		{"", "C"},
		{"SOMETHING-NEW", "C"},
	}

	for _, tt := range tests {
		if got := GamutForModel(tt.model).Name; got != tt.want {
			t.Errorf("GamutForModel(%q) = %s, want %s", tt.model, got, tt.want)
		}
	}
}

func TestGamut_Nearest_TieGoesToLowestEdge(t *testing.T) {
	g := Gamut{Name: "test", Red: XY{0, 0}, Green: XY{1, 0}, Blue: XY{0, 1}}

	tests := []struct {
		name     string
		p        XY
		want     XY
		wantEdge int
	}{
		{"red corner ties edges 0 and 2", XY{-1, -1}, XY{0, 0}, 0},
		{"blue corner ties edges 1 and 2", XY{-1, 2}, XY{0, 1}, 1},
		{"below red-green edge", XY{0.5, -1}, XY{0.5, 0}, 0},
		{"beyond hypotenuse", XY{1, 1}, XY{0.5, 0.5}, 1},
		{"left of blue-red edge", XY{-1, 0.5}, XY{0, 0.5}, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, edge := g.Nearest(tt.p)
			if got != tt.want || edge != tt.wantEdge {
				t.Errorf("Nearest(%v) = %v edge %d, want %v edge %d", tt.p, got, edge, tt.want, tt.wantEdge)
			}
		})
	}
}

func TestGamut_Contains(t *testing.T) {
	inside := []XY{GamutC.Red, GamutC.Green, GamutC.Blue, D65, {0.4, 0.4}}
	for _, p := range inside {
		if !GamutC.Contains(p) {
			t.Errorf("expected %v inside gamut C", p)
		}
	}

	outside := []XY{{0.8, 0.2}, {0, 0}, {0.1, 0.9}}
	for _, p := range outside {
		if GamutC.Contains(p) {
			t.Errorf("expected %v outside gamut C", p)
		}
	}
}

func TestGamut_ClampLeavesInsidePointsAlone(t *testing.T) {
	p := XY{0.4, 0.4}
	if got := GamutC.Clamp(p); got != p {
		t.Errorf("Clamp(%v) = %v", p, got)
	}
}

func TestClosestOnSegment_Degenerate(t *testing.T) {
	a := XY{0.2, 0.2}
	if got := ClosestOnSegment(a, a, XY{1, 1}); got != a {
		t.Errorf("got %v, want %v", got, a)
	}
}
