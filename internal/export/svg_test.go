package export

import (
	"strings"
	"testing"

	"github.com/san-kum/diffdyn/internal/analysis"
	"github.com/san-kum/diffdyn/internal/viz"
)

func TestCanvasSVG(t *testing.T) {
	cv := viz.NewCanvas(2, 1)
	cv.Set(0, 0)
	cv.Set(3, 3)

	svg := CanvasSVG(cv, 10)
	if !strings.HasPrefix(svg, "<?xml") || !strings.HasSuffix(svg, "</svg>\n") {
		t.Fatalf("not a complete document:\n%s", svg)
	}
	if !strings.Contains(svg, `width="40" height="40"`) {
		t.Errorf("expected 4x4 dots at scale 10:\n%s", svg)
	}
	if n := strings.Count(svg, "<circle"); n != 2 {
		t.Errorf("expected 2 dots, got %d", n)
	}
	if !strings.Contains(svg, `cx="5.0" cy="5.0"`) || !strings.Contains(svg, `cx="35.0" cy="35.0"`) {
		t.Errorf("dots at the wrong place:\n%s", svg)
	}
	if CanvasSVG(nil, 1) != "" {
		t.Error("expected empty output for nil canvas")
	}
}

func TestTrajectorySVG(t *testing.T) {
	pts := []analysis.Point{{X: 0, Y: 0}, {X: 1, Y: 1}}
	svg := TrajectorySVG(pts, 120, 60, "#ff0000")

	if !strings.Contains(svg, `stroke="#ff0000"`) {
		t.Errorf("missing stroke:\n%s", svg)
	}
	// padding puts (0,0) a twelfth in from the bottom left
	if !strings.Contains(svg, `d="M10.0,55.0 L110.0,5.0"`) {
		t.Errorf("unexpected path:\n%s", svg)
	}
	if TrajectorySVG(pts[:1], 10, 10, "#fff") != "" {
		t.Error("expected empty output for a single point")
	}
}
