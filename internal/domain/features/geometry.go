package features

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/okian/strokeauth/internal/domain/capture"
)

func sub(a, b capture.Point) Vec2 { return Vec2{X: a.X - b.X, Y: a.Y - b.Y} }

func (v Vec2) length() float64 { return math.Hypot(v.X, v.Y) }

func (v Vec2) dot(w Vec2) float64 { return v.X*w.X + v.Y*w.Y }

func (v Vec2) cross(w Vec2) float64 { return v.X*w.Y - v.Y*w.X }

func (e *Extractor) geometry(s capture.Session) GeometricProperties {
	g := GeometricProperties{
		StrokeLengths: make([]float64, len(s.Strokes)),
		Angles:        []float64{},
		Curvature:     []float64{},
		StrokeCount:   len(s.Strokes),
		PointCount:    s.PointCount(),
	}
	if g.PointCount == 0 {
		return g
	}

	xs := make([]float64, 0, g.PointCount)
	ys := make([]float64, 0, g.PointCount)
	for i, st := range s.Strokes {
		for j, p := range st.Points {
			xs = append(xs, p.X)
			ys = append(ys, p.Y)
			if j > 0 {
				g.StrokeLengths[i] += sub(p, st.Points[j-1]).length()
			}
		}
		e.turning(st.Points, &g)
	}
	g.TotalLength = floats.Sum(g.StrokeLengths)

	minX, maxX := floats.Min(xs), floats.Max(xs)
	minY, maxY := floats.Min(ys), floats.Max(ys)
	g.BoundingBox = BoundingBox{
		MinX: minX, MinY: minY, MaxX: maxX, MaxY: maxY,
		Width: maxX - minX, Height: maxY - minY,
	}
	g.Centroid = Vec2{X: stat.Mean(xs, nil), Y: stat.Mean(ys, nil)}
	g.AspectRatio = g.BoundingBox.Width / math.Max(g.BoundingBox.Height, epsilon)

	diag := s.CanvasSize.Diagonal()
	if diag == 0 {
		diag = math.Hypot(g.BoundingBox.Width, g.BoundingBox.Height)
	}
	if diag > 0 {
		g.NormalizedLength = g.TotalLength / diag
	}

	g.Symmetry = e.symmetry(xs, ys, g.Centroid, g.BoundingBox)
	return g
}

// turning appends the unsigned turning angle and curvature at each interior
// point of pts. Zero-length segments carry no direction and are skipped.
func (e *Extractor) turning(pts []capture.Point, g *GeometricProperties) {
	for j := 1; j+1 < len(pts); j++ {
		in := sub(pts[j], pts[j-1])
		out := sub(pts[j+1], pts[j])
		li, lo := in.length(), out.length()
		if li == 0 || lo == 0 {
			continue
		}
		angle := math.Atan2(math.Abs(in.cross(out)), in.dot(out))
		g.Angles = append(g.Angles, angle)
		g.Curvature = append(g.Curvature, angle/math.Max((li+lo)/2, epsilon))
	}
}

// symmetry correlates a point-density grid centred on the centroid with its
// left-right and top-bottom mirror images.
func (e *Extractor) symmetry(xs, ys []float64, c Vec2, box BoundingBox) Symmetry {
	n := e.grid
	halfW := math.Max(c.X-box.MinX, box.MaxX-c.X)
	halfH := math.Max(c.Y-box.MinY, box.MaxY-c.Y)

	grid := make([]float64, n*n)
	for i := range xs {
		col := cell(xs[i], c.X, halfW, n)
		row := cell(ys[i], c.Y, halfH, n)
		grid[row*n+col]++
	}

	mirrorCols := make([]float64, n*n)
	mirrorRows := make([]float64, n*n)
	for r := 0; r < n; r++ {
		for col := 0; col < n; col++ {
			v := grid[r*n+col]
			mirrorCols[r*n+(n-1-col)] = v
			mirrorRows[(n-1-r)*n+col] = v
		}
	}
	return Symmetry{
		Horizontal: mirrorCorrelation(grid, mirrorCols),
		Vertical:   mirrorCorrelation(grid, mirrorRows),
	}
}

// cell maps v into one of n bins spanning [centre-half, centre+half].
// A zero span puts every point in the middle bin.
func cell(v, centre, half float64, n int) int {
	if half <= 0 {
		return n / 2
	}
	idx := int(math.Floor((v - (centre - half)) / (2 * half) * float64(n)))
	return max(0, min(n-1, idx))
}

// mirrorCorrelation is the Pearson correlation of a and b. A constant grid has
// no variance, so it is symmetric exactly when it equals its mirror.
func mirrorCorrelation(a, b []float64) float64 {
	r := stat.Correlation(a, b, nil)
	if math.IsNaN(r) || math.IsInf(r, 0) {
		if floats.Equal(a, b) {
			return 1
		}
		return 0
	}
	return math.Max(-1, math.Min(1, r))
}
