// Package project maps arbitrary-dimension embedding vectors to fixed
// low-dimensional spatial keys via multilateration against reference anchors.
//
// The spatial index only supports a small fixed number of dimensions, while
// embedding models routinely produce hundreds or thousands. A projector fixes
// a bank of anchor vectors in the native space once per (model, dimension)
// pair, measures the distance from an input vector to each anchor, and solves
// for the K-space point that best preserves those distances. Neighbor ordering is
// approximately preserved; treat it as a pre-filter, never as an exact metric.
package project

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
)

// Dim is the fixed dimensionality of projected points.
const Dim = 3

// anchorCount trades per-vector distance work for projection fidelity.
// Dim+1 anchors would determine the solve exactly, but every anchor then
// contributes its full noise to the result; an overdetermined system fit by
// least squares damps what any single anchor can do to the projected point.
const anchorCount = 16

// ErrInvalidVector is returned for zero, empty or non-finite input vectors.
var ErrInvalidVector = errors.New("invalid vector")

// Point is a projected spatial key.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// DistanceTo returns the Euclidean distance between two points.
func (p Point) DistanceTo(q Point) float64 {
	dx := p.X - q.X
	dy := p.Y - q.Y
	dz := p.Z - q.Z
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// Projector projects vectors of one fixed native dimension for one embedding
// model. Construction is deterministic: the same (modelID, dim) pair always
// yields the same anchors, so projections are stable across processes.
type Projector struct {
	modelID int64
	dim     int
	scale   float64
	anchors [anchorCount][]float32 // anchor positions in native space
	targets [anchorCount]Point     // anchor positions in projected space
	targetN [anchorCount]float64   // squared norms of targets, precomputed

	// Linearized system, constant per projector: rows holds the coefficient
	// rows of the overdetermined system and ata its normal-equations matrix.
	rows [anchorCount - 1][Dim]float64
	ata  [Dim][Dim]float64
}

// New creates a projector for the given model and native dimension.
func New(modelID int64, dim int) (*Projector, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("projector: dimension must be positive, got %d", dim)
	}

	p := &Projector{
		modelID: modelID,
		dim:     dim,
		// Components are sampled from N(0,1), so typical vector-to-anchor
		// distances grow with sqrt(dim). Scaling the target sphere the
		// same way keeps the solved coordinates well conditioned.
		scale: math.Sqrt(float64(dim)),
	}

	rng := rand.New(rand.NewSource(anchorSeed(modelID, dim)))
	for i := 0; i < anchorCount; i++ {
		a := make([]float32, dim)
		for j := range a {
			a[j] = float32(rng.NormFloat64())
		}
		p.anchors[i] = a
	}

	// Target sites spread over a sphere of the native distance magnitude,
	// drawn from the same deterministic stream as the anchors.
	for i := range p.targets {
		for {
			x, y, z := rng.NormFloat64(), rng.NormFloat64(), rng.NormFloat64()
			n := math.Sqrt(x*x + y*y + z*z)
			if n < 1e-6 {
				continue
			}
			p.targets[i] = Point{X: x / n * p.scale, Y: y / n * p.scale, Z: z / n * p.scale}
			break
		}
	}
	for i, t := range p.targets {
		p.targetN[i] = t.X*t.X + t.Y*t.Y + t.Z*t.Z
	}

	// |x-t_i|^2 = d_i^2 linearizes against the i=0 equation to
	// 2 x . (t_0 - t_i) = d_i^2 - d_0^2 - |t_i|^2 + |t_0|^2, one row per
	// remaining anchor. The right-hand side depends on the input vector, the
	// rows and their normal-equations matrix do not.
	t0 := p.targets[0]
	for i := 1; i < anchorCount; i++ {
		ti := p.targets[i]
		p.rows[i-1] = [Dim]float64{2 * (t0.X - ti.X), 2 * (t0.Y - ti.Y), 2 * (t0.Z - ti.Z)}
	}
	for _, r := range p.rows {
		for j := 0; j < Dim; j++ {
			for k := 0; k < Dim; k++ {
				p.ata[j][k] += r[j] * r[k]
			}
		}
	}

	return p, nil
}

// anchorSeed mixes model and dimension into a stable RNG seed.
func anchorSeed(modelID int64, dim int) int64 {
	seed := uint64(modelID)*0x9E3779B97F4A7C15 + uint64(dim)
	seed ^= seed >> 29
	return int64(seed & math.MaxInt64)
}

// ModelID returns the embedding model this projector was built for.
func (p *Projector) ModelID() int64 { return p.modelID }

// NativeDim returns the native vector dimension this projector accepts.
func (p *Projector) NativeDim() int { return p.dim }

// Project maps v to a point in K-space. Deterministic for fixed anchors.
func (p *Projector) Project(v []float32) (Point, error) {
	if err := validate(v); err != nil {
		return Point{}, err
	}
	if len(v) != p.dim {
		return Point{}, fmt.Errorf("projector: dimension mismatch: got %d, want %d: %w", len(v), p.dim, ErrInvalidVector)
	}

	var d2 [anchorCount]float64
	for i, a := range p.anchors {
		d := Distance(v, a)
		d2[i] = d * d
	}

	// Least-squares fit of the overdetermined linearized system via its
	// normal equations: the 3x3 matrix is precomputed, only A^T b depends on
	// the input.
	var atb [Dim]float64
	for i := 1; i < anchorCount; i++ {
		b := d2[i] - d2[0] - p.targetN[i] + p.targetN[0]
		for j := 0; j < Dim; j++ {
			atb[j] += p.rows[i-1][j] * b
		}
	}

	x, err := solve3(p.ata, atb)
	if err != nil {
		return Point{}, err
	}

	return Point{X: x[0], Y: x[1], Z: x[2]}, nil
}

// validate rejects degenerate input before any other work happens.
func validate(v []float32) error {
	if len(v) == 0 {
		return ErrInvalidVector
	}
	zero := true
	for _, f := range v {
		if f != f || math.IsInf(float64(f), 0) {
			return ErrInvalidVector
		}
		if f != 0 {
			zero = false
		}
	}
	if zero {
		return ErrInvalidVector
	}
	return nil
}

// solve3 solves a 3x3 linear system by Gaussian elimination with partial
// pivoting. The target sites span all three axes, so the normal-equations
// matrix is non-singular; the guard stays for corrupted inputs.
func solve3(m [Dim][Dim]float64, b [Dim]float64) ([Dim]float64, error) {
	var x [Dim]float64

	for col := 0; col < Dim; col++ {
		pivot := col
		for row := col + 1; row < Dim; row++ {
			if math.Abs(m[row][col]) > math.Abs(m[pivot][col]) {
				pivot = row
			}
		}
		if math.Abs(m[pivot][col]) < 1e-12 {
			return x, fmt.Errorf("projector: singular multilateration system")
		}
		if pivot != col {
			m[col], m[pivot] = m[pivot], m[col]
			b[col], b[pivot] = b[pivot], b[col]
		}

		for row := col + 1; row < Dim; row++ {
			f := m[row][col] / m[col][col]
			for k := col; k < Dim; k++ {
				m[row][k] -= f * m[col][k]
			}
			b[row] -= f * b[col]
		}
	}

	for row := Dim - 1; row >= 0; row-- {
		sum := b[row]
		for k := row + 1; k < Dim; k++ {
			sum -= m[row][k] * x[k]
		}
		x[row] = sum / m[row][row]
	}

	return x, nil
}

// Distance returns the Euclidean distance between two native-space vectors.
// Mismatched lengths compare over the shorter prefix plus the remainder of
// the longer vector, which penalizes the mismatch instead of panicking.
func Distance(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}

	var sum float64
	for i := 0; i < n; i++ {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	for _, v := range a[n:] {
		sum += float64(v) * float64(v)
	}
	for _, v := range b[n:] {
		sum += float64(v) * float64(v)
	}

	return math.Sqrt(sum)
}
