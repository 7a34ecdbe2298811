package association

import (
	"fmt"
	"math"
)

// Pair is a resolved track-measurement association. Track and Measurement
// are indices into the slices the matrix was built from.
type Pair struct {
	Track       int
	Measurement int
	Distance    float64
}

// Matrix holds the squared distances between N tracks and M measurements
// for one frame. Incompatible pairs are +Inf. Resolved rows and columns are
// masked out rather than removed, so indices always refer to the original
// track and measurement slices.
//
// Two sets of flags are kept per index: whether the row or column is still
// live in the matrix, and whether the entity is still in the unassigned
// pool. Extraction clears both; Release restores only the pool flag, so a
// released pair is never extracted again in the same frame.
type Matrix struct {
	n, m     int
	d        []float64
	liveRow  []bool
	liveCol  []bool
	freeRow  []bool
	freeCol  []bool
	liveRows int
	liveCols int
}

// NewMatrix returns an n×m matrix with every entry incompatible.
func NewMatrix(n, m int) *Matrix {
	if n < 0 || m < 0 {
		panic(fmt.Sprintf("association: negative matrix size %dx%d", n, m))
	}
	mx := &Matrix{
		n:        n,
		m:        m,
		d:        make([]float64, n*m),
		liveRow:  make([]bool, n),
		liveCol:  make([]bool, m),
		freeRow:  make([]bool, n),
		freeCol:  make([]bool, m),
		liveRows: n,
		liveCols: m,
	}
	for i := range mx.d {
		mx.d[i] = math.Inf(1)
	}
	for i := 0; i < n; i++ {
		mx.liveRow[i] = true
		mx.freeRow[i] = true
	}
	for j := 0; j < m; j++ {
		mx.liveCol[j] = true
		mx.freeCol[j] = true
	}
	return mx
}

// Dims returns the original size of the matrix.
func (mx *Matrix) Dims() (n, m int) { return mx.n, mx.m }

// At returns the distance between track i and measurement j.
func (mx *Matrix) At(i, j int) float64 { return mx.d[i*mx.m+j] }

// Set stores the distance between track i and measurement j. NaN is stored
// as +Inf.
func (mx *Matrix) Set(i, j int, d2 float64) {
	if math.IsNaN(d2) {
		d2 = math.Inf(1)
	}
	mx.d[i*mx.m+j] = d2
}

// Live returns the number of rows and columns not yet resolved.
func (mx *Matrix) Live() (rows, cols int) { return mx.liveRows, mx.liveCols }

// Empty reports whether no pair can be extracted because all rows or all
// columns have been resolved.
func (mx *Matrix) Empty() bool { return mx.liveRows == 0 || mx.liveCols == 0 }

// ExtractBestPair resolves the smallest finite live entry. Ties go to the
// first entry in row-major order. It returns false when the matrix is
// empty or no finite entries remain; the matrix is then left unchanged.
func (mx *Matrix) ExtractBestPair() (Pair, bool) {
	best := Pair{Track: -1, Measurement: -1, Distance: math.Inf(1)}
	for i := 0; i < mx.n; i++ {
		if !mx.liveRow[i] {
			continue
		}
		row := mx.d[i*mx.m : (i+1)*mx.m]
		for j, d := range row {
			if mx.liveCol[j] && d < best.Distance {
				best = Pair{Track: i, Measurement: j, Distance: d}
			}
		}
	}
	if best.Track < 0 {
		return Pair{}, false
	}

	mx.liveRow[best.Track] = false
	mx.liveCol[best.Measurement] = false
	mx.freeRow[best.Track] = false
	mx.freeCol[best.Measurement] = false
	mx.liveRows--
	mx.liveCols--
	return best, true
}

// Release returns an extracted pair to the unassigned pools. The pair
// stays out of the matrix.
func (mx *Matrix) Release(p Pair) {
	mx.freeRow[p.Track] = true
	mx.freeCol[p.Measurement] = true
}

// UnassignedTracks returns the unassigned track indices in ascending order.
func (mx *Matrix) UnassignedTracks() []int { return indices(mx.freeRow) }

// UnassignedMeasurements returns the unassigned measurement indices in
// ascending order.
func (mx *Matrix) UnassignedMeasurements() []int { return indices(mx.freeCol) }

func indices(flags []bool) []int {
	out := make([]int, 0, len(flags))
	for i, ok := range flags {
		if ok {
			out = append(out, i)
		}
	}
	return out
}

// restrictToOptimal keeps only the entries chosen by the Hungarian solver
// over the live submatrix. Extraction then yields the optimal assignment
// in ascending distance order.
func (mx *Matrix) restrictToOptimal() {
	rows := make([]int, 0, mx.liveRows)
	cols := make([]int, 0, mx.liveCols)
	for i, ok := range mx.liveRow {
		if ok {
			rows = append(rows, i)
		}
	}
	for j, ok := range mx.liveCol {
		if ok {
			cols = append(cols, j)
		}
	}
	if len(rows) == 0 || len(cols) == 0 {
		return
	}

	cost := make([][]float64, len(rows))
	for a, i := range rows {
		cost[a] = make([]float64, len(cols))
		for b, j := range cols {
			cost[a][b] = mx.At(i, j)
		}
	}
	assign := hungarianAssign(cost)

	for a, i := range rows {
		for b, j := range cols {
			if assign[a] != b {
				mx.d[i*mx.m+j] = math.Inf(1)
			}
		}
	}
}
