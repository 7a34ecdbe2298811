package association

import "math"

// hungarianAssign implements the Kuhn–Munkres (Hungarian) algorithm for the
// optimal track-to-measurement assignment in O(n³). Unlike repeated
// global-minimum extraction it minimises the total distance, which matters
// when several measurements compete for the same track in dense clutter.
//
// cost[i][j] is the squared Mahalanobis distance between track i and
// measurement j, or +Inf when the pair failed the gate. The result holds
// assignments[i] = j, or -1 when row i has no admissible column.
func hungarianAssign(cost [][]float64) []int {
	n := len(cost)
	if n == 0 {
		return nil
	}
	m := len(cost[0])
	result := make([]int, n)
	if m == 0 {
		for i := range result {
			result[i] = -1
		}
		return result
	}

	dim := n
	if m > dim {
		dim = m
	}

	// Forbidden and padding entries cost twice one more than the sum of all
	// admissible costs. Any assignment of k admissible pairs costs at most that
	// sum, so dropping to k-1 pairs costs more than any choice of k. The
	// solver therefore maximises the number of admissible pairs first and
	// minimises their total among those. A finite stand-in keeps the
	// potentials exact.
	forbidden := 1.0
	for i := 0; i < n; i++ {
		for j := 0; j < m; j++ {
			if admissible(cost[i][j]) {
				forbidden += math.Abs(cost[i][j])
			}
		}
	}
	forbidden *= 2

	c := make([][]float64, dim)
	for i := 0; i < dim; i++ {
		c[i] = make([]float64, dim)
		for j := 0; j < dim; j++ {
			c[i][j] = forbidden
			if i < n && j < m && admissible(cost[i][j]) {
				c[i][j] = cost[i][j]
			}
		}
	}

	// Jonker-Volgenant potentials, 1-indexed; column 0 is virtual.
	const inf = math.MaxFloat64 / 2
	u := make([]float64, dim+1) // Row potentials
	v := make([]float64, dim+1) // Column potentials
	p := make([]int, dim+1)     // p[j] = row assigned to column j
	way := make([]int, dim+1)   // way[j] = previous column on the augmenting path
	minv := make([]float64, dim+1)
	used := make([]bool, dim+1)

	for i := 1; i <= dim; i++ {
		p[0] = i
		j0 := 0
		for j := 1; j <= dim; j++ {
			minv[j] = inf
			used[j] = false
		}

		for {
			used[j0] = true
			i0 := p[j0]
			delta := inf
			j1 := -1
			for j := 1; j <= dim; j++ {
				if used[j] {
					continue
				}
				if cur := c[i0-1][j-1] - u[i0] - v[j]; cur < minv[j] {
					minv[j] = cur
					way[j] = j0
				}
				if minv[j] < delta {
					delta = minv[j]
					j1 = j
				}
			}
			if j1 < 0 {
				break
			}
			for j := 0; j <= dim; j++ {
				if used[j] {
					u[p[j]] += delta
					v[j] -= delta
				} else {
					minv[j] -= delta
				}
			}
			j0 = j1
			if p[j0] == 0 {
				break
			}
		}

		for j0 != 0 {
			p[j0] = p[way[j0]]
			j0 = way[j0]
		}
	}

	rowAssign := make([]int, dim)
	for i := range rowAssign {
		rowAssign[i] = -1
	}
	for j := 1; j <= dim; j++ {
		if p[j] > 0 {
			rowAssign[p[j]-1] = j - 1
		}
	}

	// Drop padding and forbidden pairs.
	for i := 0; i < n; i++ {
		col := rowAssign[i]
		if col < 0 || col >= m || !admissible(cost[i][col]) {
			result[i] = -1
		} else {
			result[i] = col
		}
	}
	return result
}

func admissible(d float64) bool {
	return !math.IsInf(d, 0) && !math.IsNaN(d)
}
