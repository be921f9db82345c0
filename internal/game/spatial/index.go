package spatial

import (
	"math"

	"github.com/jakecoffman/cp"
)

// Index is a bucket grid over unit positions for broad-phase radius queries.
// It is rebuilt every tick: Clear, then Insert each live unit.
//
// Bucket size should be at least the largest query radius (separation radius
// plus one frame of travel) so a query touches at most 3×3 buckets.
type Index struct {
	bucketSize    float64
	invBucketSize float64
	origin        cp.Vector
	cols, rows    int
	buckets       [][]uint32 // buckets[row*cols+col] = entity slots
	scratch       []uint32
	count         int
}

// NewIndex covers a width×height world region starting at origin.
func NewIndex(origin cp.Vector, width, height, bucketSize float64, expected int) *Index {
	if bucketSize <= 0 {
		bucketSize = 100
	}
	cols := int(math.Ceil(width / bucketSize))
	rows := int(math.Ceil(height / bucketSize))
	if cols < 1 {
		cols = 1
	}
	if rows < 1 {
		rows = 1
	}

	buckets := make([][]uint32, cols*rows)
	perBucket := expected / len(buckets)
	if perBucket < 4 {
		perBucket = 4
	}
	for i := range buckets {
		buckets[i] = make([]uint32, 0, perBucket)
	}

	return &Index{
		bucketSize:    bucketSize,
		invBucketSize: 1.0 / bucketSize,
		origin:        origin,
		cols:          cols,
		rows:          rows,
		buckets:       buckets,
		scratch:       make([]uint32, 0, 64),
	}
}

// Clear empties every bucket without releasing memory.
func (ix *Index) Clear() {
	for i := range ix.buckets {
		ix.buckets[i] = ix.buckets[i][:0]
	}
	ix.count = 0
}

// Insert files id under the bucket containing p. Positions outside the
// covered region are clamped to the border buckets.
func (ix *Index) Insert(id uint32, p cp.Vector) {
	col, row := ix.bucket(p)
	idx := row*ix.cols + col
	ix.buckets[idx] = append(ix.buckets[idx], id)
	ix.count++
}

func (ix *Index) bucket(p cp.Vector) (col, row int) {
	col = ix.clampCol(int(math.Floor((p.X - ix.origin.X) * ix.invBucketSize)))
	row = ix.clampRow(int(math.Floor((p.Y - ix.origin.Y) * ix.invBucketSize)))
	return col, row
}

func (ix *Index) clampCol(c int) int {
	if c < 0 {
		return 0
	}
	if c >= ix.cols {
		return ix.cols - 1
	}
	return c
}

func (ix *Index) clampRow(r int) int {
	if r < 0 {
		return 0
	}
	if r >= ix.rows {
		return ix.rows - 1
	}
	return r
}

// QueryRadius returns every id filed in a bucket overlapping the square
// around p. Candidates may lie outside the radius; callers do the exact
// distance check.
//
// The returned slice is reused by the next call.
func (ix *Index) QueryRadius(p cp.Vector, radius float64) []uint32 {
	ix.scratch = ix.scratch[:0]

	minCol, minRow := ix.bucket(cp.Vector{X: p.X - radius, Y: p.Y - radius})
	maxCol, maxRow := ix.bucket(cp.Vector{X: p.X + radius, Y: p.Y + radius})

	for row := minRow; row <= maxRow; row++ {
		for col := minCol; col <= maxCol; col++ {
			ix.scratch = append(ix.scratch, ix.buckets[row*ix.cols+col]...)
		}
	}
	return ix.scratch
}

// IndexStats summarizes bucket occupancy.
type IndexStats struct {
	Buckets        int     `json:"buckets"`
	NonEmpty       int     `json:"nonEmpty"`
	Entities       int     `json:"entities"`
	MaxInBucket    int     `json:"maxInBucket"`
	AvgPerNonEmpty float64 `json:"avgPerNonEmpty"`
}

// Stats returns occupancy statistics for the debug endpoint.
func (ix *Index) Stats() IndexStats {
	var maxIn, nonEmpty int
	for _, b := range ix.buckets {
		if len(b) > maxIn {
			maxIn = len(b)
		}
		if len(b) > 0 {
			nonEmpty++
		}
	}
	avg := 0.0
	if nonEmpty > 0 {
		avg = float64(ix.count) / float64(nonEmpty)
	}
	return IndexStats{
		Buckets:        len(ix.buckets),
		NonEmpty:       nonEmpty,
		Entities:       ix.count,
		MaxInBucket:    maxIn,
		AvgPerNonEmpty: avg,
	}
}
