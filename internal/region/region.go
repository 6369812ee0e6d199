// Package region selects the tile files that cover a disk around a point.
//
// A world is stored as a grid of square tiles, each DefaultTileEdge blocks on
// a side and each backed by one file named r.<x>.<z>.<ext>. Selection is a
// deliberate over-approximation: a tile is kept when any of its corners lies
// inside the radius, measured in whole tiles.
package region

import (
	"fmt"
	"sort"
)

// DefaultTileEdge is the edge length of one tile in blocks.
const DefaultTileEdge = 512

// DefaultMaxRadius is the widest radius a request may ask for unless
// configured otherwise.
const DefaultMaxRadius = 8192

// Coord identifies one tile in the grid.
type Coord struct {
	X int `json:"x"`
	Z int `json:"z"`
}

// FileName returns the canonical tile file name, e.g. r.-1.2.mca.
func (c Coord) FileName(ext string) string {
	return fmt.Sprintf("r.%d.%d.%s", c.X, c.Z, ext)
}

func (c Coord) String() string {
	return fmt.Sprintf("(%d, %d)", c.X, c.Z)
}

// Point is a block position. Only X and Z take part in selection.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
	Z int `json:"z"`
}

// Spec is one clone request's region: a centre and a radius in blocks.
type Spec struct {
	Center Point `json:"center"`
	Radius int   `json:"radius"`
}

// Tiles selects the tile set for s using the given tile edge.
func (s Spec) Tiles(tileEdge int) Set {
	return Select(s.Center, s.Radius, tileEdge)
}

// Set is an unordered set of tile coordinates.
type Set map[Coord]struct{}

// NewSet builds a set from coords.
func NewSet(coords ...Coord) Set {
	s := make(Set, len(coords))
	for _, c := range coords {
		s[c] = struct{}{}
	}
	return s
}

func (s Set) Contains(c Coord) bool {
	_, ok := s[c]
	return ok
}

func (s Set) Len() int { return len(s) }

// Sorted returns the coordinates ordered by X, then Z.
func (s Set) Sorted() []Coord {
	out := make([]Coord, 0, len(s))
	for c := range s {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].X != out[j].X {
			return out[i].X < out[j].X
		}
		return out[i].Z < out[j].Z
	})
	return out
}

// Bounds is the inclusive tile bounding box of a set.
type Bounds struct {
	MinX, MinZ, MaxX, MaxZ int
}

// Bounds returns the bounding box of s. ok is false for an empty set.
func (s Set) Bounds() (b Bounds, ok bool) {
	for c := range s {
		if !ok {
			b = Bounds{MinX: c.X, MinZ: c.Z, MaxX: c.X, MaxZ: c.Z}
			ok = true
			continue
		}
		b.MinX = min(b.MinX, c.X)
		b.MinZ = min(b.MinZ, c.Z)
		b.MaxX = max(b.MaxX, c.X)
		b.MaxZ = max(b.MaxZ, c.Z)
	}
	return b, ok
}

// TileOf returns the tile containing the block at (x, z).
func TileOf(x, z, tileEdge int) Coord {
	if tileEdge <= 0 {
		tileEdge = DefaultTileEdge
	}
	return Coord{X: floorDiv(x, tileEdge), Z: floorDiv(z, tileEdge)}
}

// Select returns every tile around center with a corner inside the radius.
//
// The radius is converted to whole tiles and rounded up by one, then each
// candidate in the (2r+1)² square around the centre tile is kept when any of
// its four corners, in tile units relative to the centre tile, has squared
// distance <= r².
func Select(center Point, radius, tileEdge int) Set {
	if tileEdge <= 0 {
		tileEdge = DefaultTileEdge
	}
	if radius < 0 {
		radius = 0
	}

	r := radius/tileEdge + 1
	origin := TileOf(center.X, center.Z, tileEdge)

	out := make(Set)
	for dx := -r; dx <= r; dx++ {
		for dz := -r; dz <= r; dz++ {
			if cornerWithin(dx, dz, r) {
				out[Coord{X: origin.X + dx, Z: origin.Z + dz}] = struct{}{}
			}
		}
	}
	return out
}

func cornerWithin(dx, dz, r int) bool {
	r2 := r * r
	return inside(dx, dz, r2) ||
		inside(dx+1, dz, r2) ||
		inside(dx, dz+1, r2) ||
		inside(dx+1, dz+1, r2)
}

func inside(x, z, r2 int) bool {
	return x*x+z*z <= r2
}

// floorDiv rounds towards negative infinity so block -1 lands in tile -1.
func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
