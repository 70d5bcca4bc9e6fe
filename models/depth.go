package models

import "fmt"

// Depth records how far an event's import from the timing source has progressed.
type Depth string

const (
	DepthNone     Depth = "none"
	DepthEntries  Depth = "entries"
	DepthResults  Depth = "results"
	DepthLapsFull Depth = "laps_full"
)

var depthRank = map[Depth]int{
	DepthNone:     0,
	DepthEntries:  1,
	DepthResults:  2,
	DepthLapsFull: 3,
}

// ParseDepth validates s as a depth. An empty string is treated as laps_full.
func ParseDepth(s string) (Depth, error) {
	if s == "" {
		return DepthLapsFull, nil
	}
	d := Depth(s)
	if _, ok := depthRank[d]; !ok {
		return "", fmt.Errorf("unknown depth %q", s)
	}
	return d, nil
}

// Valid reports whether d is one of the four named depths.
func (d Depth) Valid() bool {
	_, ok := depthRank[d]
	return ok
}

// Rank orders depths; unknown values rank below none.
func (d Depth) Rank() int {
	if r, ok := depthRank[d]; ok {
		return r
	}
	return -1
}

// Satisfies reports whether data imported to d already covers target.
func (d Depth) Satisfies(target Depth) bool {
	return d.Rank() >= target.Rank()
}

// Max returns the deeper of d and o.
func (d Depth) Max(o Depth) Depth {
	if o.Rank() > d.Rank() {
		return o
	}
	return d
}

// HasEntrants reports whether entrant records exist at this depth.
func (d Depth) HasEntrants() bool {
	return d.Rank() >= depthRank[DepthEntries]
}
