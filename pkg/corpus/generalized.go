// Copyright 2025 scorch project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package corpus

// Generalized is the structural representation of a test case: an ordered
// run of segments where fixed content is required to reproduce the test
// case's coverage and gaps mark freely replaceable byte ranges.
// It is derived once per item by the generalization stage and read
// thereafter by structural mutation.
type Generalized struct {
	Segments []Segment `msgpack:"segments"`
}

// Segment is either fixed required content or a replaceable gap.
// A gap still carries the original bytes that occupied it, structural
// mutation replaces or drops them while keeping fixed segments intact.
type Segment struct {
	Gap  bool   `msgpack:"gap"`
	Data []byte `msgpack:"data"`
}

// Flatten maps the structural representation back to the flat byte
// sequence that is handed to the execution channel.
func (g *Generalized) Flatten() []byte {
	var out []byte
	for _, seg := range g.Segments {
		out = append(out, seg.Data...)
	}
	return out
}

// Clone returns a deep copy, mutators never modify stored metadata.
func (g *Generalized) Clone() *Generalized {
	c := &Generalized{Segments: make([]Segment, len(g.Segments))}
	for i, seg := range g.Segments {
		c.Segments[i] = Segment{Gap: seg.Gap, Data: append([]byte{}, seg.Data...)}
	}
	return c
}

// HasGaps reports whether structural mutation has anything to work
// with. A fully fixed input generalized to nothing.
func (g *Generalized) HasGaps() bool {
	for _, seg := range g.Segments {
		if seg.Gap {
			return true
		}
	}
	return false
}

// Skeleton returns the concatenation of fixed segments only. Two
// candidates produced from the same generalized input must agree on it.
func (g *Generalized) Skeleton() [][]byte {
	var fixed [][]byte
	for _, seg := range g.Segments {
		if !seg.Gap {
			fixed = append(fixed, seg.Data)
		}
	}
	return fixed
}
