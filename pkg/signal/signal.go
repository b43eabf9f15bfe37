// Copyright 2025 scorch project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package signal provides types for working with coverage feedback signal.
// A signal element encodes an instrumented edge index together with its
// hitcount bucket, so a bucket promotion of a known edge shows up as a
// new element.
package signal

type elemType uint32

// Signal is a set of signal elements.
type Signal map[elemType]struct{}

// Serial is a wire/storage representation of Signal.
type Serial struct {
	Elems []uint32
}

func (s Signal) Len() int {
	return len(s)
}

func (s Signal) Empty() bool {
	return len(s) == 0
}

func (s Signal) Copy() Signal {
	c := make(Signal, len(s))
	for e := range s {
		c[e] = struct{}{}
	}
	return c
}

func FromRaw(raw []uint32) Signal {
	if len(raw) == 0 {
		return nil
	}
	s := make(Signal, len(raw))
	for _, e := range raw {
		s[elemType(e)] = struct{}{}
	}
	return s
}

func (s Signal) Serialize() Serial {
	if s.Empty() {
		return Serial{}
	}
	res := Serial{Elems: make([]uint32, 0, len(s))}
	for e := range s {
		res.Elems = append(res.Elems, uint32(e))
	}
	return res
}

func (ser Serial) Deserialize() Signal {
	return FromRaw(ser.Elems)
}

// Diff returns elements of s1 that are not in s.
func (s Signal) Diff(s1 Signal) Signal {
	if s1.Empty() {
		return nil
	}
	var res Signal
	for e := range s1 {
		if _, ok := s[e]; ok {
			continue
		}
		if res == nil {
			res = make(Signal)
		}
		res[e] = struct{}{}
	}
	return res
}

// DiffRaw returns raw elements that are not yet in s.
func (s Signal) DiffRaw(raw []uint32) Signal {
	var res Signal
	for _, e := range raw {
		if _, ok := s[elemType(e)]; ok {
			continue
		}
		if res == nil {
			res = make(Signal)
		}
		res[elemType(e)] = struct{}{}
	}
	return res
}

func (s Signal) Intersection(s1 Signal) Signal {
	if s1.Empty() {
		return nil
	}
	res := make(Signal, len(s))
	for e := range s {
		if _, ok := s1[e]; ok {
			res[e] = struct{}{}
		}
	}
	return res
}

// Merge adds all elements of s1 to s. Merge never removes elements,
// the cumulative signal only grows over a campaign.
func (s *Signal) Merge(s1 Signal) {
	if s1.Empty() {
		return
	}
	s0 := *s
	if s0 == nil {
		s0 = make(Signal, len(s1))
		*s = s0
	}
	for e := range s1 {
		s0[e] = struct{}{}
	}
}

// Equal reports whether two signals contain exactly the same elements.
func (s Signal) Equal(s1 Signal) bool {
	if len(s) != len(s1) {
		return false
	}
	for e := range s {
		if _, ok := s1[e]; !ok {
			return false
		}
	}
	return true
}
