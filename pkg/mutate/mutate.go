// Copyright 2025 scorch project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package mutate implements the byte-level (havoc) mutation stage:
// a composable stack of randomized operators applied to a seed.
// Dictionary operators draw from the loaded token set; without a
// dictionary they reduce to a no-op subset.
package mutate

import (
	"encoding/binary"
	"math/rand"

	"github.com/scorchfuzz/scorch/pkg/dict"
)

const (
	// DefaultStackPow bounds the operator stack: 1..2^pow operators per candidate.
	DefaultStackPow = 3
	maxInputLen     = 1 << 20
	maxArith        = 35
)

var interesting8 = []int8{-128, -1, 0, 1, 16, 32, 64, 100, 127}
var interesting16 = []int16{-32768, -129, 128, 255, 256, 512, 1000, 1024, 4096, 32767}
var interesting32 = []int32{-2147483648, -100663046, -32769, 32768, 65535, 65536, 100663045, 2147483647}

type Mutator struct {
	rnd      *rand.Rand
	tokens   *dict.Tokens
	stackPow int
	ops      []func(data []byte) []byte
}

func New(rnd *rand.Rand, tokens *dict.Tokens, stackPow int) *Mutator {
	if stackPow <= 0 {
		stackPow = DefaultStackPow
	}
	m := &Mutator{
		rnd:      rnd,
		tokens:   tokens,
		stackPow: stackPow,
	}
	m.ops = []func([]byte) []byte{
		m.flipBit,
		m.setByte,
		m.insertBytes,
		m.deleteBytes,
		m.duplicateBlock,
		m.copyBlock,
		m.swapBytes,
		m.arith,
		m.overwriteInteresting,
	}
	if tokens.Len() > 0 {
		m.ops = append(m.ops, m.insertToken, m.overwriteToken)
	}
	return m
}

// Mutate produces one candidate from seed by applying a randomized
// stack of 1..2^stackPow operators. splice, when non-nil, is another
// corpus input available for crossover. The seed itself is not modified.
func (m *Mutator) Mutate(seed, splice []byte) []byte {
	data := append([]byte{}, seed...)
	ops := m.ops
	if len(splice) > 0 {
		ops = append(append([]func([]byte) []byte{}, ops...), func(d []byte) []byte {
			return m.splice(d, splice)
		})
	}
	count := 1 << (1 + m.rnd.Intn(m.stackPow)) // 2..2^stackPow
	count = 1 + m.rnd.Intn(count)
	for i := 0; i < count; i++ {
		data = ops[m.rnd.Intn(len(ops))](data)
		if len(data) > maxInputLen {
			data = data[:maxInputLen]
		}
	}
	return data
}

func (m *Mutator) flipBit(data []byte) []byte {
	if len(data) == 0 {
		return m.insertBytes(data)
	}
	pos := m.rnd.Intn(len(data))
	data[pos] ^= 1 << uint(m.rnd.Intn(8))
	return data
}

func (m *Mutator) setByte(data []byte) []byte {
	if len(data) == 0 {
		return m.insertBytes(data)
	}
	data[m.rnd.Intn(len(data))] = byte(m.rnd.Intn(256))
	return data
}

func (m *Mutator) insertBytes(data []byte) []byte {
	n := 1 + m.rnd.Intn(8)
	pos := 0
	if len(data) > 0 {
		pos = m.rnd.Intn(len(data) + 1)
	}
	chunk := make([]byte, n)
	for i := range chunk {
		chunk[i] = byte(m.rnd.Intn(256))
	}
	return insert(data, pos, chunk)
}

func (m *Mutator) deleteBytes(data []byte) []byte {
	if len(data) == 0 {
		return data
	}
	pos := m.rnd.Intn(len(data))
	n := 1 + m.rnd.Intn(len(data)-pos)
	return append(data[:pos], data[pos+n:]...)
}

func (m *Mutator) duplicateBlock(data []byte) []byte {
	if len(data) == 0 {
		return m.insertBytes(data)
	}
	start := m.rnd.Intn(len(data))
	n := 1 + m.rnd.Intn(len(data)-start)
	block := append([]byte{}, data[start:start+n]...)
	return insert(data, start+n, block)
}

func (m *Mutator) copyBlock(data []byte) []byte {
	if len(data) < 2 {
		return data
	}
	src := m.rnd.Intn(len(data))
	dst := m.rnd.Intn(len(data))
	n := 1 + m.rnd.Intn(len(data)-max(src, dst))
	copy(data[dst:dst+n], data[src:src+n])
	return data
}

func (m *Mutator) swapBytes(data []byte) []byte {
	if len(data) < 2 {
		return data
	}
	i := m.rnd.Intn(len(data))
	j := m.rnd.Intn(len(data))
	data[i], data[j] = data[j], data[i]
	return data
}

func (m *Mutator) arith(data []byte) []byte {
	delta := 1 + m.rnd.Intn(maxArith)
	if m.rnd.Intn(2) == 0 {
		delta = -delta
	}
	switch width := 1 << m.rnd.Intn(3); {
	case width == 1 || len(data) < 2:
		if len(data) == 0 {
			return m.insertBytes(data)
		}
		pos := m.rnd.Intn(len(data))
		data[pos] = byte(int(data[pos]) + delta)
	case width == 2:
		pos := m.rnd.Intn(len(data) - 1)
		buf := data[pos : pos+2]
		if m.rnd.Intn(2) == 0 {
			binary.LittleEndian.PutUint16(buf, binary.LittleEndian.Uint16(buf)+uint16(delta))
		} else {
			binary.BigEndian.PutUint16(buf, binary.BigEndian.Uint16(buf)+uint16(delta))
		}
	default:
		if len(data) < 4 {
			return data
		}
		pos := m.rnd.Intn(len(data) - 3)
		buf := data[pos : pos+4]
		if m.rnd.Intn(2) == 0 {
			binary.LittleEndian.PutUint32(buf, binary.LittleEndian.Uint32(buf)+uint32(delta))
		} else {
			binary.BigEndian.PutUint32(buf, binary.BigEndian.Uint32(buf)+uint32(delta))
		}
	}
	return data
}

func (m *Mutator) overwriteInteresting(data []byte) []byte {
	if len(data) == 0 {
		return m.insertBytes(data)
	}
	switch width := 1 << m.rnd.Intn(3); {
	case width == 1 || len(data) < 2:
		data[m.rnd.Intn(len(data))] = byte(interesting8[m.rnd.Intn(len(interesting8))])
	case width == 2:
		pos := m.rnd.Intn(len(data) - 1)
		v := uint16(interesting16[m.rnd.Intn(len(interesting16))])
		if m.rnd.Intn(2) == 0 {
			binary.LittleEndian.PutUint16(data[pos:], v)
		} else {
			binary.BigEndian.PutUint16(data[pos:], v)
		}
	default:
		if len(data) < 4 {
			return data
		}
		pos := m.rnd.Intn(len(data) - 3)
		v := uint32(interesting32[m.rnd.Intn(len(interesting32))])
		if m.rnd.Intn(2) == 0 {
			binary.LittleEndian.PutUint32(data[pos:], v)
		} else {
			binary.BigEndian.PutUint32(data[pos:], v)
		}
	}
	return data
}

func (m *Mutator) insertToken(data []byte) []byte {
	tok := m.tokens.Pick(m.rnd)
	if tok == nil {
		return data
	}
	pos := 0
	if len(data) > 0 {
		pos = m.rnd.Intn(len(data) + 1)
	}
	return insert(data, pos, tok)
}

func (m *Mutator) overwriteToken(data []byte) []byte {
	tok := m.tokens.Pick(m.rnd)
	if tok == nil || len(data) < len(tok) {
		return m.insertToken(data)
	}
	pos := m.rnd.Intn(len(data) - len(tok) + 1)
	copy(data[pos:], tok)
	return data
}

// splice crosses data over with another corpus input.
func (m *Mutator) splice(data, other []byte) []byte {
	if len(data) == 0 || len(other) == 0 {
		return data
	}
	n := 1 + m.rnd.Intn(len(other))
	pos := m.rnd.Intn(len(data) + 1)
	return insert(data, pos, other[:n])
}

func insert(data []byte, pos int, chunk []byte) []byte {
	out := make([]byte, 0, len(data)+len(chunk))
	out = append(out, data[:pos]...)
	out = append(out, chunk...)
	out = append(out, data[pos:]...)
	return out
}
