// Copyright 2025 scorch project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package dict loads afl-style dictionary files. A dictionary is a flat
// list of byte-string tokens loaded once at startup and shared read-only
// across all mutation stages that consume it.
//
// File format, one token per line:
//
//	# comment
//	keyword_kw1="foo"
//	header_magic="PK\x03\x04"
//	"bare token"
package dict

import (
	"fmt"
	"math/rand"
	"os"
	"strings"
)

// Tokens is an immutable token set.
type Tokens struct {
	tokens [][]byte
}

func (t *Tokens) Len() int {
	if t == nil {
		return 0
	}
	return len(t.tokens)
}

// Pick returns a random token, or nil for an empty set.
func (t *Tokens) Pick(rnd *rand.Rand) []byte {
	if t.Len() == 0 {
		return nil
	}
	return t.tokens[rnd.Intn(len(t.tokens))]
}

// All returns the token list. Callers must not modify the returned slices.
func (t *Tokens) All() [][]byte {
	if t == nil {
		return nil
	}
	return t.tokens
}

// LoadFile parses one dictionary file.
func LoadFile(path string) (*Tokens, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read dictionary: %w", err)
	}
	tokens := &Tokens{}
	for i, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || line[0] == '#' {
			continue
		}
		tok, err := parseLine(line)
		if err != nil {
			return nil, fmt.Errorf("%v:%v: %w", path, i+1, err)
		}
		tokens.tokens = append(tokens.tokens, tok)
	}
	return tokens, nil
}

func parseLine(line string) ([]byte, error) {
	// Strip the optional name= prefix, the value starts at the first quote.
	start := strings.IndexByte(line, '"')
	if start < 0 {
		return nil, fmt.Errorf("token value is not quoted")
	}
	end := strings.LastIndexByte(line, '"')
	if end == start {
		return nil, fmt.Errorf("unterminated token value")
	}
	return unescape(line[start+1 : end])
}

func unescape(s string) ([]byte, error) {
	var out []byte
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' {
			out = append(out, s[i])
			continue
		}
		i++
		if i >= len(s) {
			return nil, fmt.Errorf("trailing backslash")
		}
		switch s[i] {
		case '\\', '"':
			out = append(out, s[i])
		case 'x':
			if i+2 >= len(s) {
				return nil, fmt.Errorf("truncated \\x escape")
			}
			hi, ok1 := hexDigit(s[i+1])
			lo, ok2 := hexDigit(s[i+2])
			if !ok1 || !ok2 {
				return nil, fmt.Errorf("bad \\x escape %q", s[i-1:i+3])
			}
			out = append(out, hi<<4|lo)
			i += 2
		default:
			return nil, fmt.Errorf("unknown escape \\%c", s[i])
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("empty token")
	}
	return out, nil
}

func hexDigit(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}
