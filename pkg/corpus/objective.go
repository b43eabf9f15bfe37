// Copyright 2025 scorch project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package corpus

import (
	"fmt"
	"path/filepath"

	"github.com/scorchfuzz/scorch/pkg/hash"
	"github.com/scorchfuzz/scorch/pkg/osutil"
)

// Objective is the append-only crash store backing the crashes/
// directory. Crashing inputs are never scheduled for mutation and are
// not kept in memory.
type Objective struct {
	dir string
}

func NewObjective(dir string) *Objective {
	return &Objective{dir: dir}
}

// Save persists a crashing input. Identical content collapses to a
// single file, entries are never removed.
func (o *Objective) Save(data []byte) error {
	name := "crash-" + hash.String(data)
	if err := osutil.WriteFileAtomic(filepath.Join(o.dir, name), data); err != nil {
		return fmt.Errorf("failed to persist crash input: %w", err)
	}
	return nil
}

// Count returns the number of stored crash inputs.
func (o *Objective) Count() int {
	files, err := osutil.ListFiles(o.dir)
	if err != nil {
		return 0
	}
	return len(files)
}
