// Copyright 2025 scorch project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package corpus

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/scorchfuzz/scorch/pkg/osutil"
)

// LoadSeeds reads every regular file from the given directories in
// deterministic order. An unreadable file aborts loading, bad seeds are
// surfaced rather than silently skipped.
func LoadSeeds(dirs []string) ([][]byte, error) {
	var seeds [][]byte
	for _, dir := range dirs {
		files, err := osutil.ListFiles(dir)
		if err != nil {
			return nil, fmt.Errorf("failed to list seed dir %v: %w", dir, err)
		}
		for _, name := range files {
			data, err := os.ReadFile(filepath.Join(dir, name))
			if err != nil {
				return nil, fmt.Errorf("failed to read seed %v/%v: %w", dir, name, err)
			}
			seeds = append(seeds, data)
		}
	}
	return seeds, nil
}
