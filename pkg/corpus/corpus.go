// Copyright 2025 scorch project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package corpus maintains the set of accepted test cases backed by the
// on-disk queue/ directory, with a bounded in-memory cache of test case
// data. Every entry on disk has a corresponding in-memory index entry;
// the index is always resident, only data pages are evicted.
package corpus

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/scorchfuzz/scorch/pkg/hash"
	"github.com/scorchfuzz/scorch/pkg/osutil"
)

// DefaultCacheSize bounds how many test cases stay resident in memory.
const DefaultCacheSize = 1000

// Item is one accepted test case. Data is immutable; scheduling metadata
// is mutated only through Corpus methods.
type Item struct {
	Sig  hash.Sig
	Size int

	// Scheduling metadata.
	ScheduledCount int
	ExecTimeNS     uint64
	NewSignal      int // number of signal elements this item discovered
	Generalized    *Generalized
}

type itemMeta struct {
	ScheduledCount int          `msgpack:"scheduled_count"`
	ExecTimeNS     uint64       `msgpack:"exec_time_ns"`
	NewSignal      int          `msgpack:"new_signal"`
	Generalized    *Generalized `msgpack:"generalized,omitempty"`
}

type Corpus struct {
	dir string

	mu    sync.Mutex
	items map[hash.Sig]*Item
	order []*Item
	cache *lru[hash.Sig, []byte]
}

func New(dir string, cacheSize int) *Corpus {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	return &Corpus{
		dir:   dir,
		items: make(map[hash.Sig]*Item),
		cache: newLRU[hash.Sig, []byte](cacheSize),
	}
}

// Load restores the corpus from disk. A malformed entry aborts loading,
// a corrupted corpus is surfaced rather than silently truncated.
func (c *Corpus) Load() error {
	files, err := osutil.ListFiles(c.dir)
	if err != nil {
		return fmt.Errorf("failed to list corpus dir: %w", err)
	}
	for _, name := range files {
		if strings.HasSuffix(name, metaSuffix) || strings.HasPrefix(name, ".") {
			continue
		}
		sig, err := hash.FromString(name)
		if err != nil {
			return fmt.Errorf("unexpected file %q in corpus dir: %w", name, err)
		}
		data, err := os.ReadFile(filepath.Join(c.dir, name))
		if err != nil {
			return fmt.Errorf("failed to read corpus entry %v: %w", name, err)
		}
		if got := hash.Hash(data); got != sig {
			return fmt.Errorf("corpus entry %v is corrupted (content hash %v)", name, got.String())
		}
		item := &Item{Sig: sig, Size: len(data)}
		if err := c.loadMeta(item); err != nil {
			return err
		}
		c.mu.Lock()
		if _, ok := c.items[sig]; !ok {
			c.items[sig] = item
			c.order = append(c.order, item)
			c.cache.put(sig, data)
		}
		c.mu.Unlock()
	}
	return nil
}

const metaSuffix = ".meta"

func (c *Corpus) loadMeta(item *Item) error {
	path := filepath.Join(c.dir, item.Sig.String()+metaSuffix)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read corpus metadata %v: %w", path, err)
	}
	var meta itemMeta
	if err := msgpack.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("corpus metadata %v is corrupted: %w", path, err)
	}
	item.ScheduledCount = meta.ScheduledCount
	item.ExecTimeNS = meta.ExecTimeNS
	item.NewSignal = meta.NewSignal
	item.Generalized = meta.Generalized
	return nil
}

func (c *Corpus) saveMeta(item *Item) error {
	meta := itemMeta{
		ScheduledCount: item.ScheduledCount,
		ExecTimeNS:     item.ExecTimeNS,
		NewSignal:      item.NewSignal,
		Generalized:    item.Generalized,
	}
	data, err := msgpack.Marshal(&meta)
	if err != nil {
		return err
	}
	return osutil.WriteFileAtomic(filepath.Join(c.dir, item.Sig.String()+metaSuffix), data)
}

// Save adds a test case unless an identical byte sequence is already
// present. The data file hits disk before the item is indexed, so an
// entry is only ever counted after it is durable.
func (c *Corpus) Save(data []byte, execTimeNS uint64, newSignal int) (*Item, bool, error) {
	sig := hash.Hash(data)

	c.mu.Lock()
	if old, ok := c.items[sig]; ok {
		c.mu.Unlock()
		return old, false, nil
	}
	c.mu.Unlock()

	if err := osutil.WriteFileAtomic(filepath.Join(c.dir, sig.String()), data); err != nil {
		return nil, false, fmt.Errorf("failed to persist corpus entry: %w", err)
	}
	item := &Item{
		Sig:        sig,
		Size:       len(data),
		ExecTimeNS: execTimeNS,
		NewSignal:  newSignal,
	}
	if err := c.saveMeta(item); err != nil {
		return nil, false, fmt.Errorf("failed to persist corpus metadata: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if old, ok := c.items[sig]; ok {
		// Lost the race to a concurrent Save of the same content.
		return old, false, nil
	}
	c.items[sig] = item
	c.order = append(c.order, item)
	c.cache.put(sig, append([]byte{}, data...))
	return item, true, nil
}

// Data returns the test case bytes, reloading from disk on cache miss.
func (c *Corpus) Data(item *Item) ([]byte, error) {
	c.mu.Lock()
	if data, ok := c.cache.get(item.Sig); ok {
		c.mu.Unlock()
		return data, nil
	}
	c.mu.Unlock()

	data, err := os.ReadFile(filepath.Join(c.dir, item.Sig.String()))
	if err != nil {
		return nil, fmt.Errorf("failed to reload corpus entry %v: %w", item.Sig.String(), err)
	}
	c.mu.Lock()
	c.cache.put(item.Sig, data)
	c.mu.Unlock()
	return data, nil
}

// Pin marks item as the scheduler's current pick, its data stays cache
// resident until Unpin.
func (c *Corpus) Pin(item *Item) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.pin(item.Sig)
}

func (c *Corpus) Unpin(item *Item) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.unpin(item.Sig)
}

// OnScheduled records that item was picked as a mutation seed.
func (c *Corpus) OnScheduled(item *Item) {
	c.mu.Lock()
	defer c.mu.Unlock()
	item.ScheduledCount++
}

// SetGeneralized attaches structural metadata, computed once per item.
func (c *Corpus) SetGeneralized(item *Item, g *Generalized) error {
	c.mu.Lock()
	item.Generalized = g
	c.mu.Unlock()
	return c.saveMeta(item)
}

func (c *Corpus) Items() []*Item {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Item{}, c.order...)
}

func (c *Corpus) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *Corpus) Contains(data []byte) bool {
	sig := hash.Hash(data)
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.items[sig]
	return ok
}

func (c *Corpus) cachedLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cache.len()
}
