// © 2025 Max Karev. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package archive keeps a durable record of every paper the bot has ever
// posted, used for deduplication across runs.
package archive

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"slices"
	"time"

	"github.com/mkrv/paperbot/internal/atomicio"
)

// ErrCorrupt indicates that an existing archive file could not be parsed.
// This is distinct from the file being absent, which is normal on first run.
var ErrCorrupt = errors.New("corrupt archive")

// Item is one normalized feed entry. ID is the canonical link URL and is the
// unique key across the archive.
type Item struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Authors   string    `json:"authors,omitempty"`
	Abstract  string    `json:"abstract,omitempty"`
	FirstSeen time.Time `json:"first_seen,omitzero"`
}

// Archive is a persistent mapping from item ID to [Item]. It is append-only:
// once an ID is present it is never removed or overwritten.
type Archive struct {
	path  string
	items map[string]Item
	dirty bool
}

// Load reads the archive from path. A missing file yields an empty archive and
// no error; an unreadable or unparseable file yields an error wrapping
// [ErrCorrupt].
func Load(path string) (*Archive, error) {
	a := &Archive{
		path:  path,
		items: make(map[string]Item),
	}

	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return a, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if err := json.Unmarshal(b, &a.items); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return a, nil
}

// Contains reports whether an item with the given ID has been seen before.
func (a *Archive) Contains(id string) bool {
	_, ok := a.items[id]
	return ok
}

// Merge records the item as seen. Merging an already-present ID is a no-op.
// It reports whether the archive changed.
func (a *Archive) Merge(it Item) bool {
	if _, ok := a.items[it.ID]; ok {
		return false
	}
	a.items[it.ID] = it
	a.dirty = true
	return true
}

// Len returns the number of archived items.
func (a *Archive) Len() int { return len(a.items) }

// Items returns all archived items sorted by ID.
func (a *Archive) Items() []Item {
	items := make([]Item, 0, len(a.items))
	for _, id := range slices.Sorted(maps.Keys(a.items)) {
		items = append(items, a.items[id])
	}
	return items
}

// Changed reports whether the archive was modified since it was loaded or last
// persisted.
func (a *Archive) Changed() bool { return a.dirty }

// Persist writes the archive back to its file. It does nothing when the
// archive hasn't changed. The write is atomic: an interrupted persist never
// leaves a file that fails to parse on the next Load.
func (a *Archive) Persist() error {
	if !a.dirty {
		return nil
	}
	b, err := json.MarshalIndent(a.items, "", "  ")
	if err != nil {
		return err
	}
	if err := atomicio.WriteFile(a.path, b, 0o644); err != nil {
		return err
	}
	a.dirty = false
	return nil
}
