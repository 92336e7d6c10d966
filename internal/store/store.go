// Package store manages a JSON array file with atomic writes, deduplication
// and field-level patching.
//
// Each file stores a list of objects; dedup is based on a configurable key
// field. Concurrent writers are supported via PatchItems, which re-reads the
// file under an exclusive lock before each write and merges only the
// specified fields. This prevents the lost-update problem when multiple
// pipelines update different fields on the same records (the enricher owns
// text/source/media, the extractor owns extracted_text).
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// Item is one record in a store: a decoded JSON object.
type Item = map[string]any

// Store is a JSON array file plus the key field used for dedup and patching.
type Store struct {
	path     string
	keyField string
}

// MergeFunc merges a duplicate incoming item into the existing one.
type MergeFunc func(existing, incoming Item) Item

// New returns a Store over path. keyField "" defaults to "id".
func New(path, keyField string) *Store {
	if keyField == "" {
		keyField = "id"
	}
	return &Store{path: path, keyField: keyField}
}

// Path returns the backing file path.
func (s *Store) Path() string { return s.path }

// LockPath returns the sibling advisory lock file path.
func (s *Store) LockPath() string {
	ext := filepath.Ext(s.path)
	return strings.TrimSuffix(s.path, ext) + ".lock"
}

// Read returns the current contents. A missing or blank file reads as an
// empty list. Invalid UTF-8 in the file is replaced rather than rejected.
func (s *Store) Read() ([]Item, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store read %s: %w", s.path, err)
	}
	if len(data) == 0 || len(strings.TrimSpace(string(data))) == 0 {
		return nil, nil
	}
	if !utf8.Valid(data) {
		data = []byte(strings.ToValidUTF8(string(data), "�"))
	}
	var items []Item
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("store decode %s: %w", s.path, err)
	}
	return items, nil
}

// Write atomically replaces the store contents. Items are sanitized (lone
// surrogates and other invalid UTF-8 replaced with U+FFFD), encoded with
// 2-space indent and no HTML escaping, written to a temp file in the same
// directory and renamed over the target.
func (s *Store) Write(items []Item) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("store write %s: %w", s.path, err)
	}
	if items == nil {
		items = []Item{}
	}
	sanitized := make([]Item, len(items))
	for i, it := range items {
		sanitized[i] = sanitize(it).(Item)
	}

	var buf strings.Builder
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(sanitized); err != nil {
		return fmt.Errorf("store encode %s: %w", s.path, err)
	}

	dir := filepath.Dir(filepath.Clean(s.path))
	tmp, err := os.CreateTemp(dir, ".store-*.json.tmp")
	if err != nil {
		return fmt.Errorf("store write: create temp: %w", err)
	}
	name := tmp.Name()
	_, werr := tmp.WriteString(buf.String())
	cerr := tmp.Close()
	if werr != nil || cerr != nil {
		os.Remove(name)
		if werr != nil {
			return fmt.Errorf("store write: write: %w", werr)
		}
		return fmt.Errorf("store write: close: %w", cerr)
	}
	if err := os.Rename(name, s.path); err != nil {
		os.Remove(name)
		return fmt.Errorf("store write: rename: %w", err)
	}
	return nil
}

// Append adds items with deduplication on the key field. When mergeFn is nil
// duplicates are skipped silently; otherwise the existing item is replaced by
// mergeFn(existing, incoming). Returns the number of genuinely new items.
//
// Append is a read-modify-write without the patch lock; it is reserved for
// single-writer entry points (bootstrap sync, full upserts).
func (s *Store) Append(newItems []Item, mergeFn MergeFunc) (int, error) {
	existing, err := s.Read()
	if err != nil {
		return 0, err
	}
	keyToIdx := make(map[string]int, len(existing))
	for i, it := range existing {
		if k, ok := it[s.keyField].(string); ok && k != "" {
			keyToIdx[k] = i
		}
	}

	added := 0
	for _, it := range newItems {
		k, _ := it[s.keyField].(string)
		if k != "" {
			if idx, dup := keyToIdx[k]; dup {
				if mergeFn != nil {
					existing[idx] = mergeFn(existing[idx], it)
				}
				continue
			}
		}
		existing = append(existing, it)
		if k != "" {
			keyToIdx[k] = len(existing) - 1
		}
		added++
	}

	if err := s.Write(existing); err != nil {
		return 0, err
	}
	return added, nil
}

// PatchItems applies field-level updates to specific items under an exclusive
// advisory lock on the sibling .lock file. The file is re-read inside the
// lock, each patch is a shallow merge into the item whose key matches, and
// the result is written atomically. Patches for unknown keys are ignored.
// Returns the number of items actually patched.
//
// This is the only mutation safe against another process patching the same
// file: two PatchItems calls never interleave, so concurrent pipelines that
// touch disjoint fields both land.
func (s *Store) PatchItems(patches map[string]Item) (int, error) {
	if len(patches) == 0 {
		return 0, nil
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return 0, fmt.Errorf("store patch %s: %w", s.path, err)
	}

	unlock, err := lockFile(s.LockPath())
	if err != nil {
		return 0, fmt.Errorf("store patch %s: %w", s.path, err)
	}
	defer unlock()

	items, err := s.Read()
	if err != nil {
		return 0, err
	}
	keyToIdx := make(map[string]int, len(items))
	for i, it := range items {
		if k, ok := it[s.keyField].(string); ok {
			keyToIdx[k] = i
		}
	}

	patched := 0
	for key, updates := range patches {
		idx, ok := keyToIdx[key]
		if !ok {
			continue
		}
		for f, v := range updates {
			items[idx][f] = v
		}
		patched++
	}

	if err := s.Write(items); err != nil {
		return 0, err
	}
	return patched, nil
}

// Find returns items matching all given field=value pairs. Comparison is by
// JSON-value equality on scalar fields.
func (s *Store) Find(match Item) ([]Item, error) {
	items, err := s.Read()
	if err != nil {
		return nil, err
	}
	var out []Item
	for _, it := range items {
		ok := true
		for k, v := range match {
			if it[k] != v {
				ok = false
				break
			}
		}
		if ok {
			out = append(out, it)
		}
	}
	return out, nil
}

// Count returns the number of items in the store.
func (s *Store) Count() (int, error) {
	items, err := s.Read()
	if err != nil {
		return 0, err
	}
	return len(items), nil
}

// Delete removes the item whose key field equals key. Returns true when an
// item was removed. Not used by the pipelines; exists for external tooling.
func (s *Store) Delete(key string) (bool, error) {
	items, err := s.Read()
	if err != nil {
		return false, err
	}
	filtered := items[:0:0]
	for _, it := range items {
		if k, _ := it[s.keyField].(string); k == key {
			continue
		}
		filtered = append(filtered, it)
	}
	if len(filtered) == len(items) {
		return false, nil
	}
	if err := s.Write(filtered); err != nil {
		return false, err
	}
	return true, nil
}

// sanitize replaces invalid UTF-8 (lone surrogates from web-scraped data)
// with U+FFFD, recursively through nested maps and lists.
func sanitize(v any) any {
	switch x := v.(type) {
	case string:
		if utf8.ValidString(x) {
			return x
		}
		return strings.ToValidUTF8(x, "�")
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			out[sanitize(k).(string)] = sanitize(val)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, val := range x {
			out[i] = sanitize(val)
		}
		return out
	case []map[string]any:
		out := make([]any, len(x))
		for i, val := range x {
			out[i] = sanitize(val)
		}
		return out
	default:
		return v
	}
}
