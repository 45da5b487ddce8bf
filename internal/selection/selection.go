// Package selection lists the files a tpad directory offers and picks one by
// policy.
package selection

import (
	"cmp"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"
)

var ErrEmpty = errors.New("zero files available")

// Order is a listing order. Every order is applied stably on top of the
// lexical one, so ties resolve alphabetically.
type Order int

const (
	Lexical Order = iota
	Oldest
	Newest
	Largest
	Smallest
)

func (o Order) String() string {
	switch o {
	case Oldest:
		return "oldest"
	case Newest:
		return "newest"
	case Largest:
		return "largest"
	case Smallest:
		return "smallest"
	default:
		return "lexical"
	}
}

func ParseOrder(s string) (Order, error) {
	switch strings.ToLower(s) {
	case "", "lexical":
		return Lexical, nil
	case "oldest":
		return Oldest, nil
	case "newest":
		return Newest, nil
	case "largest":
		return Largest, nil
	case "smallest":
		return Smallest, nil
	}
	return Lexical, fmt.Errorf("unknown order %q", s)
}

type Entry struct {
	Name    string    `json:"name"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

// Index caches the eligible entries of one directory. Until EnableCache is
// called every query rescans; afterwards a rescan happens only after
// Invalidate.
type Index struct {
	dir string

	mu      sync.Mutex
	cache   bool
	dirty   bool
	entries []Entry
	intn    func(n int) int
}

func New(dir string) *Index {
	return &Index{dir: dir, dirty: true, intn: rand.Intn}
}

func (ix *Index) Dir() string { return ix.dir }

// EnableCache is called once something (the directory watcher) promises to
// Invalidate on every change.
func (ix *Index) EnableCache() {
	ix.mu.Lock()
	ix.cache = true
	ix.dirty = true
	ix.mu.Unlock()
}

// DisableCache reverts to rescanning on every query.
func (ix *Index) DisableCache() {
	ix.mu.Lock()
	ix.cache = false
	ix.mu.Unlock()
}

func (ix *Index) Invalidate() {
	ix.mu.Lock()
	ix.dirty = true
	ix.mu.Unlock()
}

func (ix *Index) Count() (int, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if err := ix.refreshLocked(); err != nil {
		return 0, err
	}
	return len(ix.entries), nil
}

// List returns a copy of the eligible entries in the given order.
func (ix *Index) List(order Order) ([]Entry, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if err := ix.refreshLocked(); err != nil {
		return nil, err
	}
	return sorted(ix.entries, order), nil
}

// Pick returns the first entry in the given order.
func (ix *Index) Pick(order Order) (string, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if err := ix.refreshLocked(); err != nil {
		return "", err
	}
	if len(ix.entries) == 0 {
		return "", ErrEmpty
	}
	return sorted(ix.entries, order)[0].Name, nil
}

// Random returns an entry drawn uniformly over the lexical listing.
func (ix *Index) Random() (string, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if err := ix.refreshLocked(); err != nil {
		return "", err
	}
	if len(ix.entries) == 0 {
		return "", ErrEmpty
	}
	return ix.entries[ix.intn(len(ix.entries))].Name, nil
}

func (ix *Index) refreshLocked() error {
	if ix.cache && !ix.dirty {
		return nil
	}
	entries, err := Scan(ix.dir)
	if err != nil {
		return err
	}
	ix.entries = entries
	ix.dirty = false
	return nil
}

// Scan lists the regular, non-hidden files directly inside dir in lexical
// order. Symlinks count when they resolve to a regular file.
func Scan(dir string) ([]Entry, error) {
	dirents, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", dir, err)
	}
	entries := make([]Entry, 0, len(dirents))
	for _, d := range dirents {
		if strings.HasPrefix(d.Name(), ".") {
			continue
		}
		info, err := os.Stat(filepath.Join(dir, d.Name()))
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		entries = append(entries, Entry{Name: d.Name(), Size: info.Size(), ModTime: info.ModTime()})
	}
	slices.SortFunc(entries, func(a, b Entry) int { return strings.Compare(a.Name, b.Name) })
	return entries, nil
}

func sorted(entries []Entry, order Order) []Entry {
	out := slices.Clone(entries)
	switch order {
	case Oldest:
		slices.SortStableFunc(out, func(a, b Entry) int { return a.ModTime.Compare(b.ModTime) })
	case Newest:
		slices.SortStableFunc(out, func(a, b Entry) int { return b.ModTime.Compare(a.ModTime) })
	case Largest:
		slices.SortStableFunc(out, func(a, b Entry) int { return cmp.Compare(b.Size, a.Size) })
	case Smallest:
		slices.SortStableFunc(out, func(a, b Entry) int { return cmp.Compare(a.Size, b.Size) })
	}
	return out
}
