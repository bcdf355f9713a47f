// Package memory provides a thread-safe in-memory journal.
package memory

import (
	"slices"
	"sync"

	"github.com/jmcleod/mupki/journal"
)

// Journal is a thread-safe in-memory implementation of journal.Journal.
// Suitable for testing and demos.
type Journal struct {
	mu      sync.RWMutex
	entries []journal.Entry
}

var _ journal.Journal = (*Journal)(nil)

// New creates a new empty in-memory Journal.
func New() *Journal {
	return &Journal{}
}

func (j *Journal) Record(e journal.Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	e = journal.Prepare(e)
	e.Seq = uint64(len(j.entries) + 1)
	j.entries = append(j.entries, e)
	return nil
}

func (j *Journal) List() ([]journal.Entry, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return slices.Clone(j.entries), nil
}
