// Package journal defines the append-only record of certificates signed by
// the hierarchy.
package journal

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrClosed is returned when writing to a journal that has been closed.
var ErrClosed = errors.New("journal is closed")

// Action names what happened to a certificate.
type Action string

const (
	ActionRoot      Action = "root"
	ActionIssue     Action = "issue"
	ActionRenew     Action = "renew"
	ActionTombstone Action = "tombstone"
)

// Entry is one journal record. Seq is assigned by the journal.
type Entry struct {
	ID       string    `json:"id"`
	Seq      uint64    `json:"seq"`
	Time     time.Time `json:"time"`
	Action   Action    `json:"action"`
	Issuer   string    `json:"issuer"`
	Subject  string    `json:"subject"`
	Serial   string    `json:"serial"`
	NotAfter time.Time `json:"not_after"`
}

// Journal stores entries in insertion order.
type Journal interface {
	Record(e Entry) error
	List() ([]Entry, error)
}

// Prepare fills in the entry ID when the caller left it empty.
func Prepare(e Entry) Entry {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}
	return e
}

// Filter returns the entries whose subject path equals subject.
func Filter(entries []Entry, subject string) []Entry {
	var out []Entry
	for _, e := range entries {
		if e.Subject == subject {
			out = append(out, e)
		}
	}
	return out
}
