package bbolt

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/jmcleod/mupki/journal"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "journal.db"), nil)
	if err != nil {
		t.Fatalf("could not open db: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestJournal(t *testing.T) {
	s := newTestStore(t)

	t.Run("EmptyList", func(t *testing.T) {
		entries, err := s.List()
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		if len(entries) != 0 {
			t.Errorf("expected no entries, got %d", len(entries))
		}
	})

	t.Run("RecordList", func(t *testing.T) {
		exp := time.Date(2028, 8, 24, 0, 0, 0, 0, time.UTC)
		for _, e := range []journal.Entry{
			{Action: journal.ActionRoot, Subject: "k1", Serial: "01"},
			{Action: journal.ActionIssue, Issuer: "k1", Subject: "k1/web", Serial: "02", NotAfter: exp},
			{Action: journal.ActionRenew, Issuer: "k1", Subject: "k1/web", Serial: "03", NotAfter: exp},
		} {
			if err := s.Record(e); err != nil {
				t.Fatalf("Record failed: %v", err)
			}
		}

		entries, err := s.List()
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		if len(entries) != 3 {
			t.Fatalf("expected 3 entries, got %d", len(entries))
		}
		for i, e := range entries {
			if e.Seq != uint64(i+1) {
				t.Errorf("entry %d: expected seq %d, got %d", i, i+1, e.Seq)
			}
			if e.ID == "" {
				t.Errorf("entry %d: missing id", i)
			}
		}
		if entries[2].Serial != "03" || !entries[2].NotAfter.Equal(exp) {
			t.Errorf("unexpected last entry %+v", entries[2])
		}
		if got := journal.Filter(entries, "k1/web"); len(got) != 2 {
			t.Errorf("expected 2 entries for k1/web, got %d", len(got))
		}
	})

	t.Run("Reopen", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "reopen.db")
		first, err := Open(path, nil)
		if err != nil {
			t.Fatalf("Open failed: %v", err)
		}
		if err := first.Record(journal.Entry{Action: journal.ActionIssue, Subject: "k1/a"}); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
		first.Close()

		if err := first.Record(journal.Entry{Subject: "k1/b"}); err != journal.ErrClosed {
			t.Errorf("expected ErrClosed, got %v", err)
		}

		second, err := Open(path, nil)
		if err != nil {
			t.Fatalf("Open failed: %v", err)
		}
		defer second.Close()
		entries, err := second.List()
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		if len(entries) != 1 || entries[0].Subject != "k1/a" {
			t.Errorf("unexpected entries after reopen: %+v", entries)
		}
	})
}
