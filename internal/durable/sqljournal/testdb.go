package sqljournal

import (
	"context"
	"path/filepath"
	"testing"
)

// OpenTestJournal opens a SQLite journal in a temporary directory with all
// migrations applied. It is closed when the test finishes.
func OpenTestJournal(t testing.TB) *Journal {
	t.Helper()
	j, err := Open(context.Background(), filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("open test journal: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}
