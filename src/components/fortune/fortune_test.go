package fortune

import (
	"errors"
	"testing"

	"github.com/page-village/onpage/src/calendar"
	"github.com/page-village/onpage/src/data"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	db, err := data.OpenMemory()
	if err != nil {
		t.Fatal(err)
	}
	s, err := New(db)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestUseWithoutGrant(t *testing.T) {
	s := newStore(t)
	if err := s.Use("g", "u1"); !errors.Is(err, ErrExhausted) {
		t.Fatalf("err = %v, want ErrExhausted", err)
	}
}

func TestUseBurnsOneDayPerDay(t *testing.T) {
	s := newStore(t)
	if err := s.Grant("g", "u1", 3); err != nil {
		t.Fatal(err)
	}

	if err := s.Use("g", "u1"); err != nil {
		t.Fatal(err)
	}
	remaining, lastUsed, err := s.Remaining("g", "u1")
	if err != nil {
		t.Fatal(err)
	}
	if remaining != 2 {
		t.Fatalf("remaining = %d, want 2", remaining)
	}
	if lastUsed != calendar.Today() {
		t.Fatalf("last used = %q, want today", lastUsed)
	}

	// A second draw the same day is free.
	if err := s.Use("g", "u1"); err != nil {
		t.Fatal(err)
	}
	remaining, _, err = s.Remaining("g", "u1")
	if err != nil {
		t.Fatal(err)
	}
	if remaining != 2 {
		t.Fatalf("same-day reuse burned a day: remaining = %d", remaining)
	}
}

func TestGrantAccumulates(t *testing.T) {
	s := newStore(t)
	if err := s.Grant("g", "u1", 2); err != nil {
		t.Fatal(err)
	}
	if err := s.Grant("g", "u1", 5); err != nil {
		t.Fatal(err)
	}
	remaining, _, err := s.Remaining("g", "u1")
	if err != nil {
		t.Fatal(err)
	}
	if remaining != 7 {
		t.Fatalf("remaining = %d, want 7", remaining)
	}
}

func TestMigrateMovesWhenTargetEmpty(t *testing.T) {
	s := newStore(t)
	if err := s.Grant("g", "old", 4); err != nil {
		t.Fatal(err)
	}
	if err := s.Migrate("old", "new"); err != nil {
		t.Fatal(err)
	}
	remaining, _, err := s.Remaining("g", "new")
	if err != nil {
		t.Fatal(err)
	}
	if remaining != 4 {
		t.Fatalf("remaining = %d, want 4", remaining)
	}
}

func TestMigrateKeepsTarget(t *testing.T) {
	s := newStore(t)
	if err := s.Grant("g", "old", 4); err != nil {
		t.Fatal(err)
	}
	if err := s.Grant("g", "new", 9); err != nil {
		t.Fatal(err)
	}
	if err := s.Migrate("old", "new"); err != nil {
		t.Fatal(err)
	}
	remaining, _, err := s.Remaining("g", "new")
	if err != nil {
		t.Fatal(err)
	}
	if remaining != 9 {
		t.Fatalf("remaining = %d, want 9", remaining)
	}
	gone, _, err := s.Remaining("g", "old")
	if err != nil {
		t.Fatal(err)
	}
	if gone != 0 {
		t.Fatalf("source rows survived: %d", gone)
	}
}
