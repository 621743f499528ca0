package birthday

import (
	"errors"
	"testing"

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

func TestSetAndGet(t *testing.T) {
	s := newStore(t)
	if err := s.Set("u1", 1999, 5, 12); err != nil {
		t.Fatal(err)
	}
	row, err := s.Get("u1")
	if err != nil {
		t.Fatal(err)
	}
	if row == nil || row.Year != 1999 || row.Month != 5 || row.Day != 12 {
		t.Fatalf("row = %+v", row)
	}
	if row.EditCount != 0 {
		t.Fatalf("first registration counted as an edit: %d", row.EditCount)
	}
}

func TestGetUnregistered(t *testing.T) {
	s := newStore(t)
	row, err := s.Get("nobody")
	if err != nil {
		t.Fatal(err)
	}
	if row != nil {
		t.Fatalf("row = %+v, want nil", row)
	}
}

func TestYearOptional(t *testing.T) {
	s := newStore(t)
	if err := s.Set("u1", 0, 12, 25); err != nil {
		t.Fatal(err)
	}
	row, err := s.Get("u1")
	if err != nil {
		t.Fatal(err)
	}
	if row.Year != 0 {
		t.Fatalf("year = %d, want 0", row.Year)
	}
}

func TestEditLimit(t *testing.T) {
	s := newStore(t)
	if err := s.Set("u1", 0, 1, 1); err != nil {
		t.Fatal(err)
	}
	if err := s.Set("u1", 0, 2, 2); err != nil {
		t.Fatal(err)
	}
	if err := s.Set("u1", 0, 3, 3); err != nil {
		t.Fatal(err)
	}
	if err := s.Set("u1", 0, 4, 4); !errors.Is(err, ErrEditLimit) {
		t.Fatalf("third edit err = %v, want ErrEditLimit", err)
	}
	row, err := s.Get("u1")
	if err != nil {
		t.Fatal(err)
	}
	if row.Month != 3 || row.Day != 3 {
		t.Fatalf("record changed past the limit: %+v", row)
	}
}

func TestBadDates(t *testing.T) {
	s := newStore(t)
	for _, c := range []struct{ y, m, d int }{
		{0, 0, 10}, {0, 13, 10}, {0, 6, 0}, {0, 6, 32}, {1850, 6, 10},
	} {
		if err := s.Set("u1", c.y, c.m, c.d); !errors.Is(err, ErrBadDate) {
			t.Fatalf("Set(%d,%d,%d) err = %v, want ErrBadDate", c.y, c.m, c.d, err)
		}
	}
}

func TestMigratePrefersTarget(t *testing.T) {
	s := newStore(t)
	if err := s.Set("old", 0, 1, 15); err != nil {
		t.Fatal(err)
	}
	if err := s.Set("new", 0, 7, 20); err != nil {
		t.Fatal(err)
	}
	if err := s.Migrate("old", "new"); err != nil {
		t.Fatal(err)
	}

	row, err := s.Get("new")
	if err != nil {
		t.Fatal(err)
	}
	if row.Month != 7 || row.Day != 20 {
		t.Fatalf("target record lost: %+v", row)
	}
	gone, err := s.Get("old")
	if err != nil {
		t.Fatal(err)
	}
	if gone != nil {
		t.Fatal("source record survived the merge")
	}
}
