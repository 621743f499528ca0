package voice

import (
	"context"
	"testing"

	"github.com/page-village/onpage/src/calendar"
	"github.com/page-village/onpage/src/data"
)

type fakeResolver struct {
	kinds    map[string]ChannelKind
	children map[string][]string
}

func (f *fakeResolver) Resolve(id string) (ChannelKind, bool) {
	k, ok := f.kinds[id]
	return k, ok
}

func (f *fakeResolver) CategoryChildren(id string) []string {
	return f.children[id]
}

func newTestLedger(t *testing.T, r ChannelResolver) *Ledger {
	t.Helper()
	db, err := data.OpenMemory()
	if err != nil {
		t.Fatal(err)
	}
	if r == nil {
		r = &fakeResolver{}
	}
	l, err := New(db, r, nil)
	if err != nil {
		t.Fatal(err)
	}
	return l
}

func TestAddVoiceTimeAccumulates(t *testing.T) {
	l := newTestLedger(t, nil)
	if err := l.AddVoiceTime("u1", "c1", 300); err != nil {
		t.Fatal(err)
	}
	if err := l.AddVoiceTime("u1", "c1", 200); err != nil {
		t.Fatal(err)
	}

	times, err := l.UserTimes("u1", calendar.PeriodDaily, calendar.Now(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if times["c1"] != 500 {
		t.Errorf("accumulated seconds = %d, want 500", times["c1"])
	}
}

func TestAddVoiceTimeRejectsNonPositive(t *testing.T) {
	l := newTestLedger(t, nil)
	if err := l.AddVoiceTime("u1", "c1", 0); err == nil {
		t.Error("zero seconds should be rejected")
	}
	if err := l.AddVoiceTime("u1", "c1", -5); err == nil {
		t.Error("negative seconds should be rejected")
	}
}

func TestEmptyFilterMatchesNothing(t *testing.T) {
	l := newTestLedger(t, nil)
	if err := l.AddVoiceTime("u1", "c1", 60); err != nil {
		t.Fatal(err)
	}
	times, err := l.UserTimes("u1", calendar.PeriodDaily, calendar.Now(), []string{})
	if err != nil {
		t.Fatal(err)
	}
	if len(times) != 0 {
		t.Errorf("empty filter returned %v", times)
	}
	// nil filter means no filter at all.
	times, err = l.UserTimes("u1", calendar.PeriodDaily, calendar.Now(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if times["c1"] != 60 {
		t.Errorf("nil filter returned %v", times)
	}
}

func TestExpandChannels(t *testing.T) {
	r := &fakeResolver{
		kinds: map[string]ChannelKind{
			"leaf":     KindVoice,
			"category": KindCategory,
		},
		children: map[string][]string{
			"category": {"child1", "child2"},
		},
	}
	l := newTestLedger(t, r)

	for _, id := range []string{"leaf", "category", "gone-category"} {
		if err := l.AddTrackedChannel("g1", SourceVoice, id); err != nil {
			t.Fatal(err)
		}
	}
	// A channel deleted under the live category, and one under the
	// category that itself disappeared.
	if err := l.RecordChannelDeleted("old1", "category"); err != nil {
		t.Fatal(err)
	}
	if err := l.RecordChannelDeleted("old2", "gone-category"); err != nil {
		t.Fatal(err)
	}
	if err := l.RecordChannelDeleted("unrelated", "other-cat"); err != nil {
		t.Fatal(err)
	}

	got, err := l.ExpandChannels(context.Background(), "g1", SourceVoice)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"child1", "child2", "leaf", "old1", "old2"}
	if len(got) != len(want) {
		t.Fatalf("expanded = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expanded = %v, want %v", got, want)
		}
	}
}

func TestUserRank(t *testing.T) {
	l := newTestLedger(t, nil)
	if err := l.AddVoiceTime("u1", "c1", 100); err != nil {
		t.Fatal(err)
	}
	if err := l.AddVoiceTime("u2", "c1", 300); err != nil {
		t.Fatal(err)
	}
	if err := l.AddVoiceTime("u3", "c1", 200); err != nil {
		t.Fatal(err)
	}

	rank, err := l.UserRank("u3", calendar.PeriodWeekly, calendar.Now(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if rank.Rank != 2 || rank.TotalUsers != 3 || rank.Seconds != 200 {
		t.Errorf("rank = %+v", rank)
	}
}

func TestResetDataKeepsTrackedChannels(t *testing.T) {
	l := newTestLedger(t, nil)
	if err := l.AddVoiceTime("u1", "c1", 100); err != nil {
		t.Fatal(err)
	}
	if err := l.AddTrackedChannel("g1", SourceVoice, "c1"); err != nil {
		t.Fatal(err)
	}
	if err := l.ResetData(); err != nil {
		t.Fatal(err)
	}

	times, err := l.UserTimes("u1", calendar.PeriodAll, calendar.Now(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(times) != 0 {
		t.Errorf("rollups remain after reset: %v", times)
	}
	tracked, err := l.TrackedChannels("g1", SourceVoice)
	if err != nil {
		t.Fatal(err)
	}
	if len(tracked) != 1 {
		t.Errorf("tracked channels lost on data reset: %v", tracked)
	}
}
