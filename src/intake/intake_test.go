package intake

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/page-village/onpage/src/bus"
	"github.com/page-village/onpage/src/components/attendance"
	"github.com/page-village/onpage/src/components/balance"
	"github.com/page-village/onpage/src/components/chat"
	"github.com/page-village/onpage/src/components/exp"
	"github.com/page-village/onpage/src/components/promotion"
	"github.com/page-village/onpage/src/components/quest"
	"github.com/page-village/onpage/src/components/voice"
	"github.com/page-village/onpage/src/data"
)

type textResolver struct{}

func (textResolver) Resolve(string) (voice.ChannelKind, bool) { return voice.KindText, true }
func (textResolver) CategoryChildren(string) []string         { return nil }

func newTestIntake(t *testing.T) (*Intake, *voice.Ledger) {
	t.Helper()
	db, err := data.OpenMemory()
	if err != nil {
		t.Fatal(err)
	}
	expLedger, err := exp.New(db)
	if err != nil {
		t.Fatal(err)
	}
	voiceLedger, err := voice.New(db, textResolver{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	chatLedger, err := chat.New(db)
	if err != nil {
		t.Fatal(err)
	}
	balanceLedger, err := balance.New(db)
	if err != nil {
		t.Fatal(err)
	}
	attStore, err := attendance.New(db)
	if err != nil {
		t.Fatal(err)
	}
	settings := data.NewSettings(db)
	b := bus.New(nil)
	eval := quest.New(quest.Config{
		Exp:        expLedger,
		Voice:      voiceLedger,
		Chat:       chatLedger,
		Balance:    balanceLedger,
		Attendance: attStore,
		Settings:   settings,
		Promotion:  promotion.NewEngine(expLedger, settings, nil, b),
		Bus:        b,
	})
	return New(Config{DB: db, Quest: eval, Voice: voiceLedger}), voiceLedger
}

func TestGateSerializesSameUser(t *testing.T) {
	g := NewGate()
	var active, overlaps int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = g.Do("u1", func() error {
				if atomic.AddInt32(&active, 1) > 1 {
					atomic.AddInt32(&overlaps, 1)
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&active, -1)
				return nil
			})
		}()
	}
	wg.Wait()
	if overlaps != 0 {
		t.Fatalf("%d overlapping executions for one user", overlaps)
	}
}

func TestGateAllowsDifferentUsers(t *testing.T) {
	g := NewGate()
	hold := make(chan struct{})
	started := make(chan struct{})
	go g.Do("u1", func() error {
		close(started)
		<-hold
		return nil
	})
	<-started

	done := make(chan struct{})
	go func() {
		_ = g.Do("u2", func() error { return nil })
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("second user blocked behind first user's lock")
	}
	close(hold)
}

func TestCommandAllowedFiltersBots(t *testing.T) {
	db, err := data.OpenMemory()
	if err != nil {
		t.Fatal(err)
	}
	in := New(Config{DB: db})

	ok, err := in.CommandAllowed(Event{GuildID: "g", ChannelID: "c1", Bot: true}, "attendance")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("bot event passed the gate")
	}

	// Empty allowlist admits every channel.
	ok, err = in.CommandAllowed(Event{GuildID: "g", ChannelID: "c1"}, "attendance")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("empty allowlist should admit all channels")
	}

	if err := data.AllowChannel(db, "g", "attendance", "c2"); err != nil {
		t.Fatal(err)
	}
	ok, err = in.CommandAllowed(Event{GuildID: "g", ChannelID: "c1"}, "attendance")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("channel outside allowlist admitted")
	}
}

func TestMessageHonorsChatTrackedSet(t *testing.T) {
	in, vc := newTestIntake(t)
	ctx := context.Background()
	ev := Event{GuildID: "g", UserID: "u", ChannelID: "c1", MessageID: "m1",
		Content: "hello there", At: time.Now()}

	// Empty tracked set: every channel is scored. A replayed message
	// id comes back as a duplicate, proving the first was recorded.
	if _, err := in.Message(ctx, ev); err != nil {
		t.Fatal(err)
	}
	res, err := in.Message(ctx, ev)
	if err != nil {
		t.Fatal(err)
	}
	if res.Rejected != quest.RejectAlreadyDone {
		t.Fatalf("replay rejected = %q, want %q", res.Rejected, quest.RejectAlreadyDone)
	}

	if err := vc.AddTrackedChannel("g", voice.SourceChat, "c2"); err != nil {
		t.Fatal(err)
	}

	// c1 is now outside the set; its messages are dropped, so even a
	// fresh id produces no record.
	ev.MessageID = "m2"
	res, err = in.Message(ctx, ev)
	if err != nil {
		t.Fatal(err)
	}
	if res.Rejected != "" || res.Success {
		t.Fatalf("untracked channel scored: %+v", res)
	}
	res, err = in.Message(ctx, ev)
	if err != nil {
		t.Fatal(err)
	}
	if res.Rejected == quest.RejectAlreadyDone {
		t.Fatal("untracked channel message was recorded")
	}

	// c2 is in the set and still scores.
	ev.ChannelID, ev.MessageID = "c2", "m3"
	if _, err := in.Message(ctx, ev); err != nil {
		t.Fatal(err)
	}
	res, err = in.Message(ctx, ev)
	if err != nil {
		t.Fatal(err)
	}
	if res.Rejected != quest.RejectAlreadyDone {
		t.Fatalf("tracked channel replay rejected = %q, want duplicate", res.Rejected)
	}
}

func TestMessageIgnoresBots(t *testing.T) {
	in := New(Config{})
	res, err := in.Message(context.Background(), Event{GuildID: "g", UserID: "u", Bot: true})
	if err != nil {
		t.Fatal(err)
	}
	if res.Success {
		t.Fatal("bot message evaluated")
	}
}
