package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/page-village/onpage/src/calendar"
	"github.com/page-village/onpage/src/data"
	"github.com/page-village/onpage/src/types"
)

func TestScheduleOnceFires(t *testing.T) {
	db, err := data.OpenMemory()
	if err != nil {
		t.Fatal(err)
	}
	s := New(db)
	fired := make(chan string, 1)
	s.Handle("ping", func(ctx context.Context, payload string) {
		fired <- payload
	})
	if err := s.ScheduleOnce("ping", calendar.Now().Add(50*time.Millisecond), "hello"); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()

	select {
	case got := <-fired:
		if got != "hello" {
			t.Fatalf("payload = %q", got)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("job never fired")
	}
	cancel()
	<-done

	var task types.ScheduledTask
	if err := db.Where("name = ?", "ping").First(&task).Error; err != nil {
		t.Fatal(err)
	}
	if !task.Done {
		t.Fatal("fired task not marked done")
	}
}

func TestReloadSkipsElapsedTasks(t *testing.T) {
	db, err := data.OpenMemory()
	if err != nil {
		t.Fatal(err)
	}
	past := types.ScheduledTask{ID: "t-past", Name: "ping", RunAt: calendar.Now().Add(-time.Hour)}
	if err := db.Create(&past).Error; err != nil {
		t.Fatal(err)
	}

	s := New(db)
	fired := make(chan struct{}, 1)
	s.Handle("ping", func(ctx context.Context, payload string) {
		fired <- struct{}{}
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()

	select {
	case <-fired:
		t.Fatal("elapsed task must not run after restart")
	case <-time.After(300 * time.Millisecond):
	}
	cancel()
	<-done

	var task types.ScheduledTask
	if err := db.First(&task, "id = ?", "t-past").Error; err != nil {
		t.Fatal(err)
	}
	if !task.Done {
		t.Fatal("elapsed task not marked done")
	}
}

func TestReloadArmsFutureTasks(t *testing.T) {
	db, err := data.OpenMemory()
	if err != nil {
		t.Fatal(err)
	}
	soon := types.ScheduledTask{ID: "t-soon", Name: "ping", RunAt: calendar.Now().Add(50 * time.Millisecond), Payload: "p"}
	if err := db.Create(&soon).Error; err != nil {
		t.Fatal(err)
	}

	s := New(db)
	fired := make(chan string, 1)
	s.Handle("ping", func(ctx context.Context, payload string) {
		fired <- payload
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Start(ctx)

	select {
	case got := <-fired:
		if got != "p" {
			t.Fatalf("payload = %q", got)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("persisted future task never fired")
	}
}
