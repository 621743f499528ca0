package scheduler

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/page-village/onpage/src/calendar"
	"github.com/page-village/onpage/src/types"
	"gorm.io/gorm"
)

// Job runs when its fire time elapses. Payload is whatever was stored
// when the job was scheduled, empty for daily jobs.
type Job func(ctx context.Context, payload string)

type entry struct {
	id      string
	name    string
	at      time.Time
	payload string
	daily   bool
	hour    int
	minute  int
}

// Scheduler fires registered jobs at civil-time instants. All jobs run
// on the scheduler goroutine, one at a time. One-shot jobs are
// persisted so a restart re-arms instants that are still ahead; fire
// times missed while the process was down are marked done and skipped.
type Scheduler struct {
	db *gorm.DB

	mu       sync.Mutex
	handlers map[string]Job
	pending  []entry
	wake     chan struct{}
}

func New(db *gorm.DB) *Scheduler {
	return &Scheduler{
		db:       db,
		handlers: make(map[string]Job),
		wake:     make(chan struct{}, 1),
	}
}

// Handle registers the job that runs for tasks scheduled under name.
// Register all handlers before Start so persisted tasks can resolve.
func (s *Scheduler) Handle(name string, job Job) {
	s.mu.Lock()
	s.handlers[name] = job
	s.mu.Unlock()
}

// ScheduleDaily arms name to fire every day at hour:minute civil time.
// Daily jobs are derived from the clock, not persisted.
func (s *Scheduler) ScheduleDaily(name string, hour, minute int) {
	e := entry{
		id:     uuid.NewString(),
		name:   name,
		at:     calendar.NextDaily(calendar.Now(), hour, minute),
		daily:  true,
		hour:   hour,
		minute: minute,
	}
	s.push(e)
}

// ScheduleOnce arms name to fire once at the given instant and
// persists it so a restart before the fire time re-arms it.
func (s *Scheduler) ScheduleOnce(name string, at time.Time, payload string) error {
	task := types.ScheduledTask{
		ID:      uuid.NewString(),
		Name:    name,
		RunAt:   at,
		Payload: payload,
	}
	if err := s.db.Create(&task).Error; err != nil {
		return err
	}
	s.push(entry{id: task.ID, name: name, at: at, payload: payload})
	return nil
}

// Start reloads persisted one-shot tasks and runs the fire loop until
// ctx is cancelled. Tasks whose fire time elapsed while the process
// was down are marked done without running.
func (s *Scheduler) Start(ctx context.Context) {
	if err := s.reload(); err != nil {
		log.Printf("scheduler: reload: %v", err)
	}
	log.Println("Starting scheduler")

	for {
		next, ok := s.next()
		var timer *time.Timer
		var fire <-chan time.Time
		if ok {
			d := time.Until(next.at)
			if d < 0 {
				d = 0
			}
			timer = time.NewTimer(d)
			fire = timer.C
		}

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			log.Println("Stopping scheduler")
			return
		case <-s.wake:
			if timer != nil {
				timer.Stop()
			}
		case <-fire:
			s.fire(ctx, next)
		}
	}
}

func (s *Scheduler) reload() error {
	var tasks []types.ScheduledTask
	if err := s.db.Where("done = ?", false).Find(&tasks).Error; err != nil {
		return err
	}
	now := calendar.Now()
	for _, t := range tasks {
		if !t.RunAt.After(now) {
			// Missed while offline, no catch-up.
			if err := s.db.Model(&types.ScheduledTask{}).Where("id = ?", t.ID).
				Update("done", true).Error; err != nil {
				log.Printf("scheduler: mark skipped %s: %v", t.ID, err)
			}
			continue
		}
		if s.armed(t.ID) {
			continue
		}
		s.push(entry{id: t.ID, name: t.Name, at: t.RunAt, payload: t.Payload})
	}
	return nil
}

// armed reports whether a persisted task is already in the queue, so
// a Start after ScheduleOnce does not arm it twice.
func (s *Scheduler) armed(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.pending {
		if e.id == id {
			return true
		}
	}
	return false
}

func (s *Scheduler) push(e entry) {
	s.mu.Lock()
	s.pending = append(s.pending, e)
	sort.Slice(s.pending, func(i, j int) bool { return s.pending[i].at.Before(s.pending[j].at) })
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) next() (entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 {
		return entry{}, false
	}
	return s.pending[0], true
}

func (s *Scheduler) fire(ctx context.Context, e entry) {
	s.mu.Lock()
	if len(s.pending) > 0 && s.pending[0].id == e.id {
		s.pending = s.pending[1:]
	}
	job := s.handlers[e.name]
	s.mu.Unlock()

	if job == nil {
		log.Printf("scheduler: no handler for %q", e.name)
	} else {
		job(ctx, e.payload)
	}

	if e.daily {
		e.at = calendar.NextDaily(calendar.Now(), e.hour, e.minute)
		s.push(e)
		return
	}
	if err := s.db.Model(&types.ScheduledTask{}).Where("id = ?", e.id).
		Update("done", true).Error; err != nil {
		log.Printf("scheduler: mark done %s: %v", e.id, err)
	}
}
