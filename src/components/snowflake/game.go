package snowflake

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/page-village/onpage/src/bus"
	"github.com/page-village/onpage/src/calendar"
	"github.com/page-village/onpage/src/components/exp"
	"github.com/page-village/onpage/src/data"
	"github.com/page-village/onpage/src/scheduler"
	"github.com/page-village/onpage/src/types"
	"gorm.io/gorm"
)

// Scheduler task names.
const (
	TaskPlan  = "snowflake_plan"
	TaskSpawn = "snowflake_spawn"
)

var (
	ErrClaimed  = errors.New("snowflake already claimed")
	ErrNoSpawn  = errors.New("no such spawn")
	ErrInactive = errors.New("event period not active")
)

const (
	defaultAward  = 15
	spawnsPerDay  = 3
	spawnWindowLo = 10 // earliest spawn hour, civil time
	spawnWindowHi = 22 // latest spawn hour, exclusive
)

type Config struct {
	DB       *gorm.DB
	Settings *data.Settings
	Exp      *exp.Ledger
	Bus      *bus.Bus
	GuildID  string
}

// Game runs the seasonal snowflake drop. While the configured period
// is active, a planning job picks random instants each day; each
// instant persists as a one-shot task so a restart keeps today's
// spawns. The first member to claim a spawn takes the award.
type Game struct {
	config Config
}

func New(config Config) *Game {
	return &Game{config: config}
}

// Register wires the planning and spawn jobs. The plan job runs just
// after midnight and lays out today's spawn instants.
func (g *Game) Register(s *scheduler.Scheduler) {
	s.Handle(TaskPlan, func(ctx context.Context, _ string) {
		if err := g.PlanDay(ctx, s); err != nil && !errors.Is(err, ErrInactive) {
			log.Printf("snowflake: plan: %v", err)
		}
	})
	s.Handle(TaskSpawn, func(ctx context.Context, payload string) {
		if err := g.spawn(ctx, payload); err != nil {
			log.Printf("snowflake: spawn: %v", err)
		}
	})
	s.ScheduleDaily(TaskPlan, 0, 5)
}

// Active reports whether today falls inside the configured period.
// Date strings compare lexicographically.
func (g *Game) Active() bool {
	start, end, ok := g.config.Settings.EventPeriod(g.config.GuildID)
	if !ok {
		return false
	}
	today := calendar.Today()
	return today >= start && today <= end
}

// PlanDay persists today's random spawn instants as one-shot tasks.
// Instants already behind the clock are dropped, so a mid-day call
// only schedules the remainder of the window.
func (g *Game) PlanDay(ctx context.Context, s *scheduler.Scheduler) error {
	if !g.Active() {
		return ErrInactive
	}
	now := calendar.Now()
	day := calendar.Midnight(now)
	window := (spawnWindowHi - spawnWindowLo) * 3600
	for i := 0; i < spawnsPerDay; i++ {
		at := day.Add(time.Duration(spawnWindowLo*3600+rand.Intn(window)) * time.Second)
		if !at.After(now) {
			continue
		}
		if err := s.ScheduleOnce(TaskSpawn, at, g.config.GuildID); err != nil {
			return fmt.Errorf("schedule spawn: %w", err)
		}
	}
	return nil
}

// spawn creates a claimable snowflake and announces it on the bus.
func (g *Game) spawn(ctx context.Context, guildID string) error {
	if guildID == "" {
		guildID = g.config.GuildID
	}
	if !g.Active() {
		return nil
	}
	row := types.SnowflakeSpawn{
		ID:        uuid.NewString(),
		GuildID:   guildID,
		SpawnedAt: calendar.Now(),
	}
	if err := g.config.DB.Create(&row).Error; err != nil {
		return err
	}
	g.config.Bus.Publish(ctx, bus.Event{
		Topic:   bus.TopicSnowflakeSpawned,
		GuildID: guildID,
		Fields:  map[string]string{"spawn_id": row.ID},
	})
	return nil
}

// Award returns the exp granted per claimed snowflake.
func (g *Game) Award() int64 {
	raw := g.config.Settings.Get(g.config.GuildID, data.SettingSnowflakeAward, "")
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil && n > 0 {
		return n
	}
	return defaultAward
}

// Claim marks the spawn as taken by userID and pays the award. Only
// the first claimer succeeds; the conditional update is the race
// arbiter, so concurrent claims cannot double-pay.
func (g *Game) Claim(ctx context.Context, spawnID, userID string) (int64, error) {
	res := g.config.DB.Model(&types.SnowflakeSpawn{}).
		Where("id = ? AND claimed_by = ?", spawnID, "").
		Updates(map[string]interface{}{
			"claimed_by": userID,
			"claimed_at": calendar.Now(),
		})
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected == 0 {
		var row types.SnowflakeSpawn
		err := g.config.DB.First(&row, "id = ?", spawnID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, ErrNoSpawn
		}
		if err != nil {
			return 0, err
		}
		return 0, ErrClaimed
	}
	award := g.Award()
	if err := g.config.Exp.Add(userID, award, exp.TypeOneTime, "snowflake"); err != nil {
		return 0, err
	}
	return award, nil
}

// LatestOpen returns the newest unclaimed spawn for the guild, if any.
func (g *Game) LatestOpen(guildID string) (*types.SnowflakeSpawn, error) {
	var row types.SnowflakeSpawn
	err := g.config.DB.Where("guild_id = ? AND claimed_by = ?", guildID, "").
		Order("spawned_at DESC").First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}
