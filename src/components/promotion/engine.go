// Package promotion maps experience totals to ranked tiers and applies
// the resulting role and title changes.
package promotion

import (
	"context"
	"fmt"
	"log"

	"github.com/page-village/onpage/src/bus"
	"github.com/page-village/onpage/src/components/exp"
	"github.com/page-village/onpage/src/data"
)

// RoleApplier mutates platform roles. The discord connector implements
// it; tests use a recorder.
type RoleApplier interface {
	AddRole(guildID, userID, roleID string) error
	RemoveRole(guildID, userID, roleID string) error
}

type Engine struct {
	exp      *exp.Ledger
	settings *data.Settings
	roles    RoleApplier
	bus      *bus.Bus
}

func NewEngine(expLedger *exp.Ledger, settings *data.Settings, roles RoleApplier, b *bus.Bus) *Engine {
	return &Engine{exp: expLedger, settings: settings, roles: roles, bus: b}
}

func tierIndex(tiers []data.TierThreshold, key string) int {
	for i, t := range tiers {
		if t.Key == key {
			return i
		}
	}
	return 0
}

// highestTier returns the index of the highest tier whose threshold
// does not exceed total.
func highestTier(tiers []data.TierThreshold, total int64) int {
	idx := 0
	for i, t := range tiers {
		if t.Threshold <= total {
			idx = i
		}
	}
	return idx
}

// Evaluate re-reads the user's total and promotes if a higher tier is
// reached. Promotion is monotonic: a lower computed tier never
// demotes. Returns the new tier key when a promotion happened.
func (e *Engine) Evaluate(ctx context.Context, guildID, userID string) (string, error) {
	tiers := e.settings.TierThresholds(guildID)
	if len(tiers) == 0 {
		return "", nil
	}

	total, storedKey, err := e.exp.Total(userID)
	if err != nil {
		return "", err
	}
	storedIdx := tierIndex(tiers, storedKey)
	newIdx := highestTier(tiers, total)
	if newIdx <= storedIdx {
		return "", nil
	}

	newKey := tiers[newIdx].Key
	if err := e.exp.SetTier(userID, newKey); err != nil {
		return "", err
	}

	roleMap := e.settings.RoleMap(guildID)
	if e.roles != nil {
		// Leaving the base tier drops its role; later promotions only
		// stack new roles on top.
		if storedIdx == 0 {
			if baseRole := roleMap[tiers[0].Key]; baseRole != "" {
				if err := e.roles.RemoveRole(guildID, userID, baseRole); err != nil {
					log.Printf("promotion: remove base role for %s: %v", userID, err)
				}
			}
		}
		if newRole := roleMap[newKey]; newRole != "" {
			if err := e.roles.AddRole(guildID, userID, newRole); err != nil {
				log.Printf("promotion: add role for %s: %v", userID, err)
			}
		}
	}

	if e.bus != nil {
		e.bus.Publish(ctx, bus.Event{
			Topic:   bus.TopicPromotion,
			GuildID: guildID,
			UserID:  userID,
			Fields: map[string]string{
				"tier":  newKey,
				"from":  storedKey,
				"total": fmt.Sprintf("%d", total),
			},
		})
	}
	return newKey, nil
}
