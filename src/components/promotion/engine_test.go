package promotion

import (
	"context"
	"testing"

	"github.com/page-village/onpage/src/bus"
	"github.com/page-village/onpage/src/components/exp"
	"github.com/page-village/onpage/src/data"
)

type roleRecorder struct {
	added   []string
	removed []string
}

func (r *roleRecorder) AddRole(_, _, roleID string) error {
	r.added = append(r.added, roleID)
	return nil
}

func (r *roleRecorder) RemoveRole(_, _, roleID string) error {
	r.removed = append(r.removed, roleID)
	return nil
}

func setupEngine(t *testing.T) (*Engine, *exp.Ledger, *roleRecorder, *bus.Bus) {
	t.Helper()
	db, err := data.OpenMemory()
	if err != nil {
		t.Fatal(err)
	}
	expLedger, err := exp.New(db)
	if err != nil {
		t.Fatal(err)
	}
	settings := data.NewSettings(db)
	if err := settings.SetJSON("g1", data.SettingTierThresholds, []data.TierThreshold{
		{Key: "yeobaek", Threshold: 0},
		{Key: "goyo", Threshold: 400},
		{Key: "seoyu", Threshold: 1800},
	}); err != nil {
		t.Fatal(err)
	}
	if err := settings.SetJSON("g1", data.SettingRoleMap, map[string]string{
		"yeobaek": "role-base",
		"goyo":    "role-goyo",
		"seoyu":   "role-seoyu",
	}); err != nil {
		t.Fatal(err)
	}
	roles := &roleRecorder{}
	b := bus.New(nil)
	return NewEngine(expLedger, settings, roles, b), expLedger, roles, b
}

func TestPromotionFromBase(t *testing.T) {
	e, led, roles, b := setupEngine(t)
	events := b.Subscribe(bus.TopicPromotion)

	if err := led.Add("u1", 390, "", ""); err != nil {
		t.Fatal(err)
	}
	if tier, err := e.Evaluate(context.Background(), "g1", "u1"); err != nil || tier != "" {
		t.Fatalf("below threshold promoted to %q, %v", tier, err)
	}

	if err := led.Add("u1", 20, "", ""); err != nil {
		t.Fatal(err)
	}
	tier, err := e.Evaluate(context.Background(), "g1", "u1")
	if err != nil {
		t.Fatal(err)
	}
	if tier != "goyo" {
		t.Errorf("tier = %q, want goyo", tier)
	}
	if len(roles.removed) != 1 || roles.removed[0] != "role-base" {
		t.Errorf("removed = %v", roles.removed)
	}
	if len(roles.added) != 1 || roles.added[0] != "role-goyo" {
		t.Errorf("added = %v", roles.added)
	}

	select {
	case ev := <-events:
		if ev.Fields["tier"] != "goyo" {
			t.Errorf("event = %+v", ev)
		}
	default:
		t.Error("no promotion event published")
	}
	select {
	case ev := <-events:
		t.Errorf("second promotion event: %+v", ev)
	default:
	}
}

func TestSubsequentPromotionKeepsLowerRoles(t *testing.T) {
	e, led, roles, _ := setupEngine(t)

	if err := led.Add("u1", 500, "", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Evaluate(context.Background(), "g1", "u1"); err != nil {
		t.Fatal(err)
	}
	roles.added, roles.removed = nil, nil

	if err := led.Add("u1", 1400, "", ""); err != nil {
		t.Fatal(err)
	}
	tier, err := e.Evaluate(context.Background(), "g1", "u1")
	if err != nil {
		t.Fatal(err)
	}
	if tier != "seoyu" {
		t.Errorf("tier = %q", tier)
	}
	if len(roles.removed) != 0 {
		t.Errorf("lower-tier role removed on stacked promotion: %v", roles.removed)
	}
	if len(roles.added) != 1 || roles.added[0] != "role-seoyu" {
		t.Errorf("added = %v", roles.added)
	}
}

func TestPromotionMonotonic(t *testing.T) {
	e, led, _, _ := setupEngine(t)

	if err := led.Add("u1", 500, "", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Evaluate(context.Background(), "g1", "u1"); err != nil {
		t.Fatal(err)
	}
	// Exp removal never demotes the stored tier.
	if err := led.Remove("u1", 400); err != nil {
		t.Fatal(err)
	}
	if tier, err := e.Evaluate(context.Background(), "g1", "u1"); err != nil || tier != "" {
		t.Fatalf("demotion occurred: %q, %v", tier, err)
	}
	if _, key, _ := led.Total("u1"); key != "goyo" {
		t.Errorf("stored tier = %q, want goyo", key)
	}
}

func TestEvaluateIdempotent(t *testing.T) {
	e, led, roles, _ := setupEngine(t)
	if err := led.Add("u1", 500, "", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Evaluate(context.Background(), "g1", "u1"); err != nil {
		t.Fatal(err)
	}
	roles.added = nil
	if tier, err := e.Evaluate(context.Background(), "g1", "u1"); err != nil || tier != "" {
		t.Fatalf("re-evaluation promoted again: %q, %v", tier, err)
	}
	if len(roles.added) != 0 {
		t.Errorf("roles re-applied: %v", roles.added)
	}
}
