package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/router-for-me/AppGateway/internal/db"
	"github.com/router-for-me/AppGateway/internal/models"
	"gorm.io/gorm"
)

func openStoreTestDB(t *testing.T) *Store {
	t.Helper()
	dsn := fmt.Sprintf("file:store_%d?mode=memory&cache=shared", time.Now().UnixNano())
	conn, errOpen := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if errOpen != nil {
		t.Fatalf("open db: %v", errOpen)
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	return New(conn)
}

func int64Ptr(v int64) *int64 { return &v }

func TestApplicationSaveLoad(t *testing.T) {
	s := openStoreTestDB(t)
	ctx := context.Background()

	cfg := &ApplicationConfig{
		AppID:        "app-1",
		Name:         "Demo",
		SecretHash:   "digest",
		RateLimit:    60,
		Scopes:       []string{"user:read", " user:read ", "", "quota:read"},
		LoginMethods: []string{"email"},
	}
	if err := s.SaveApplication(ctx, cfg); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := s.LoadApplication(ctx, "app-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Status != models.ApplicationStatusActive {
		t.Fatalf("expected default active status, got %q", got.Status)
	}
	if len(got.Scopes) != 2 || !got.HasScope("quota:read") {
		t.Fatalf("unexpected scopes %v", got.Scopes)
	}

	cfg.Status = models.ApplicationStatusDisabled
	if err := s.SaveApplication(ctx, cfg); err != nil {
		t.Fatalf("save again: %v", err)
	}
	got, err = s.LoadApplication(ctx, "app-1")
	if err != nil {
		t.Fatalf("load again: %v", err)
	}
	if !got.Disabled() {
		t.Fatalf("expected disabled application")
	}

	if _, err := s.LoadApplication(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPlanRoundTrip(t *testing.T) {
	s := openStoreTestDB(t)
	ctx := context.Background()

	cases := []Plan{
		{Name: "free", RequestLimit: 0, TokenLimit: 0, PeriodDays: 1},
		{Name: "unlimited", RequestLimit: -1, TokenLimit: -1, PeriodDays: 30},
		{Name: "pro", RequestLimit: 100000, TokenLimit: 5_000_000, PeriodDays: 31},
	}
	for _, tc := range cases {
		plan := tc
		if err := s.SavePlan(ctx, &plan); err != nil {
			t.Fatalf("save %s: %v", tc.Name, err)
		}
		got, err := s.LoadPlan(ctx, plan.ID)
		if err != nil {
			t.Fatalf("load %s: %v", tc.Name, err)
		}
		if *got != plan {
			t.Fatalf("round trip mismatch: saved %+v, loaded %+v", plan, *got)
		}
	}
}

func TestSavePlanRejectsBelowSentinel(t *testing.T) {
	s := openStoreTestDB(t)
	err := s.SavePlan(context.Background(), &Plan{Name: "bad", RequestLimit: -2, TokenLimit: 0, PeriodDays: 30})
	if !errors.Is(err, ErrInvalidQuota) {
		t.Fatalf("expected ErrInvalidQuota, got %v", err)
	}
	err = s.SavePlan(context.Background(), &Plan{Name: "bad", RequestLimit: 1, TokenLimit: 1, PeriodDays: 0})
	if !errors.Is(err, ErrInvalidQuota) {
		t.Fatalf("expected ErrInvalidQuota for zero period, got %v", err)
	}
	err = s.SavePlan(context.Background(), &Plan{Name: "long", RequestLimit: 1, TokenLimit: 1, PeriodDays: 200000})
	if !errors.Is(err, ErrInvalidQuota) {
		t.Fatalf("expected ErrInvalidQuota for oversized period, got %v", err)
	}
	if err := s.SavePlan(context.Background(), &Plan{Name: "decade", RequestLimit: 1, TokenLimit: 1, PeriodDays: MaxPeriodDays}); err != nil {
		t.Fatalf("expected %d days to be accepted, got %v", MaxPeriodDays, err)
	}
}

func TestQuotaBindingOverrideAndPromotion(t *testing.T) {
	s := openStoreTestDB(t)
	ctx := context.Background()

	small := &Plan{Name: "small", RequestLimit: 10, TokenLimit: 10, PeriodDays: 30}
	large := &Plan{Name: "large", RequestLimit: 100, TokenLimit: 100, PeriodDays: 30}
	for _, p := range []*Plan{small, large} {
		if err := s.SavePlan(ctx, p); err != nil {
			t.Fatalf("save plan: %v", err)
		}
	}

	unbound, err := s.LoadQuota(ctx, "app-1")
	if err != nil {
		t.Fatalf("load unbound: %v", err)
	}
	if unbound.Configured() {
		t.Fatalf("expected unconfigured binding")
	}

	if err := s.SetPlans(ctx, "app-1", &large.ID, &small.ID); err != nil {
		t.Fatalf("set plans: %v", err)
	}
	if err := s.SetOverride(ctx, "app-1", Override{RequestLimit: int64Ptr(5)}); err != nil {
		t.Fatalf("set override: %v", err)
	}
	binding, err := s.LoadQuota(ctx, "app-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if binding.Plan == nil || binding.Plan.ID != large.ID {
		t.Fatalf("expected active plan large, got %+v", binding.Plan)
	}
	if binding.PendingPlan == nil || binding.PendingPlan.ID != small.ID {
		t.Fatalf("expected pending plan small, got %+v", binding.PendingPlan)
	}
	if binding.Override.RequestLimit == nil || *binding.Override.RequestLimit != 5 || binding.Override.TokenLimit != nil {
		t.Fatalf("unexpected override %+v", binding.Override)
	}

	promoted, err := s.PromotePendingPlan(ctx, "app-1")
	if err != nil || !promoted {
		t.Fatalf("expected promotion, got %v %v", promoted, err)
	}
	binding, err = s.LoadQuota(ctx, "app-1")
	if err != nil {
		t.Fatalf("load after promote: %v", err)
	}
	if binding.Plan == nil || binding.Plan.ID != small.ID || binding.PendingPlan != nil {
		t.Fatalf("expected small active and no pending, got %+v / %+v", binding.Plan, binding.PendingPlan)
	}
	promoted, err = s.PromotePendingPlan(ctx, "app-1")
	if err != nil || promoted {
		t.Fatalf("expected no second promotion, got %v %v", promoted, err)
	}

	if err := s.SetOverride(ctx, "app-1", Override{TokenLimit: int64Ptr(-3)}); !errors.Is(err, ErrInvalidQuota) {
		t.Fatalf("expected ErrInvalidQuota, got %v", err)
	}
}

func TestInsertSnapshotExactlyOnce(t *testing.T) {
	s := openStoreTestDB(t)
	ctx := context.Background()
	start := time.UnixMilli(1_700_000_000_000).UTC()

	for i := 0; i < 3; i++ {
		created, err := s.InsertSnapshot(ctx, &models.UsageSnapshot{
			AppID:        "app-1",
			CycleStart:   start,
			CycleEnd:     start.Add(24 * time.Hour),
			RequestLimit: 10,
			TokenLimit:   -1,
			RequestsUsed: 4,
			TokensUsed:   1.5,
			ResetCause:   models.ResetCauseAutomatic,
		})
		if err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
		if created != (i == 0) {
			t.Fatalf("insert %d: expected created=%v, got %v", i, i == 0, created)
		}
	}
	rows, err := s.ListSnapshots(ctx, "app-1", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 snapshot, got %d", len(rows))
	}
}

func TestProvisionRuleSaveLoad(t *testing.T) {
	s := openStoreTestDB(t)
	ctx := context.Background()
	org := uint64(3)
	rule := &ProvisionRule{AppID: "app-1", Enabled: true, RoleIDs: []uint64{1, 2}, OrganizationID: &org}
	if err := s.SaveProvisionRule(ctx, rule); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := s.LoadProvisionRule(ctx, "app-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !got.Enabled || len(got.RoleIDs) != 2 || got.OrganizationID == nil || *got.OrganizationID != 3 {
		t.Fatalf("unexpected rule %+v", got)
	}
	if len(got.PermissionIDs) != 0 || got.SubscriptionPlanID != nil {
		t.Fatalf("expected empty permissions and subscription, got %+v", got)
	}
}

func TestOAuthSaveLoadAndList(t *testing.T) {
	s := openStoreTestDB(t)
	ctx := context.Background()
	for _, provider := range []string{"github", "Google"} {
		if err := s.SaveOAuth(ctx, &OAuthConfig{AppID: "app-1", Provider: provider, ClientID: "cid-" + provider}); err != nil {
			t.Fatalf("save %s: %v", provider, err)
		}
	}
	got, err := s.LoadOAuth(ctx, "app-1", "google")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.ClientID != "cid-Google" {
		t.Fatalf("unexpected client id %q", got.ClientID)
	}
	providers, err := s.ListOAuthProviders(ctx, "app-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(providers) != 2 || providers[0] != "github" || providers[1] != "google" {
		t.Fatalf("unexpected providers %v", providers)
	}
}
