package directory

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

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:directory_%d?mode=memory&cache=shared", time.Now().UnixNano())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return conn
}

func TestGrantsAreIdempotent(t *testing.T) {
	conn := openTestDB(t)
	d := New(conn)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := d.GrantRole(ctx, 7, 1); err != nil {
			t.Fatalf("grant role: %v", err)
		}
		if err := d.GrantPermission(ctx, 7, 2); err != nil {
			t.Fatalf("grant permission: %v", err)
		}
		if err := d.AddMember(ctx, 7, 3); err != nil {
			t.Fatalf("add member: %v", err)
		}
		if err := d.BindUser(ctx, "app-1", 7); err != nil {
			t.Fatalf("bind user: %v", err)
		}
	}

	counts := map[string]any{
		"roles":       &models.UserRole{},
		"permissions": &models.UserPermission{},
		"members":     &models.OrganizationMember{},
		"app users":   &models.ApplicationUser{},
	}
	for name, model := range counts {
		var n int64
		if err := conn.Model(model).Count(&n).Error; err != nil {
			t.Fatalf("count %s: %v", name, err)
		}
		if n != 1 {
			t.Fatalf("expected one %s row, got %d", name, n)
		}
	}

	if ok, _ := d.HasRole(ctx, 7, 1); !ok {
		t.Fatalf("expected role held")
	}
	if ok, _ := d.HasRole(ctx, 8, 1); ok {
		t.Fatalf("expected role not held by another user")
	}
	if ok, _ := d.IsUserBound(ctx, "app-2", 7); ok {
		t.Fatalf("expected user not bound to another application")
	}
}

func TestActiveSubscription(t *testing.T) {
	conn := openTestDB(t)
	d := New(conn)
	ctx := context.Background()

	if ok, _ := d.HasActiveSubscription(ctx, 7, 4); ok {
		t.Fatalf("expected no subscription")
	}
	ended := time.Now().UTC().Add(-time.Hour)
	if err := conn.Create(&models.Subscription{UserID: 7, PlanID: 4, Status: models.SubscriptionStatusActive, StartedAt: ended.Add(-time.Hour), EndedAt: &ended}).Error; err != nil {
		t.Fatalf("seed ended subscription: %v", err)
	}
	if ok, _ := d.HasActiveSubscription(ctx, 7, 4); ok {
		t.Fatalf("expected ended subscription to be inactive")
	}
	if err := d.StartSubscription(ctx, 7, 4); err != nil {
		t.Fatalf("start subscription: %v", err)
	}
	if ok, _ := d.HasActiveSubscription(ctx, 7, 4); !ok {
		t.Fatalf("expected active subscription")
	}
}

func TestValidateReferences(t *testing.T) {
	conn := openTestDB(t)
	d := New(conn)
	ctx := context.Background()

	role := models.Role{Name: "member"}
	org := models.Organization{Name: "acme"}
	if err := conn.Create(&role).Error; err != nil {
		t.Fatalf("seed role: %v", err)
	}
	if err := conn.Create(&org).Error; err != nil {
		t.Fatalf("seed org: %v", err)
	}

	if err := d.Validate(ctx, References{RoleIDs: []uint64{role.ID}, OrganizationID: &org.ID}); err != nil {
		t.Fatalf("expected valid references, got %v", err)
	}
	missing := uint64(999)
	cases := []References{
		{RoleIDs: []uint64{role.ID, missing}},
		{PermissionIDs: []uint64{missing}},
		{OrganizationID: &missing},
		{SubscriptionPlanID: &missing},
	}
	for i, refs := range cases {
		if err := d.Validate(ctx, refs); !errors.Is(err, ErrUnknownReference) {
			t.Fatalf("case %d: expected ErrUnknownReference, got %v", i, err)
		}
	}
}
