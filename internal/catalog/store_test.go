package catalog

import (
	"context"
	"net"
	"testing"
	"time"

	"authdns/internal/domain"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open("file::memory:?cache=shared&_pragma=busy_timeout(1000)", 1)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newDomain(name string) *domain.Domain {
	return &domain.Domain{
		Name:        name,
		Address:     net.ParseIP("203.0.113.1"),
		Nameservers: []string{"ns1." + name, "ns2." + name},
	}
}

func TestUpsertCreatesNewRowAsPending(t *testing.T) {
	s := openTestStore(t)
	outcome, err := s.Upsert(context.Background(), newDomain("example.test"))
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if outcome != Created {
		t.Errorf("expected Created, got %v", outcome)
	}

	got, err := s.Get(context.Background(), "example.test")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Lifecycle.State != domain.Pending {
		t.Errorf("expected new row to be Pending, got %s", got.Lifecycle.State)
	}
}

func TestUpsertPreservesExistingLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.Upsert(ctx, newDomain("example.test")); err != nil {
		t.Fatalf("initial Upsert: %v", err)
	}
	now := time.Now().UTC()
	if _, err := s.SetLifecycle(ctx, "example.test", domain.NewVerified(now), &now); err != nil {
		t.Fatalf("SetLifecycle: %v", err)
	}

	d := newDomain("example.test")
	d.Nameservers = []string{"ns1.example.test"}
	outcome, err := s.Upsert(ctx, d)
	if err != nil {
		t.Fatalf("second Upsert: %v", err)
	}
	if outcome != Updated {
		t.Errorf("expected Updated, got %v", outcome)
	}

	got, err := s.Get(ctx, "example.test")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Lifecycle.State != domain.Verified {
		t.Errorf("expected upsert to preserve Verified lifecycle, got %s", got.Lifecycle.State)
	}
}

func TestUpsertRejectsNonIPv4Address(t *testing.T) {
	s := openTestStore(t)
	d := newDomain("example.test")
	d.Address = net.ParseIP("::1")
	if _, err := s.Upsert(context.Background(), d); err == nil {
		t.Error("expected error for non-IPv4 address")
	}
}

func TestGetReturnsNotFoundForMissingDomain(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.Get(context.Background(), "missing.test"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSetEnabledDoesNotTouchLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if _, err := s.Upsert(ctx, newDomain("example.test")); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	now := time.Now().UTC()
	if _, err := s.SetLifecycle(ctx, "example.test", domain.NewVerified(now), &now); err != nil {
		t.Fatalf("SetLifecycle: %v", err)
	}

	if err := s.SetEnabled(ctx, "example.test", false); err != nil {
		t.Fatalf("SetEnabled: %v", err)
	}

	got, err := s.Get(ctx, "example.test")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Enabled {
		t.Error("expected Enabled to be false")
	}
	if got.Lifecycle.State != domain.Verified {
		t.Errorf("expected lifecycle to be untouched by SetEnabled, got %s", got.Lifecycle.State)
	}
}

func TestListActiveExcludesDisabledDomains(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if _, err := s.Upsert(ctx, newDomain("active.test")); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if _, err := s.Upsert(ctx, newDomain("inactive.test")); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := s.SetEnabled(ctx, "inactive.test", false); err != nil {
		t.Fatalf("SetEnabled: %v", err)
	}

	active, err := s.ListActive(ctx)
	if err != nil {
		t.Fatalf("ListActive: %v", err)
	}
	if len(active) != 1 || active[0].Name != "active.test" {
		t.Errorf("expected only active.test, got %v", active)
	}
}

func TestDeleteReportsAbsentForMissingDomain(t *testing.T) {
	s := openTestStore(t)
	existence, err := s.Delete(context.Background(), "missing.test")
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if existence != Absent {
		t.Errorf("expected Absent, got %v", existence)
	}
}

func TestDeleteRemovesExistingDomain(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if _, err := s.Upsert(ctx, newDomain("example.test")); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	existence, err := s.Delete(ctx, "example.test")
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if existence != Existed {
		t.Errorf("expected Existed, got %v", existence)
	}
	if _, err := s.Get(ctx, "example.test"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}
