package syncer

import (
	"context"
	"errors"
	"net"
	"testing"

	"authdns/internal/catalog"
	"authdns/internal/domain"
	"authdns/internal/zonecache"
)

type fakeFetcher struct {
	domains []UpstreamDomain
	err     error
}

func (f *fakeFetcher) Fetch(ctx context.Context) ([]UpstreamDomain, error) {
	return f.domains, f.err
}

type fakeStore struct {
	domains map[string]*domain.Domain
}

func (f *fakeStore) Upsert(ctx context.Context, d *domain.Domain) (catalog.UpsertOutcome, error) {
	_, existed := f.domains[d.Name]
	f.domains[d.Name] = d
	if existed {
		return catalog.Updated, nil
	}
	return catalog.Created, nil
}

func (f *fakeStore) ListActive(ctx context.Context) ([]*domain.Domain, error) {
	out := make([]*domain.Domain, 0, len(f.domains))
	for _, d := range f.domains {
		if d.Enabled {
			out = append(out, d)
		}
	}
	return out, nil
}

func (f *fakeStore) SetEnabled(ctx context.Context, name string, enabled bool) error {
	d, ok := f.domains[name]
	if !ok {
		return errors.New("not found")
	}
	d.Enabled = enabled
	return nil
}

type fakeCacheStore struct{}

func (f *fakeCacheStore) Get(ctx context.Context, name string) (*domain.Domain, error) {
	return nil, errors.New("not found")
}

func (f *fakeCacheStore) ListActive(ctx context.Context) ([]*domain.Domain, error) {
	return nil, nil
}

func TestTickUpsertsActiveUpstreamDomains(t *testing.T) {
	store := &fakeStore{domains: map[string]*domain.Domain{}}
	cache := zonecache.New(&fakeCacheStore{})
	fetcher := &fakeFetcher{domains: []UpstreamDomain{
		{Name: "example.test", Active: true, Address: "203.0.113.1", MailHost: "mail.{domain}", Nameservers: []string{"ns1.example.test"}},
	}}
	s := New(store, cache, fetcher)

	if err := s.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if _, ok := store.domains["example.test"]; !ok {
		t.Error("expected active upstream domain to be upserted")
	}
}

func TestTickDisablesDomainsAbsentUpstream(t *testing.T) {
	existing := &domain.Domain{
		Name:        "gone.test",
		Address:     net.ParseIP("203.0.113.2"),
		Nameservers: []string{"ns1.gone.test"},
		Enabled:     true,
	}
	store := &fakeStore{domains: map[string]*domain.Domain{"gone.test": existing}}
	cache := zonecache.New(&fakeCacheStore{})
	fetcher := &fakeFetcher{domains: nil}
	s := New(store, cache, fetcher)

	if err := s.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if existing.Enabled {
		t.Error("expected domain absent from upstream to be disabled, not destroyed")
	}
}

func TestTickMakesNoMutationsOnFetchFailure(t *testing.T) {
	existing := &domain.Domain{
		Name:        "example.test",
		Address:     net.ParseIP("203.0.113.1"),
		Nameservers: []string{"ns1.example.test"},
		Enabled:     true,
	}
	store := &fakeStore{domains: map[string]*domain.Domain{"example.test": existing}}
	cache := zonecache.New(&fakeCacheStore{})
	fetcher := &fakeFetcher{err: errors.New("upstream unavailable")}
	s := New(store, cache, fetcher)

	if err := s.Tick(context.Background()); err == nil {
		t.Fatal("expected Tick to return the fetch error")
	}
	if !existing.Enabled {
		t.Error("expected no local mutation on a failed upstream fetch")
	}
}

func TestTickSkipsDomainWithInvalidAddress(t *testing.T) {
	store := &fakeStore{domains: map[string]*domain.Domain{}}
	cache := zonecache.New(&fakeCacheStore{})
	fetcher := &fakeFetcher{domains: []UpstreamDomain{
		{Name: "bad.test", Active: true, Address: "not-an-ip"},
	}}
	s := New(store, cache, fetcher)

	if err := s.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if _, ok := store.domains["bad.test"]; ok {
		t.Error("expected domain with invalid address to be skipped")
	}
}
