// Package syncer is the periodic Synchroniser that reconciles the local
// Catalogue with the upstream control-plane (spec section 4.5). The
// upstream fetch is a stdlib net/http + encoding/json GET, mirroring the
// JSON shape the teacher's plugins/dashboard/dashboard.go already uses for
// its own zones API.
package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"authdns/internal/catalog"
	"authdns/internal/domain"
	"authdns/internal/metrics"
	"authdns/internal/zonecache"
)

// UpstreamDomain is one row of the upstream control-plane's catalogue.
type UpstreamDomain struct {
	Name        string   `json:"name"`
	Active      bool     `json:"active"`
	Address     string   `json:"address"`
	MailHost    string   `json:"mail_host"`
	MXPriority  uint16   `json:"mx_priority"`
	Nameservers []string `json:"nameservers"`
}

// Fetcher abstracts the upstream control-plane read so tests can stub it.
type Fetcher interface {
	Fetch(ctx context.Context) ([]UpstreamDomain, error)
}

// HTTPFetcher is the production Fetcher: an idempotent GET against the
// configured upstream endpoint, tolerant of duplicates in the response.
type HTTPFetcher struct {
	Endpoint string
	APIKey   string
	Client   *http.Client
}

func NewHTTPFetcher(endpoint, apiKey string, timeout time.Duration) *HTTPFetcher {
	return &HTTPFetcher{Endpoint: endpoint, APIKey: apiKey, Client: &http.Client{Timeout: timeout}}
}

func (f *HTTPFetcher) Fetch(ctx context.Context) ([]UpstreamDomain, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.Endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("syncer: build request: %w", err)
	}
	if f.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+f.APIKey)
	}

	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("syncer: fetch upstream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("syncer: upstream returned %s", resp.Status)
	}

	var domains []UpstreamDomain
	if err := json.NewDecoder(resp.Body).Decode(&domains); err != nil {
		return nil, fmt.Errorf("syncer: decode upstream response: %w", err)
	}

	// Tolerate duplicates: last one wins.
	dedup := make(map[string]UpstreamDomain, len(domains))
	for _, d := range domains {
		dedup[domain.Canonicalize(d.Name)] = d
	}
	out := make([]UpstreamDomain, 0, len(dedup))
	for _, d := range dedup {
		out = append(out, d)
	}
	return out, nil
}

// Store is the subset of the Catalogue Store the Synchroniser needs.
type Store interface {
	Upsert(ctx context.Context, d *domain.Domain) (catalog.UpsertOutcome, error)
	ListActive(ctx context.Context) ([]*domain.Domain, error)
	SetEnabled(ctx context.Context, name string, enabled bool) error
}

// Synchroniser is the periodic reconciliation loop.
type Synchroniser struct {
	store   Store
	cache   *zonecache.Cache
	fetcher Fetcher
}

func New(store Store, cache *zonecache.Cache, fetcher Fetcher) *Synchroniser {
	return &Synchroniser{store: store, cache: cache, fetcher: fetcher}
}

func (s *Synchroniser) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Tick(ctx); err != nil {
				log.Printf("syncer: tick failed: %v", err)
			}
		}
	}
}

// Tick fetches the upstream set and reconciles the local catalogue. A
// failed fetch yields no local mutations (spec section 4.5 step 4).
func (s *Synchroniser) Tick(ctx context.Context) error {
	upstream, err := s.fetcher.Fetch(ctx)
	if err != nil {
		metrics.RecordSyncRun("error")
		return err
	}

	present := make(map[string]bool, len(upstream))
	for _, u := range upstream {
		name := domain.Canonicalize(u.Name)
		if !u.Active {
			continue
		}
		present[name] = true

		ip := net.ParseIP(u.Address)
		if ip == nil {
			log.Printf("syncer: skipping %s: invalid address %q", name, u.Address)
			continue
		}
		d := &domain.Domain{
			Name:        name,
			Address:     ip,
			MailHost:    u.MailHost,
			MXPriority:  u.MXPriority,
			Nameservers: u.Nameservers,
			Enabled:     true,
		}
		if _, err := s.store.Upsert(ctx, d); err != nil {
			log.Printf("syncer: upsert %s failed: %v", name, err)
		}
	}

	local, err := s.store.ListActive(ctx)
	if err != nil {
		metrics.RecordSyncRun("error")
		return fmt.Errorf("syncer: list active: %w", err)
	}
	for _, d := range local {
		if present[d.Name] {
			continue
		}
		// Disable rather than destroy, preserving lifecycle history
		// (spec section 9, Open Question ii resolved as disable).
		if err := s.store.SetEnabled(ctx, d.Name, false); err != nil {
			log.Printf("syncer: disable %s failed: %v", d.Name, err)
		}
	}

	if err := s.cache.ReloadAll(ctx); err != nil {
		metrics.RecordSyncRun("error")
		return fmt.Errorf("syncer: reload cache: %w", err)
	}
	metrics.RecordSyncRun("ok")
	metrics.RecordZoneCacheSize(s.cache.Size())
	return nil
}
