// Package zonecache is the in-memory, read-mostly index the query path
// reads without touching the Catalogue Store. The read path is wait-free
// relative to writers: it dereferences a single atomic.Pointer snapshot,
// the same shape the pack's erfianugrah-gloryhole DNS handler uses to keep
// a live routing table (atomic.Pointer[pattern.Matcher]) behind occasional
// writer swaps.
package zonecache

import (
	"context"
	"net"
	"sync/atomic"

	"authdns/internal/domain"
)

// Entry is the derived projection stored per managed zone. It holds no
// lifecycle beyond Answerable.
type Entry struct {
	Name             string
	Address          net.IP
	MailHostExpanded string
	MXPriority       uint16
	Nameservers      []string
	Answerable       bool
	UpdatedAt        int64 // unix seconds, used to derive the SOA serial
}

// Store is the subset of the Catalogue Store the cache needs to refresh
// itself: a single-domain lookup and the full active list.
type Store interface {
	Get(ctx context.Context, name string) (*domain.Domain, error)
	ListActive(ctx context.Context) ([]*domain.Domain, error)
}

type snapshot struct {
	byName map[string]*Entry
}

// Cache is the Zone Cache. The zero value is not usable; use New.
type Cache struct {
	store Store
	ptr   atomic.Pointer[snapshot]
}

func New(store Store) *Cache {
	c := &Cache{store: store}
	c.ptr.Store(&snapshot{byName: map[string]*Entry{}})
	return c
}

func toEntry(d *domain.Domain) *Entry {
	return &Entry{
		Name:             d.Name,
		Address:          d.Address,
		MailHostExpanded: domain.ExpandMailHost(d.MailHost, d.Name),
		MXPriority:       d.MXPriority,
		Nameservers:      append([]string(nil), d.Nameservers...),
		Answerable:       d.Answerable(),
		UpdatedAt:        d.UpdatedAt.Unix(),
	}
}

// Lookup finds the longest managed suffix of qname. qname must already be
// lowercased with any trailing dot stripped. It returns the zone apex entry
// and whether qname equals that apex (vs. being a subdomain of it).
func (c *Cache) Lookup(qname string) (entry *Entry, apexName string, isApex bool, ok bool) {
	snap := c.ptr.Load()
	name := qname
	for {
		if e, found := snap.byName[name]; found && e.Answerable {
			return e, name, name == qname, true
		}
		idx := indexOfFirstLabelSep(name)
		if idx < 0 {
			return nil, "", false, false
		}
		name = name[idx+1:]
	}
}

func indexOfFirstLabelSep(name string) int {
	for i := 0; i < len(name); i++ {
		if name[i] == '.' {
			return i
		}
	}
	return -1
}

// Refresh reloads one entry from the store. The entry is removed from the
// cache if the store returns nothing or the domain is not answerable.
func (c *Cache) Refresh(ctx context.Context, name string) error {
	name = domain.Canonicalize(name)
	d, err := c.store.Get(ctx, name)
	if err != nil {
		c.mutate(func(m map[string]*Entry) { delete(m, name) })
		return err
	}
	if !d.Answerable() {
		c.mutate(func(m map[string]*Entry) { delete(m, name) })
		return nil
	}
	entry := toEntry(d)
	c.mutate(func(m map[string]*Entry) { m[name] = entry })
	return nil
}

// Invalidate removes an entry without reading the store.
func (c *Cache) Invalidate(name string) {
	name = domain.Canonicalize(name)
	c.mutate(func(m map[string]*Entry) { delete(m, name) })
}

// ReloadAll rebuilds the whole snapshot from ListActive and swaps it in
// atomically. Two consecutive calls on a quiescent store are idempotent.
func (c *Cache) ReloadAll(ctx context.Context) error {
	domains, err := c.store.ListActive(ctx)
	if err != nil {
		return err
	}
	fresh := make(map[string]*Entry, len(domains))
	for _, d := range domains {
		if !d.Answerable() {
			continue
		}
		fresh[d.Name] = toEntry(d)
	}
	c.ptr.Store(&snapshot{byName: fresh})
	return nil
}

// mutate performs a copy-on-write update of the current snapshot and swaps
// it in. Callers never observe a torn map: readers either see the snapshot
// before or after the swap.
func (c *Cache) mutate(fn func(map[string]*Entry)) {
	old := c.ptr.Load()
	fresh := make(map[string]*Entry, len(old.byName)+1)
	for k, v := range old.byName {
		fresh[k] = v
	}
	fn(fresh)
	c.ptr.Store(&snapshot{byName: fresh})
}

// Size reports the number of answerable entries currently cached, for stats.
func (c *Cache) Size() int {
	return len(c.ptr.Load().byName)
}
