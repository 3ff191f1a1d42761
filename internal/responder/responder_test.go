package responder

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/miekg/dns"

	"authdns/internal/domain"
	"authdns/internal/zonecache"
)

var errNotFound = errors.New("fakeStore: not found")

type fakeStore struct {
	domains map[string]*domain.Domain
}

func (f *fakeStore) Get(ctx context.Context, name string) (*domain.Domain, error) {
	d, ok := f.domains[domain.Canonicalize(name)]
	if !ok {
		return nil, errNotFound
	}
	return d, nil
}

func (f *fakeStore) ListActive(ctx context.Context) ([]*domain.Domain, error) {
	out := make([]*domain.Domain, 0, len(f.domains))
	for _, d := range f.domains {
		out = append(out, d)
	}
	return out, nil
}

func newTestCache(t *testing.T) *zonecache.Cache {
	t.Helper()
	store := &fakeStore{domains: map[string]*domain.Domain{
		"example.test": {
			Name:        "example.test",
			Address:     net.ParseIP("203.0.113.10"),
			MailHost:    "mail.{domain}",
			MXPriority:  10,
			Nameservers: []string{"ns1.example.test", "ns2.example.test"},
			Lifecycle:   domain.NewVerified(nowStub()),
			Enabled:     true,
		},
	}}
	c := zonecache.New(store)
	if err := c.ReloadAll(context.Background()); err != nil {
		t.Fatalf("ReloadAll: %v", err)
	}
	return c
}

func nowStub() time.Time { return time.Now().UTC() }

func TestAnswerAQuery(t *testing.T) {
	r := New(newTestCache(t), DefaultPolicy())
	req := new(dns.Msg)
	req.SetQuestion("example.test.", dns.TypeA)

	resp := r.Answer(req, false)
	if resp.Rcode != dns.RcodeSuccess {
		t.Fatalf("expected success, got %s", dns.RcodeToString[resp.Rcode])
	}
	if !resp.Authoritative {
		t.Error("expected authoritative answer")
	}
	if len(resp.Answer) != 1 {
		t.Fatalf("expected 1 answer, got %d", len(resp.Answer))
	}
	a, ok := resp.Answer[0].(*dns.A)
	if !ok {
		t.Fatalf("expected A record, got %T", resp.Answer[0])
	}
	if a.A.String() != "203.0.113.10" {
		t.Errorf("unexpected address: %s", a.A)
	}
}

func TestAnswerMXQueryAddsGlue(t *testing.T) {
	r := New(newTestCache(t), DefaultPolicy())
	req := new(dns.Msg)
	req.SetQuestion("example.test.", dns.TypeMX)

	resp := r.Answer(req, false)
	if len(resp.Answer) != 1 {
		t.Fatalf("expected 1 MX answer, got %d", len(resp.Answer))
	}
	if len(resp.Extra) != 1 {
		t.Fatalf("expected 1 glue record, got %d", len(resp.Extra))
	}
}

func TestAnswerUnknownNameIsRefused(t *testing.T) {
	r := New(newTestCache(t), DefaultPolicy())
	req := new(dns.Msg)
	req.SetQuestion("unmanaged.test.", dns.TypeA)

	resp := r.Answer(req, false)
	if resp.Rcode != dns.RcodeRefused {
		t.Errorf("expected refused, got %s", dns.RcodeToString[resp.Rcode])
	}
}

func TestAnswerSubdomainOfManagedZoneIsNXDOMAIN(t *testing.T) {
	r := New(newTestCache(t), DefaultPolicy())
	req := new(dns.Msg)
	req.SetQuestion("www.example.test.", dns.TypeA)

	resp := r.Answer(req, false)
	if resp.Rcode != dns.RcodeNameError {
		t.Errorf("expected NXDOMAIN, got %s", dns.RcodeToString[resp.Rcode])
	}
	if len(resp.Ns) != 1 {
		t.Fatalf("expected SOA in authority section, got %d records", len(resp.Ns))
	}
}

func TestAnswerNoDataForUnsupportedType(t *testing.T) {
	r := New(newTestCache(t), DefaultPolicy())
	req := new(dns.Msg)
	req.SetQuestion("example.test.", dns.TypeTXT)

	resp := r.Answer(req, false)
	if resp.Rcode != dns.RcodeSuccess {
		t.Errorf("expected success rcode for NODATA, got %s", dns.RcodeToString[resp.Rcode])
	}
	if len(resp.Answer) != 0 {
		t.Errorf("expected no answers, got %d", len(resp.Answer))
	}
	if len(resp.Ns) != 1 {
		t.Errorf("expected SOA in authority section, got %d", len(resp.Ns))
	}
}

func TestAnswerMalformedQuestionIsFormErr(t *testing.T) {
	r := New(newTestCache(t), DefaultPolicy())
	req := new(dns.Msg)
	req.Question = nil

	resp := r.Answer(req, false)
	if resp.Rcode != dns.RcodeFormatError {
		t.Errorf("expected FORMERR, got %s", dns.RcodeToString[resp.Rcode])
	}
}

func TestAnswerTruncatesOversizedUDPResponse(t *testing.T) {
	domains := map[string]*domain.Domain{}
	var nameservers []string
	for i := 0; i < 40; i++ {
		nameservers = append(nameservers, "ns"+string(rune('a'+i%26))+".example.test")
	}
	domains["example.test"] = &domain.Domain{
		Name:        "example.test",
		Address:     net.ParseIP("203.0.113.10"),
		MailHost:    "mail.{domain}",
		Nameservers: nameservers,
		Lifecycle:   domain.NewVerified(nowStub()),
		Enabled:     true,
	}
	store := &fakeStore{domains: domains}
	c := zonecache.New(store)
	if err := c.ReloadAll(context.Background()); err != nil {
		t.Fatalf("ReloadAll: %v", err)
	}

	r := New(c, DefaultPolicy())
	req := new(dns.Msg)
	req.SetQuestion("example.test.", dns.TypeNS)

	resp := r.Answer(req, true)
	if !resp.Truncated {
		t.Fatal("expected truncated response for oversized NS answer set")
	}
	packed, err := resp.Pack()
	if err != nil {
		t.Fatalf("pack truncated response: %v", err)
	}
	if len(packed) > DefaultPolicy().MaxUDPSize {
		t.Errorf("truncated response still exceeds max UDP size: %d", len(packed))
	}
}
