package domain

import (
	"net"
	"testing"
	"time"
)

func TestCanonicalize(t *testing.T) {
	cases := map[string]string{
		"Example.com.": "example.com",
		"EXAMPLE.COM":  "example.com",
		"example.com":  "example.com",
	}
	for in, want := range cases {
		if got := Canonicalize(in); got != want {
			t.Errorf("Canonicalize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestValidateRequiresCanonicalName(t *testing.T) {
	d := &Domain{Name: "Example.com", Address: net.ParseIP("1.2.3.4")}
	if err := d.Validate(); err == nil {
		t.Error("expected error for non-canonical name")
	}
}

func TestValidateRequiresIPv4Address(t *testing.T) {
	d := &Domain{Name: "example.com", Address: net.ParseIP("::1")}
	if err := d.Validate(); err == nil {
		t.Error("expected error for non-IPv4 address")
	}
}

func TestValidatePendingAllowsEmptyNameservers(t *testing.T) {
	d := &Domain{Name: "example.com", Address: net.ParseIP("1.2.3.4"), Lifecycle: NewPending()}
	if err := d.Validate(); err != nil {
		t.Errorf("unexpected error for pending domain with no nameservers: %v", err)
	}
}

func TestValidateVerifiedRequiresNameservers(t *testing.T) {
	now := time.Now().UTC()
	d := &Domain{
		Name:           "example.com",
		Address:        net.ParseIP("1.2.3.4"),
		Lifecycle:      NewVerified(now),
		LastVerifiedAt: &now,
	}
	if err := d.Validate(); err == nil {
		t.Error("expected error for verified domain with no nameservers")
	}
}

func TestValidateVerifiedRequiresMatchingLastVerifiedAt(t *testing.T) {
	now := time.Now().UTC()
	other := now.Add(-time.Minute)
	d := &Domain{
		Name:           "example.com",
		Address:        net.ParseIP("1.2.3.4"),
		Nameservers:    []string{"ns1.example.com"},
		Lifecycle:      NewVerified(now),
		LastVerifiedAt: &other,
	}
	if err := d.Validate(); err == nil {
		t.Error("expected error when last_verified_at does not equal lifecycle.at")
	}
}

func TestValidateGraceRequiresLastVerifiedAtBeforeSince(t *testing.T) {
	since := time.Now().UTC()
	tooLate := since.Add(time.Minute)
	d := &Domain{
		Name:           "example.com",
		Address:        net.ParseIP("1.2.3.4"),
		Nameservers:    []string{"ns1.example.com"},
		Lifecycle:      NewGrace(since),
		LastVerifiedAt: &tooLate,
	}
	if err := d.Validate(); err == nil {
		t.Error("expected error when last_verified_at is not before grace.since")
	}
}

func TestAnswerable(t *testing.T) {
	now := time.Now().UTC()
	cases := []struct {
		name    string
		d       Domain
		want    bool
	}{
		{"disabled verified", Domain{Enabled: false, Lifecycle: NewVerified(now)}, false},
		{"enabled pending", Domain{Enabled: true, Lifecycle: NewPending()}, false},
		{"enabled verified", Domain{Enabled: true, Lifecycle: NewVerified(now)}, true},
		{"enabled grace", Domain{Enabled: true, Lifecycle: NewGrace(now)}, true},
		{"enabled disabled", Domain{Enabled: true, Lifecycle: NewDisabled(now)}, false},
	}
	for _, c := range cases {
		if got := c.d.Answerable(); got != c.want {
			t.Errorf("%s: Answerable() = %v, want %v", c.name, got, c.want)
		}
	}
}

func TestExpandMailHost(t *testing.T) {
	got := ExpandMailHost("mail.{domain}", "example.com")
	want := "mail.example.com"
	if got != want {
		t.Errorf("ExpandMailHost() = %q, want %q", got, want)
	}
}
