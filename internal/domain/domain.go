// Package domain holds the managed-domain entity and its lifecycle.
package domain

import (
	"fmt"
	"net"
	"strings"
	"time"
)

// LifecycleState is the discriminant of the Lifecycle tagged variant.
// Do not reintroduce this as a pair of booleans elsewhere in the codebase;
// the store boundary is the only place that translates to/from columns.
type LifecycleState int

const (
	Pending LifecycleState = iota
	Verified
	Grace
	Disabled
)

func (s LifecycleState) String() string {
	switch s {
	case Pending:
		return "pending"
	case Verified:
		return "verified"
	case Grace:
		return "grace"
	case Disabled:
		return "disabled"
	default:
		return "unknown"
	}
}

// Lifecycle is the tagged variant Pending | Verified(at) | Grace(since) | Disabled(at).
type Lifecycle struct {
	State LifecycleState
	// At is the Verified/Disabled timestamp; Since is the Grace timestamp.
	// At most one of them is meaningful depending on State (neither for Pending).
	At    time.Time
	Since time.Time
}

func NewPending() Lifecycle { return Lifecycle{State: Pending} }

func NewVerified(at time.Time) Lifecycle { return Lifecycle{State: Verified, At: at} }

func NewGrace(since time.Time) Lifecycle { return Lifecycle{State: Grace, Since: since} }

func NewDisabled(at time.Time) Lifecycle { return Lifecycle{State: Disabled, At: at} }

// Domain is one managed zone's row in the Catalogue Store.
type Domain struct {
	Name            string
	Address         net.IP
	MailHost        string
	MXPriority      uint16
	Nameservers     []string
	Lifecycle       Lifecycle
	Enabled         bool
	LastVerifiedAt  *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Canonicalize lowercases and strips a trailing dot from a domain name,
// matching the query-path and store normalisation rule.
func Canonicalize(name string) string {
	return strings.TrimSuffix(strings.ToLower(name), ".")
}

// Validate enforces the invariants from the data model: name uniqueness is
// the store's job, but the per-row shape checks below (including that the
// name is already canonical) apply to any row regardless of where it came
// from (upsert, sync, file fixture).
func (d *Domain) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("domain: name is required")
	}
	if d.Name != Canonicalize(d.Name) {
		return fmt.Errorf("domain: name %q is not canonicalized", d.Name)
	}
	if d.Address == nil || d.Address.To4() == nil {
		return fmt.Errorf("domain: address must be a valid IPv4 address")
	}
	if d.Lifecycle.State != Pending && len(d.Nameservers) == 0 {
		return fmt.Errorf("domain: nameservers must be non-empty once lifecycle is past pending")
	}
	if d.Lifecycle.State == Grace {
		if d.LastVerifiedAt == nil || !d.LastVerifiedAt.Before(d.Lifecycle.Since) {
			return fmt.Errorf("domain: grace lifecycle requires last_verified_at before since")
		}
	}
	if d.Lifecycle.State == Verified {
		if d.LastVerifiedAt == nil || !d.LastVerifiedAt.Equal(d.Lifecycle.At) {
			return fmt.Errorf("domain: verified lifecycle requires last_verified_at == at")
		}
	}
	return nil
}

// Answerable reports whether queries for this domain should be served.
func (d *Domain) Answerable() bool {
	return d.Enabled && (d.Lifecycle.State == Verified || d.Lifecycle.State == Grace)
}

// ExpandMailHost substitutes the {domain} placeholder in a mail host template.
func ExpandMailHost(template, zone string) string {
	return strings.ReplaceAll(template, "{domain}", zone)
}
