// Package responder is the stateless query-answering core: a pure function
// from an inbound DNS message to an outgoing one, reading only the Zone
// Cache. Grounded on plugins/authoritative/authoritative.go's Execute/
// addSOAAuthority/addAuthorityAndGlue methods from the teacher, rewritten
// around the Zone Cache's derived Entry (synthesised A/MX/NS/SOA) instead
// of the teacher's arbitrary stored RRset map — wildcard and free-form
// RRsets are both non-goals here.
package responder

import (
	"strings"
	"time"

	"github.com/miekg/dns"

	"authdns/internal/zonecache"
)

// Policy holds the fixed response-construction constants from spec section
// 4.3 step 6 and 4.6.
type Policy struct {
	DefaultTTL      uint32
	SOARefresh      uint32
	SOARetry        uint32
	SOAExpire       uint32
	AdminMailbox    string // e.g. "hostmaster.example.test."
	MaxUDPSize      int
}

// DefaultPolicy matches the recommended constants in spec section 4.3.
func DefaultPolicy() Policy {
	return Policy{
		DefaultTTL:   300,
		SOARefresh:   3600,
		SOARetry:     600,
		SOAExpire:    604800,
		AdminMailbox: "hostmaster.",
		MaxUDPSize:   512,
	}
}

// Responder answers queries using only the Zone Cache.
type Responder struct {
	cache  *zonecache.Cache
	policy Policy
}

func New(cache *zonecache.Cache, policy Policy) *Responder {
	return &Responder{cache: cache, policy: policy}
}

// Answer implements spec section 4.3 steps 1-8. udp reports whether the
// response may need truncation to 512 bytes.
func (r *Responder) Answer(req *dns.Msg, udp bool) *dns.Msg {
	resp := new(dns.Msg)
	resp.SetReply(req)
	resp.RecursionAvailable = false
	resp.Compress = true

	if req.Response || len(req.Question) != 1 || req.Question[0].Qclass != dns.ClassINET {
		resp.Rcode = dns.RcodeFormatError
		resp.Authoritative = false
		return resp
	}
	if req.Opcode != dns.OpcodeQuery {
		resp.Rcode = dns.RcodeNotImplemented
		return resp
	}

	q := req.Question[0]
	qname := strings.TrimSuffix(strings.ToLower(q.Name), ".")

	entry, apex, isApex, ok := r.cache.Lookup(qname)
	if !ok {
		resp.Rcode = dns.RcodeRefused
		resp.Authoritative = false
		return resp
	}

	resp.Authoritative = true

	if !isApex {
		resp.Rcode = dns.RcodeNameError
		resp.Ns = append(resp.Ns, r.soa(apex, entry))
		return r.truncate(resp, udp)
	}

	switch q.Qtype {
	case dns.TypeA:
		resp.Answer = append(resp.Answer, r.aRecord(entry))
	case dns.TypeMX:
		mx := r.mxRecord(entry)
		resp.Answer = append(resp.Answer, mx)
		r.addMXGlue(resp, entry)
	case dns.TypeNS:
		resp.Answer = append(resp.Answer, r.nsRecords(entry)...)
	case dns.TypeSOA:
		resp.Answer = append(resp.Answer, r.soa(apex, entry))
	case dns.TypeANY:
		resp.Answer = append(resp.Answer, r.aRecord(entry))
		resp.Answer = append(resp.Answer, r.mxRecord(entry))
		resp.Answer = append(resp.Answer, r.nsRecords(entry)...)
		resp.Answer = append(resp.Answer, r.soa(apex, entry))
	default:
		// NODATA: name exists, no records of this type.
		resp.Ns = append(resp.Ns, r.soa(apex, entry))
	}

	return r.truncate(resp, udp)
}

func (r *Responder) aRecord(e *zonecache.Entry) dns.RR {
	return &dns.A{
		Hdr: dns.RR_Header{Name: dns.Fqdn(e.Name), Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: r.policy.DefaultTTL},
		A:   e.Address,
	}
}

func (r *Responder) mxRecord(e *zonecache.Entry) dns.RR {
	return &dns.MX{
		Hdr:        dns.RR_Header{Name: dns.Fqdn(e.Name), Rrtype: dns.TypeMX, Class: dns.ClassINET, Ttl: r.policy.DefaultTTL},
		Preference: e.MXPriority,
		Mx:         dns.Fqdn(e.MailHostExpanded),
	}
}

func (r *Responder) nsRecords(e *zonecache.Entry) []dns.RR {
	out := make([]dns.RR, 0, len(e.Nameservers))
	for _, ns := range e.Nameservers {
		out = append(out, &dns.NS{
			Hdr: dns.RR_Header{Name: dns.Fqdn(e.Name), Rrtype: dns.TypeNS, Class: dns.ClassINET, Ttl: r.policy.DefaultTTL},
			Ns:  dns.Fqdn(ns),
		})
	}
	return out
}

// addMXGlue adds an A glue record to Extra if the mail host resolves within
// the same apex's cached entry (spec section 4.3 step 5, MX).
func (r *Responder) addMXGlue(resp *dns.Msg, e *zonecache.Entry) {
	mailHost := strings.TrimSuffix(strings.ToLower(e.MailHostExpanded), ".")
	if mailHost != e.Name && !strings.HasSuffix(mailHost, "."+e.Name) {
		return
	}
	resp.Extra = append(resp.Extra, &dns.A{
		Hdr: dns.RR_Header{Name: dns.Fqdn(mailHost), Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: r.policy.DefaultTTL},
		A:   e.Address,
	})
}

// soa builds the SOA record for the zone apex per spec section 4.3 step 6:
// MNAME is the first configured nameserver, RNAME the fixed admin mailbox,
// SERIAL derived from the entry's updated_at.
func (r *Responder) soa(apex string, e *zonecache.Entry) dns.RR {
	mname := r.policy.AdminMailbox
	if len(e.Nameservers) > 0 {
		mname = dns.Fqdn(e.Nameservers[0])
	}
	return &dns.SOA{
		Hdr:     dns.RR_Header{Name: dns.Fqdn(apex), Rrtype: dns.TypeSOA, Class: dns.ClassINET, Ttl: r.policy.DefaultTTL},
		Ns:      mname,
		Mbox:    dns.Fqdn(r.policy.AdminMailbox),
		Serial:  uint32(e.UpdatedAt),
		Refresh: r.policy.SOARefresh,
		Retry:   r.policy.SOARetry,
		Expire:  r.policy.SOAExpire,
		Minttl:  r.policy.DefaultTTL,
	}
}

// truncate enforces the UDP 512-byte bound from spec section 4.3 step 7:
// on overflow, set TC=1 and keep only whole answer RRs that fit, alongside
// the header and question. Authority/additional are dropped on truncation.
func (r *Responder) truncate(resp *dns.Msg, udp bool) *dns.Msg {
	if !udp {
		return resp
	}
	packed, err := resp.Pack()
	if err == nil && len(packed) <= r.policy.MaxUDPSize {
		return resp
	}

	trimmed := new(dns.Msg)
	trimmed.SetReply(resp)
	trimmed.MsgHdr = resp.MsgHdr
	trimmed.Compress = true
	trimmed.Truncated = true
	trimmed.Answer = nil

	for _, rr := range resp.Answer {
		candidate := append(append([]dns.RR(nil), trimmed.Answer...), rr)
		trimmed.Answer = candidate
		if b, err := trimmed.Pack(); err != nil || len(b) > r.policy.MaxUDPSize {
			trimmed.Answer = candidate[:len(candidate)-1]
			break
		}
	}
	return trimmed
}

// ResponseDeadline bounds how long a listener should wait to write a
// response; the Responder itself never performs I/O.
const ResponseDeadline = 2 * time.Second
