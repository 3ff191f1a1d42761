// Package admin is the operator-facing HTTP surface from spec section 4.7:
// health, stats, catalogue listing, manual add/delete and force_verify.
// Basic Auth middleware and the plain net/http.ServeMux wiring follow the
// teacher's plugins/dashboard/dashboard.go shape; the actual zone
// operations are delegated to the Catalogue Store and Verifier rather than
// the teacher's in-memory authoritative plugin.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"authdns/internal/catalog"
	"authdns/internal/domain"
	"authdns/internal/zonecache"
)

// Store is the subset of the Catalogue Store the admin surface needs.
type Store interface {
	Get(ctx context.Context, name string) (*domain.Domain, error)
	ListActive(ctx context.Context) ([]*domain.Domain, error)
	Upsert(ctx context.Context, d *domain.Domain) (catalog.UpsertOutcome, error)
	Delete(ctx context.Context, name string) (catalog.Existence, error)
}

// Verifier is the subset of the Verifier the force_verify operation needs.
type Verifier interface {
	VerifyOne(ctx context.Context, name string) error
}

// Credentials gate every admin endpoint except /health behind HTTP Basic Auth.
type Credentials struct {
	Username string
	Password string
}

// Defaults fills in fields a manual "add domain" request omits, taken from
// config. Upstream-sourced domains do not use them: the Synchroniser copies
// these fields from the upstream row as they are.
type Defaults struct {
	MXPriority       uint16
	MailHostTemplate string
	Nameservers      []string
}

// Server is the admin HTTP surface.
type Server struct {
	store    Store
	cache    *zonecache.Cache
	verifier Verifier
	creds    Credentials
	defaults Defaults
	started  time.Time
}

func New(store Store, cache *zonecache.Cache, verifier Verifier, creds Credentials, defaults Defaults) *Server {
	return &Server{store: store, cache: cache, verifier: verifier, creds: creds, defaults: defaults, started: time.Now()}
}

func (s *Server) withBasicAuth(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != s.creds.Username || pass != s.creds.Password {
			w.Header().Set("WWW-Authenticate", `Basic realm="authdns"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		h(w, r)
	}
}

// Handler builds the admin mux. It does not start a listener; the caller
// wraps it in an *http.Server the way main.go wires every other component.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/stats", s.withBasicAuth(s.statsHandler))
	mux.HandleFunc("/domains", s.withBasicAuth(s.domainsHandler))
	mux.HandleFunc("/domains/verify", s.withBasicAuth(s.forceVerifyHandler))
	return mux
}

// healthHandler is unauthenticated liveness: it reports process up, not
// catalogue health, so orchestrators can probe it cheaply.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(s.started).String(),
	})
}

func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	domains, err := s.store.ListActive(r.Context())
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	counts := map[string]int{}
	for _, d := range domains {
		counts[d.Lifecycle.State.String()]++
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"active_domains":   len(domains),
		"by_lifecycle":     counts,
		"zone_cache_size":  s.cache.Size(),
	})
}

type domainDTO struct {
	Name        string   `json:"name"`
	Address     string   `json:"address"`
	MailHost    string   `json:"mail_host"`
	MXPriority  uint16   `json:"mx_priority"`
	Nameservers []string `json:"nameservers"`
	Lifecycle   string   `json:"lifecycle"`
	Enabled     bool     `json:"enabled"`
}

func toDTO(d *domain.Domain) domainDTO {
	addr := ""
	if d.Address != nil {
		addr = d.Address.String()
	}
	return domainDTO{
		Name:        d.Name,
		Address:     addr,
		MailHost:    d.MailHost,
		MXPriority:  d.MXPriority,
		Nameservers: d.Nameservers,
		Lifecycle:   d.Lifecycle.State.String(),
		Enabled:     d.Enabled,
	}
}

// domainsHandler implements list (GET), add (POST) and delete (DELETE) for
// manually-managed domains (spec section 4.7 and the auto-discovery open
// question: manual add/delete always work regardless of sync source).
func (s *Server) domainsHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		domains, err := s.store.ListActive(r.Context())
		if err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		dtos := make([]domainDTO, 0, len(domains))
		for _, d := range domains {
			dtos = append(dtos, toDTO(d))
		}
		writeJSON(w, http.StatusOK, dtos)

	case http.MethodPost:
		var req domainDTO
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		ip := net.ParseIP(req.Address)
		if ip == nil {
			http.Error(w, "address must be a valid IPv4 address", http.StatusBadRequest)
			return
		}
		mailHost := req.MailHost
		if mailHost == "" {
			mailHost = s.defaults.MailHostTemplate
		}
		mxPriority := req.MXPriority
		if mxPriority == 0 {
			mxPriority = s.defaults.MXPriority
		}
		nameservers := req.Nameservers
		if len(nameservers) == 0 {
			nameservers = s.defaults.Nameservers
		}
		d := &domain.Domain{
			Name:        domain.Canonicalize(req.Name),
			Address:     ip,
			MailHost:    mailHost,
			MXPriority:  mxPriority,
			Nameservers: nameservers,
			Enabled:     true,
		}
		outcome, err := s.store.Upsert(r.Context(), d)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := s.cache.Refresh(r.Context(), d.Name); err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		if outcome == catalog.Created {
			w.WriteHeader(http.StatusCreated)
		} else {
			w.WriteHeader(http.StatusOK)
		}

	case http.MethodDelete:
		name := r.URL.Query().Get("name")
		if name == "" {
			http.Error(w, "name is required", http.StatusBadRequest)
			return
		}
		existence, err := s.store.Delete(r.Context(), name)
		if err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		s.cache.Invalidate(name)
		if existence == catalog.Absent {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// forceVerifyHandler triggers an immediate, synchronous VerifyOne for a
// single domain, bypassing the verifier's regular tick interval.
func (s *Server) forceVerifyHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	name := r.URL.Query().Get("name")
	if name == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}

	if _, err := s.store.Get(r.Context(), name); err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	if err := s.verifier.VerifyOne(r.Context(), name); err != nil {
		http.Error(w, "verify failed: "+err.Error(), http.StatusInternalServerError)
		return
	}

	d, err := s.store.Get(r.Context(), name)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, toDTO(d))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
