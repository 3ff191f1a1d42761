// Package listen drives the Responder from the wire: a UDP datagram loop
// and a TCP length-prefixed stream loop, built on github.com/miekg/dns's
// dns.Server exactly as the teacher's main.go does, swapped to call the
// Responder instead of the teacher's caching recursive resolver.
package listen

import (
	"log"
	"net"
	"time"

	"github.com/miekg/dns"

	"authdns/internal/metrics"
	"authdns/internal/responder"
)

// Servers bundles the UDP and TCP listeners so callers can start/stop them
// together.
type Servers struct {
	UDP *dns.Server
	TCP *dns.Server

	udpConn net.PacketConn
	tcpLn   net.Listener
}

// Options configures the listeners.
type Options struct {
	BindAddress    string
	Port           string
	TCPIdleTimeout time.Duration // spec section 4.6: recommended 10s
	RateLimiter    *RateLimiter  // nil disables rate limiting
	Metrics        *metrics.Metrics
}

func handler(r *responder.Responder, udp bool, opts Options) dns.HandlerFunc {
	return func(w dns.ResponseWriter, req *dns.Msg) {
		start := time.Now()

		if opts.RateLimiter != nil {
			if host, _, err := net.SplitHostPort(w.RemoteAddr().String()); err == nil {
				if !opts.RateLimiter.Allow(host) {
					m := new(dns.Msg)
					m.SetRcode(req, dns.RcodeRefused)
					w.WriteMsg(m)
					return
				}
			}
		}

		resp := r.Answer(req, udp)
		if err := w.WriteMsg(resp); err != nil {
			log.Printf("listen: write response failed: %v", err)
		}

		if opts.Metrics != nil {
			opts.Metrics.RecordQuery(resp.Rcode, time.Since(start))
		}
	}
}

// New builds the UDP and TCP servers but does not start them.
func New(r *responder.Responder, opts Options) (*Servers, error) {
	addr := net.JoinHostPort(opts.BindAddress, opts.Port)

	udpConn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, err
	}
	tcpLn, err := net.Listen("tcp", addr)
	if err != nil {
		udpConn.Close()
		return nil, err
	}

	mux := dns.NewServeMux()
	mux.HandleFunc(".", handler(r, true, opts))

	tcpMux := dns.NewServeMux()
	tcpMux.HandleFunc(".", handler(r, false, opts))

	idle := opts.TCPIdleTimeout
	if idle <= 0 {
		idle = 10 * time.Second
	}

	return &Servers{
		UDP:     &dns.Server{PacketConn: udpConn, Handler: mux, UDPSize: 512},
		TCP:     &dns.Server{Listener: tcpLn, Handler: tcpMux, ReadTimeout: idle, IdleTimeout: func() time.Duration { return idle }},
		udpConn: udpConn,
		tcpLn:   tcpLn,
	}, nil
}

// Serve runs both listeners until Shutdown is called; it blocks until both
// return.
func (s *Servers) Serve(onErr func(proto string, err error)) {
	done := make(chan struct{}, 2)
	go func() {
		if err := s.UDP.ActivateAndServe(); err != nil && onErr != nil {
			onErr("udp", err)
		}
		done <- struct{}{}
	}()
	go func() {
		if err := s.TCP.ActivateAndServe(); err != nil && onErr != nil {
			onErr("tcp", err)
		}
		done <- struct{}{}
	}()
	<-done
	<-done
}

// Shutdown stops accepting new work; in-flight queries are expected to
// finish within the caller's bounded drain window.
func (s *Servers) Shutdown() {
	s.UDP.Shutdown()
	s.TCP.Shutdown()
}
