package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"authdns/internal/admin"
	"authdns/internal/catalog"
	"authdns/internal/config"
	"authdns/internal/listen"
	"authdns/internal/metrics"
	"authdns/internal/responder"
	"authdns/internal/syncer"
	"authdns/internal/verifier"
	"authdns/internal/zonecache"
)

func main() {
	go func() {
		log.Println("Starting pprof server on localhost:6060")
		if err := http.ListenAndServe("localhost:6060", nil); err != nil {
			log.Printf("pprof server failed: %v", err)
		}
	}()

	cfg := config.NewConfig()

	var (
		bindAddress          = flag.String("bind-address", cfg.BindAddress, "Address to bind the DNS listeners to")
		port                 = flag.String("port", cfg.Port, "Port to listen on")
		catalogueDSN         = flag.String("catalogue-dsn", cfg.CatalogueDSN, "sqlite DSN for the catalogue store")
		nameservers          = flag.String("nameservers", "", "Comma-separated default nameservers for new domains")
		verificationInterval = flag.Duration("verification-interval", cfg.VerificationInterval, "NS verification tick interval")
		gracePeriod          = flag.Duration("grace-period", cfg.GracePeriod, "Grace period before a mismatched domain is disabled")
		verifierConcurrency  = flag.Int("verifier-concurrency", cfg.VerifierConcurrency, "Max concurrent NS verifications per tick")
		verifierTimeout      = flag.Duration("verifier-timeout", cfg.VerifierTimeout, "Per-lookup NS verification timeout")
		verifierRetries      = flag.Int("verifier-retries", cfg.VerifierRetries, "NS lookup retry count")
		resolverAddr         = flag.String("resolver-address", "127.0.0.1:53", "Recursive resolver used for NS verification")
		syncInterval         = flag.Duration("sync-interval", cfg.SyncInterval, "Upstream catalogue sync interval")
		upstreamEndpoint     = flag.String("upstream-endpoint", "", "Upstream control-plane catalogue endpoint (empty disables sync)")
		upstreamKey          = flag.String("upstream-key", "", "Bearer token for the upstream catalogue endpoint")
		adminAddress         = flag.String("admin-address", cfg.AdminAddress, "Admin HTTP surface bind address")
		adminUser            = flag.String("admin-user", "admin", "Admin HTTP surface basic auth username")
		adminPass            = flag.String("admin-pass", "admin", "Admin HTTP surface basic auth password")
		rateLimitRPS         = flag.Int("rate-limit-rps", 0, "Per-source rate limit, requests per second (0 disables)")
		rateLimitBurst       = flag.Int("rate-limit-burst", 200, "Per-source rate limit burst size")
		tcpIdleTimeout       = flag.Duration("tcp-idle-timeout", cfg.TCPIdleTimeout, "TCP connection idle timeout")
	)
	flag.Parse()

	cfg.BindAddress = *bindAddress
	cfg.Port = *port
	cfg.CatalogueDSN = *catalogueDSN
	if *nameservers != "" {
		cfg.Nameservers = strings.Split(*nameservers, ",")
	}
	cfg.VerificationInterval = *verificationInterval
	cfg.GracePeriod = *gracePeriod
	cfg.VerifierConcurrency = *verifierConcurrency
	cfg.VerifierTimeout = *verifierTimeout
	cfg.VerifierRetries = *verifierRetries
	cfg.SyncInterval = *syncInterval
	cfg.UpstreamEndpoint = *upstreamEndpoint
	cfg.UpstreamKey = *upstreamKey
	cfg.AdminAddress = *adminAddress
	cfg.TCPIdleTimeout = *tcpIdleTimeout

	store, err := catalog.Open(cfg.CatalogueDSN, cfg.MaxDBConns)
	if err != nil {
		log.Fatalf("Failed to open catalogue store: %v", err)
	}
	defer store.Close()

	cache := zonecache.New(store)
	if err := cache.ReloadAll(context.Background()); err != nil {
		log.Fatalf("Failed to warm zone cache: %v", err)
	}

	m := metrics.New()
	policy := responder.DefaultPolicy()
	policy.DefaultTTL = cfg.DefaultTTL
	resp := responder.New(cache, policy)

	var rateLimiter *listen.RateLimiter
	if *rateLimitRPS > 0 {
		rateLimiter = listen.NewRateLimiter(*rateLimitRPS, *rateLimitBurst, 3*time.Minute)
		defer rateLimiter.Stop()
	}

	servers, err := listen.New(resp, listen.Options{
		BindAddress:    cfg.BindAddress,
		Port:           cfg.Port,
		TCPIdleTimeout: cfg.TCPIdleTimeout,
		RateLimiter:    rateLimiter,
		Metrics:        m,
	})
	if err != nil {
		log.Fatalf("Failed to create DNS listeners: %v", err)
	}

	resolver := verifier.NewClientResolver(*resolverAddr, cfg.VerifierTimeout, cfg.VerifierRetries)
	v := verifier.New(store, cache, resolver, cfg.VerifierConcurrency, cfg.GracePeriod)

	ctx, cancel := context.WithCancel(context.Background())

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		servers.Serve(func(proto string, err error) {
			log.Printf("%s server error: %v", proto, err)
		})
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		v.Run(ctx, cfg.VerificationInterval)
	}()

	if cfg.UpstreamEndpoint != "" {
		fetcher := syncer.NewHTTPFetcher(cfg.UpstreamEndpoint, cfg.UpstreamKey, cfg.VerifierTimeout)
		sy := syncer.New(store, cache, fetcher)
		wg.Add(1)
		go func() {
			defer wg.Done()
			sy.Run(ctx, cfg.SyncInterval)
		}()
	} else {
		log.Println("Synchroniser disabled: no upstream-endpoint configured")
	}

	adminSrv := admin.New(store, cache, v, admin.Credentials{Username: *adminUser, Password: *adminPass}, admin.Defaults{
		MXPriority:       cfg.MXPriority,
		MailHostTemplate: cfg.MailHostTemplate,
		Nameservers:      cfg.Nameservers,
	})
	adminHTTP := &http.Server{Addr: cfg.AdminAddress, Handler: adminSrv.Handler()}
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Printf("Starting admin server on %s", cfg.AdminAddress)
		if err := adminHTTP.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("admin server error: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	log.Println("Shutting down servers...")
	servers.Shutdown()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	adminHTTP.Shutdown(shutdownCtx)

	wg.Wait()
	log.Println("Servers stopped.")
}
