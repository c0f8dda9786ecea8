// reverifier periodically re-checks membership for active cards and expires
// the ones whose owners are no longer members. Runs one sweep per
// REVERIFY_INTERVAL; sweeps never overlap.
package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	auditrepo "membercard-engine/internal/audit/repository"
	auditservice "membercard-engine/internal/audit/service"
	cardrepo "membercard-engine/internal/card/repository"
	"membercard-engine/internal/config"
	"membercard-engine/internal/db"
	issuerrepo "membercard-engine/internal/issuer/repository"
	memberrepo "membercard-engine/internal/member/repository"
	"membercard-engine/internal/policy/engine"
	policyrepo "membercard-engine/internal/policy/repository"
	"membercard-engine/internal/proof"
	"membercard-engine/internal/reverify"
	"membercard-engine/internal/security"
	"membercard-engine/internal/telemetry"
	"membercard-engine/internal/telemetry/otel"
	"membercard-engine/internal/telemetry/producer"
	tokenvaultrepo "membercard-engine/internal/tokenvault/repository"
	tokenvaultservice "membercard-engine/internal/tokenvault/service"
	"membercard-engine/internal/youtube"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("reverifier: DATABASE_URL is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer conn.Close()

	providers, err := otel.NewProviders(ctx, cfg.OTLPEndpoint, "membercard-reverifier", cfg.OTLPInsecure)
	if err != nil {
		log.Fatalf("otel: %v", err)
	}
	providers.SetGlobal()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			log.Printf("otel shutdown: %v", err)
		}
	}()

	var emitter telemetry.EventEmitter
	kafkaProducer, err := producer.NewKafkaProducer(cfg.AuditKafkaBrokersList(), cfg.AuditKafkaTopic)
	if err != nil {
		log.Fatalf("kafka producer: %v", err)
	}
	if kafkaProducer != nil {
		defer kafkaProducer.Close()
		emitter = kafkaProducer
	} else {
		emitter = otel.NewEventEmitter(providers.LoggerProvider)
	}

	cipher, err := security.NewTokenCipher(cfg.TokenEncryptionSecret.Reveal())
	if err != nil {
		log.Fatalf("token cipher: %v", err)
	}

	cards := cardrepo.NewPostgresRepository(conn)
	issuers := issuerrepo.NewPostgresRepository(conn)
	members := memberrepo.NewPostgresRepository(conn)
	policies := policyrepo.NewPostgresRepository(conn)
	sessions := tokenvaultrepo.NewPostgresRepository(conn)
	events := auditrepo.NewPostgresRepository(conn)

	vault := tokenvaultservice.NewVault(sessions, cipher, tokenvaultservice.NewOAuthClient(cfg))
	checker := proof.NewChecker(youtube.NewClient(cfg.YouTubeAPIBaseURL, cfg.YouTubeAPIKey.Reveal()))
	evaluator := engine.NewOPAEvaluator(policies)
	audit := auditservice.NewLogger(events, emitter, "reverifier")

	job := reverify.NewJob(cards, issuers, members, vault, checker, evaluator, audit, cfg.ReverifyBatchSize)

	interval := cfg.ReverifyIntervalDuration()
	log.Printf("reverifier: sweeping every %s (batch size %d)", interval, cfg.ReverifyBatchSize)

	runSweep(ctx, job)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("reverifier: shutting down")
			return
		case <-ticker.C:
			runSweep(ctx, job)
		}
	}
}

func runSweep(ctx context.Context, job *reverify.Job) {
	start := time.Now()
	stats, err := job.Run(ctx)
	if err != nil {
		log.Printf("reverifier: sweep aborted after %s: %v (stats %+v)", time.Since(start).Round(time.Millisecond), err, stats)
		return
	}
	log.Printf("reverifier: sweep done in %s: checked=%d still_members=%d expired=%d token_failures=%d api_errors=%d",
		time.Since(start).Round(time.Millisecond),
		stats.Checked, stats.StillMembers, stats.Expired, stats.TokenRefreshFailures, stats.APIErrors)
}
