package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	httpadapter "github.com/identitygate/identitygate/internal/adapter/inbound/http"
	"github.com/identitygate/identitygate/internal/adapter/outbound/credstore"
	"github.com/identitygate/identitygate/internal/adapter/outbound/jwtauth"
	"github.com/identitygate/identitygate/internal/adapter/outbound/memory"
	"github.com/identitygate/identitygate/internal/adapter/outbound/policyfile"
	"github.com/identitygate/identitygate/internal/adapter/outbound/scimstore"
	"github.com/identitygate/identitygate/internal/config"
	"github.com/identitygate/identitygate/internal/domain/abac"
	"github.com/identitygate/identitygate/internal/domain/ratelimit"
	"github.com/identitygate/identitygate/internal/domain/token"
	"github.com/identitygate/identitygate/internal/service"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long: `Start the identity and access service: loads ABAC policies, wires the
Token Manager and credential store, and serves SCIM, token, and
authorization endpoints over HTTP.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Server.LogLevel),
	}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ctx.Done()
		stop()
	}()

	return serve(ctx, cfg, logger)
}

// serve wires the adapters and services named in spec.md §6 together and
// blocks serving HTTP until ctx is cancelled.
func serve(ctx context.Context, cfg *config.ServiceConfig, logger *slog.Logger) error {
	policies, err := policyfile.New(cfg.PoliciesPath, logger)
	if err != nil {
		return fmt.Errorf("open policy repository: %w", err)
	}

	tokens, err := jwtauth.New(jwtauth.Config{
		Algorithm:     token.Algorithm(cfg.JWT.Algorithm),
		Secret:        cfg.JWT.Secret,
		PrivateKeyPEM: cfg.JWT.PrivateKeyPEM,
		PublicKeyPEM:  cfg.JWT.PublicKeyPEM,
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		DefaultTTLMin: cfg.JWT.ExpirationMinutes,
		Environment:   cfg.Environment,
	}, logger)
	if err != nil {
		return fmt.Errorf("construct token manager: %w", err)
	}

	credentials, err := credstore.LoadFile(cfg.CredentialsPath)
	if err != nil {
		return fmt.Errorf("load credentials: %w", err)
	}

	identityStore, err := scimstore.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open identity store: %w", err)
	}
	defer identityStore.Close()

	auditFlush, err := time.ParseDuration(cfg.Audit.FlushInterval)
	if err != nil {
		return fmt.Errorf("parse audit.flush_interval: %w", err)
	}
	auditSendTimeout, err := time.ParseDuration(cfg.Audit.SendTimeout)
	if err != nil {
		return fmt.Errorf("parse audit.send_timeout: %w", err)
	}
	auditStore := memory.NewAuditStore()
	auditService := service.NewAuditService(auditStore, logger,
		service.WithChannelSize(cfg.Audit.ChannelSize),
		service.WithBatchSize(cfg.Audit.BatchSize),
		service.WithFlushInterval(auditFlush),
		service.WithSendTimeout(auditSendTimeout),
		service.WithWarningThreshold(cfg.Audit.WarningThreshold),
	)

	rateCleanup, err := time.ParseDuration(cfg.RateLimit.CleanupInterval)
	if err != nil {
		return fmt.Errorf("parse rate_limit.cleanup_interval: %w", err)
	}
	rateMaxTTL, err := time.ParseDuration(cfg.RateLimit.MaxTTL)
	if err != nil {
		return fmt.Errorf("parse rate_limit.max_ttl: %w", err)
	}
	rateLimiter := memory.NewRateLimiterWithConfig(rateCleanup, rateMaxTTL)
	rateLimiter.StartCleanup(ctx)
	defer rateLimiter.Stop()

	evaluator := abac.NewEvaluator(logger)
	authzService := service.NewAuthorizationService(policies, evaluator, auditStore, logger)
	authService := service.NewAuthService(credentials, identityStore, tokens, cfg.JWT.ExpirationMinutes, logger)

	healthChecker := httpadapter.NewHealthChecker(policies, tokens, rateLimiter, auditService, Version)

	transport := httpadapter.NewHTTPTransport(authService, authzService,
		httpadapter.WithAddr(cfg.Server.HTTPAddr),
		httpadapter.WithLogger(logger),
		httpadapter.WithHealthChecker(healthChecker),
		httpadapter.WithIdentityStore(identityStore),
		httpadapter.WithRateLimiter(rateLimiter),
		httpadapter.WithTokenRateLimit(rateLimitConfigFromMinute(cfg.RateLimit.AuthTokenPerMinute)),
		httpadapter.WithEvaluateRateLimit(rateLimitConfigFromMinute(cfg.RateLimit.EvaluatePerMinute)),
	)

	logger.Info("identitygate starting", "addr", cfg.Server.HTTPAddr, "environment", cfg.Environment)
	if err := transport.Start(ctx); err != nil {
		return fmt.Errorf("http transport: %w", err)
	}

	logger.Info("identitygate stopped")
	return nil
}

// rateLimitConfigFromMinute builds a per-minute rate limit config from the
// single integer spec.md §6 names for each route (10/min on /auth/token,
// 100/min on /authz/evaluate).
func rateLimitConfigFromMinute(perMinute int) ratelimit.RateLimitConfig {
	return ratelimit.RateLimitConfig{
		Rate:   perMinute,
		Burst:  perMinute,
		Period: time.Minute,
	}
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
