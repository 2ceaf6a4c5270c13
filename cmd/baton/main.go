package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Mindburn-Labs/baton/pkg/api"
	"github.com/Mindburn-Labs/baton/pkg/approval"
	"github.com/Mindburn-Labs/baton/pkg/audit"
	"github.com/Mindburn-Labs/baton/pkg/auth"
	"github.com/Mindburn-Labs/baton/pkg/authz"
	"github.com/Mindburn-Labs/baton/pkg/conductor"
	"github.com/Mindburn-Labs/baton/pkg/config"
	"github.com/Mindburn-Labs/baton/pkg/events"
	"github.com/Mindburn-Labs/baton/pkg/executor"
	"github.com/Mindburn-Labs/baton/pkg/manifest"
	"github.com/Mindburn-Labs/baton/pkg/observability"
	"github.com/Mindburn-Labs/baton/pkg/policy"
	"github.com/Mindburn-Labs/baton/pkg/registry"

	_ "github.com/lib/pq" // Postgres driver
)

const appVersion = "v0.1.0"

// Dispatcher
func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// startServer is a variable to allow mocking in tests
var startServer = runServer

// Run is the entrypoint for testing
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		// Default to server
		return startServer(stdout, stderr)
	}

	switch args[1] {
	case "server", "serve":
		return startServer(stdout, stderr)
	case "validate":
		return runValidateCmd(args[2:], stdout, stderr)
	case "health":
		return runHealthCmd(stdout, stderr)
	case "version":
		fmt.Fprintf(stdout, "baton %s\n", appVersion)
		return 0
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		if args[1][0] == '-' {
			return startServer(stdout, stderr)
		}
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

// ANSI Colors
const (
	ColorReset  = "\033[0m"
	ColorBold   = "\033[1m"
	ColorRed    = "\033[31m"
	ColorGreen  = "\033[32m"
	ColorYellow = "\033[33m"
	ColorBlue   = "\033[34m"
	ColorCyan   = "\033[36m"
	ColorGray   = "\033[37m"
)

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "%sBaton %s%s\n", ColorBold+ColorBlue, appVersion, ColorReset)
	fmt.Fprintf(w, "%sOne conductor for eight orchestras.%s\n", ColorGray, ColorReset)
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "%sUSAGE:%s\n", ColorBold, ColorReset)
	fmt.Fprintln(w, "  baton <command> [flags]")
	fmt.Fprintln(w, "")

	printSection(w, "SERVER")
	printCommand(w, "server", "Run the coordination server (default)")
	printCommand(w, "health", "Check server health (HTTP)")

	printSection(w, "MANIFESTS")
	printCommand(w, "validate", "Validate an orchestra manifest file")

	printSection(w, "UTILITIES")
	printCommand(w, "version", "Show version information")
	printCommand(w, "help", "Show this help")
	fmt.Fprintln(w, "")
}

func printSection(w io.Writer, title string) {
	fmt.Fprintf(w, "%s%s:%s\n", ColorBold+ColorCyan, title, ColorReset)
}

func printCommand(w io.Writer, name, desc string) {
	fmt.Fprintf(w, "  %s%-12s%s %s\n", ColorGreen, name, ColorReset, desc)
}

// runServer wires the full engine: telemetry, the audit chain, the event
// log, registry, authorization graph, policy, approvals, conductor and the
// HTTP surface. Backends selected by config are optional; everything else
// runs in memory.
func runServer(stdout, stderr io.Writer) int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(stderr, "Configuration error: %v\n", err)
		return 1
	}
	logger := cfg.Logger()
	slog.SetDefault(logger)

	fmt.Fprintf(stdout, "%sBaton %s starting...%s\n", ColorBold+ColorBlue, cfg.Version, ColorReset)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Telemetry, off unless an OTLP endpoint is configured.
	obsCfg := observability.DefaultConfig()
	obsCfg.ServiceVersion = cfg.Version
	obsCfg.OTLPEndpoint = cfg.OTLPEndpoint
	obsCfg.Enabled = cfg.OTLPEndpoint != ""
	obsCfg.Insecure = true // local collector, no TLS
	provider, err := observability.New(ctx, obsCfg)
	if err != nil {
		logger.Error("telemetry init failed", "error", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(sctx); err != nil {
			logger.Warn("telemetry shutdown", "error", err)
		}
	}()
	ins, err := provider.Instruments()
	if err != nil {
		logger.Error("instrument init failed", "error", err)
		return 1
	}

	// Audit chain, archived to SQLite when a path is configured.
	chain := audit.NewChainStore()
	auditLog := audit.NewChainLogger(chain)
	if cfg.SQLitePath != "" {
		archive, err := audit.OpenSQLiteArchive(cfg.SQLitePath)
		if err != nil {
			logger.Error("audit archive open failed", "path", cfg.SQLitePath, "error", err)
			return 1
		}
		defer archive.Close()
		archive.Attach(chain)
		logger.Info("audit archive ready", "path", cfg.SQLitePath)
	}

	eventLog := events.NewLog()

	// Registry, backed by Postgres when configured.
	regOpts := []registry.Option{
		registry.WithAudit(auditLog),
		registry.WithEvents(eventLog),
		registry.WithInstruments(ins),
	}
	var db *sql.DB
	if cfg.PostgresURL != "" {
		db, err = sql.Open("postgres", cfg.PostgresURL)
		if err != nil {
			logger.Error("postgres open failed", "error", err)
			return 1
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			logger.Error("postgres ping failed", "error", err)
			return 1
		}
		pgStore := registry.NewPostgresStore(db)
		if err := pgStore.Init(ctx); err != nil {
			logger.Error("registry store init failed", "error", err)
			return 1
		}
		regOpts = append(regOpts, registry.WithStore(pgStore))
		logger.Info("registry store ready", "backend", "postgres")
	}
	reg := registry.New(regOpts...)
	if err := reg.Restore(ctx); err != nil {
		logger.Warn("manifest restore failed", "error", err)
	}
	// Seed after restore so manifest files win over stored copies.
	if cfg.ManifestDir != "" {
		n, err := seedManifests(ctx, reg, cfg.ManifestDir)
		if err != nil {
			logger.Error("manifest seed failed", "dir", cfg.ManifestDir, "error", err)
			return 1
		}
		logger.Info("manifests seeded", "dir", cfg.ManifestDir, "count", n)
	}

	graph := authz.New(reg,
		authz.WithAudit(auditLog),
		authz.WithEvents(eventLog),
		authz.WithInstruments(ins),
	)

	// Approval engine with the configured decision window, swept on a
	// fixed cadence so expired requests fail their waiters.
	approvals := approval.NewManager(
		approval.WithTTL(cfg.ApprovalTTL),
		approval.WithAudit(auditLog),
		approval.WithEvents(eventLog),
	)
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if expired := approvals.CheckTimeouts(ctx); len(expired) > 0 {
					logger.Info("approval requests expired", "count", len(expired))
				}
			}
		}
	}()

	condOpts := []conductor.Option{
		conductor.WithClassifier(approval.DefaultClassifier()),
		conductor.WithApprovals(approvals),
		conductor.WithAudit(auditLog),
		conductor.WithEvents(eventLog),
		conductor.WithInstruments(ins),
	}

	// Policy rules, compiled to CEL programs at boot.
	if cfg.PolicyDir != "" {
		rules, err := policy.LoadRules(cfg.PolicyDir)
		if err != nil {
			logger.Error("policy load failed", "dir", cfg.PolicyDir, "error", err)
			return 1
		}
		enforcer, err := policy.NewCELEnforcer(rules)
		if err != nil {
			logger.Error("policy compile failed", "error", err)
			return 1
		}
		condOpts = append(condOpts, conductor.WithPolicy(enforcer))
		logger.Info("policy rules ready", "count", len(rules))
	}

	// Session store, Redis when configured.
	if cfg.RedisAddr != "" {
		sessions := conductor.NewRedisStore(cfg.RedisAddr, "", 0)
		defer sessions.Close()
		condOpts = append(condOpts, conductor.WithSessions(sessions))
		logger.Info("session store ready", "backend", "redis", "addr", cfg.RedisAddr)
	}

	// Executors are registered by embedders; the bare server runs every
	// gate and reports NOT_IMPLEMENTED at dispatch.
	cond := conductor.New(reg, executor.NewSet(), condOpts...)

	// Token verification: shared HS256 secret when configured, otherwise a
	// fresh ed25519 key with a printed dev token.
	var keySet auth.KeySet
	if cfg.JWTSecret != "" {
		keySet, err = auth.NewHMACKeySet([]byte(cfg.JWTSecret))
		if err != nil {
			logger.Error("keyset init failed", "error", err)
			return 1
		}
	} else {
		ks, err := auth.NewInMemoryKeySet()
		if err != nil {
			logger.Error("keyset init failed", "error", err)
			return 1
		}
		keySet = ks
		now := time.Now()
		devToken, err := ks.Sign(ctx, &auth.Claims{
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   "dev-operator",
				IssuedAt:  jwt.NewNumericDate(now),
				ExpiresAt: jwt.NewNumericDate(now.Add(24 * time.Hour)),
			},
			TenantID: "dev",
			Roles:    []string{authz.AdminRole},
		})
		if err != nil {
			logger.Error("dev token mint failed", "error", err)
			return 1
		}
		fmt.Fprintf(stdout, "%sDev token:%s %s\n", ColorBold+ColorYellow, ColorReset, devToken)
	}

	srvOpts := []api.Option{
		api.WithAuthz(graph),
		api.WithApprovals(approvals),
		api.WithValidator(auth.NewJWTValidator(keySet)),
		api.WithRateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst),
		api.WithVersion(cfg.Version),
	}
	if len(cfg.CORSOrigins) > 0 {
		srvOpts = append(srvOpts, api.WithCORSOrigins(cfg.CORSOrigins))
	}
	if db != nil {
		idem := api.NewPostgresIdempotencyStore(db, cfg.IdempotencyTTL)
		if err := idem.Init(ctx); err != nil {
			logger.Error("idempotency store init failed", "error", err)
			return 1
		}
		srvOpts = append(srvOpts, api.WithIdempotency(idem))
	} else {
		srvOpts = append(srvOpts, api.WithIdempotency(api.NewIdempotencyStore(cfg.IdempotencyTTL)))
	}

	srv := api.NewServer(cond, reg, srvOpts...)
	logger.Info("baton ready", "addr", cfg.Addr, "orchestras", len(reg.ListActive()))
	if err := srv.ListenAndServe(ctx, cfg.Addr); err != nil {
		logger.Error("server failed", "error", err)
		return 1
	}
	logger.Info("shutdown complete")
	return 0
}

// seedManifests registers every manifest file under dir. os.ReadDir returns
// entries in lexical order, so reseeding is deterministic.
func seedManifests(ctx context.Context, reg *registry.Registry, dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch filepath.Ext(e.Name()) {
		case ".yaml", ".yml", ".json":
		default:
			continue
		}
		if _, err := reg.RegisterFile(ctx, filepath.Join(dir, e.Name())); err != nil {
			return n, fmt.Errorf("%s: %w", e.Name(), err)
		}
		n++
	}
	return n, nil
}

func runValidateCmd(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		fmt.Fprintln(stderr, "Usage: baton validate <manifest-file>")
		return 2
	}
	path := args[0]

	m, err := manifest.Load(path)
	if err != nil {
		var ve *manifest.ValidationError
		if errors.As(err, &ve) {
			fmt.Fprintf(stderr, "%s❌ Validation failed: %s%s\n", ColorBold+ColorRed, path, ColorReset)
			for _, fe := range ve.Errors {
				field := fe.Field
				if field == "" {
					field = "-"
				}
				fmt.Fprintf(stderr, "   %s%-30s%s %s: %s\n", ColorYellow, fe.Code, ColorReset, field, fe.Message)
			}
			return 1
		}
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	fmt.Fprintf(stdout, "✅ Manifest valid: %s\n", path)
	fmt.Fprintf(stdout, "   Domain:  %s\n", m.Domain)
	fmt.Fprintf(stdout, "   Version: %s\n", m.Version)
	fmt.Fprintf(stdout, "   Agents:  %d\n", len(m.Agents))
	if len(m.DependsOn) > 0 {
		deps := make([]string, len(m.DependsOn))
		for i, d := range m.DependsOn {
			deps[i] = string(d)
		}
		fmt.Fprintf(stdout, "   Depends: %s\n", strings.Join(deps, ", "))
	}
	return 0
}

func runHealthCmd(out, errOut io.Writer) int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(errOut, "Configuration error: %v\n", err)
		return 1
	}
	target := cfg.Addr
	if strings.HasPrefix(target, ":") {
		target = "localhost" + target
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get("http://" + target + "/health")
	if err != nil {
		fmt.Fprintf(errOut, "Health check failed: %v\n", err)
		return 1
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(errOut, "Health check failed: status %d\n", resp.StatusCode)
		return 1
	}

	fmt.Fprintln(out, "OK")
	return 0
}
