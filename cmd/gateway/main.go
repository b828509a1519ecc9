package main

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/amakua/uapk-gateway/pkg/api"
	"github.com/amakua/uapk-gateway/pkg/approval"
	"github.com/amakua/uapk-gateway/pkg/audit"
	"github.com/amakua/uapk-gateway/pkg/auth"
	"github.com/amakua/uapk-gateway/pkg/budget"
	"github.com/amakua/uapk-gateway/pkg/captoken"
	"github.com/amakua/uapk-gateway/pkg/config"
	"github.com/amakua/uapk-gateway/pkg/connector"
	"github.com/amakua/uapk-gateway/pkg/crypto"
	"github.com/amakua/uapk-gateway/pkg/gateway"
	"github.com/amakua/uapk-gateway/pkg/identity"
	"github.com/amakua/uapk-gateway/pkg/manifeststore"
	"github.com/amakua/uapk-gateway/pkg/observability"
	"github.com/amakua/uapk-gateway/pkg/pgstore"
	"github.com/amakua/uapk-gateway/pkg/policy"
	"github.com/amakua/uapk-gateway/pkg/secret"
	"github.com/amakua/uapk-gateway/pkg/seed"
	"github.com/amakua/uapk-gateway/pkg/sqlitestore"
	"github.com/amakua/uapk-gateway/pkg/tenants"
	"github.com/amakua/uapk-gateway/pkg/toolregistry"

	_ "github.com/lib/pq" // Postgres driver
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// startServer is a variable so tests can stub it out without binding a
// real listener.
var startServer = runServer

// Run is the gateway binary's entrypoint, factored out of main so tests can
// drive it with captured stdout/stderr instead of the process's own.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		startServer()
		return 0
	}

	switch args[1] {
	case "server", "serve":
		startServer()
		return 0
	case "health":
		return runHealthCmd(stdout, stderr)
	case "seed":
		return runSeedCmd(args[2:], stdout, stderr)
	case "version":
		fmt.Fprintln(stdout, "uapk-gateway v0.1.0")
		return 0
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		if args[1][0] == '-' {
			startServer()
			return 0
		}
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

const (
	ColorReset  = "\033[0m"
	ColorBold   = "\033[1m"
	ColorGreen  = "\033[32m"
	ColorBlue   = "\033[34m"
	ColorCyan   = "\033[36m"
	ColorGray   = "\033[37m"
)

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "%sAgent Interaction Gateway%s\n", ColorBold+ColorBlue, ColorReset)
	fmt.Fprintf(w, "%sAgents propose actions. The gateway admits or denies them.%s\n", ColorGray, ColorReset)
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "%sUSAGE:%s\n", ColorBold, ColorReset)
	fmt.Fprintln(w, "  gateway <command> [flags]")
	fmt.Fprintln(w, "")

	printSection(w, "SERVER")
	printCommand(w, "server", "Run the gateway HTTP server (default)")
	printCommand(w, "health", "Check server health (HTTP)")

	printSection(w, "DATA")
	printCommand(w, "seed", "Load demonstration manifests/policies (--org, --user, --dir)")

	printSection(w, "UTILITIES")
	printCommand(w, "version", "Show version information")
	printCommand(w, "help", "Show this help")
	fmt.Fprintln(w, "")
}

func printSection(w io.Writer, title string) {
	fmt.Fprintf(w, "%s%s:%s\n", ColorBold+ColorCyan, title, ColorReset)
}

func printCommand(w io.Writer, name, desc string) {
	fmt.Fprintf(w, "  %s%-10s%s %s\n", ColorGreen, name, ColorReset, desc)
}

func runHealthCmd(out, errOut io.Writer) int {
	resp, err := http.Get("http://localhost:8081/healthz")
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

// runSeedCmd loads manifest_*.yaml/policy_*.yaml fixtures from --dir into an
// existing org, reusing the same store-selection logic runServer uses so
// seeding targets whatever backend DATABASE_URL points at.
func runSeedCmd(args []string, stdout, stderr io.Writer) int {
	var dir, orgID, userID string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--dir":
			i++
			if i < len(args) {
				dir = args[i]
			}
		case "--org":
			i++
			if i < len(args) {
				orgID = args[i]
			}
		case "--user":
			i++
			if i < len(args) {
				userID = args[i]
			}
		}
	}
	if dir == "" || orgID == "" {
		fmt.Fprintln(stderr, "Usage: gateway seed --dir <fixtures-dir> --org <org-id> [--user <user-id>]")
		return 2
	}

	cfg := config.Load()
	ctx := context.Background()
	db, _, manifests, _, policyAdmin, _, _, _, _, _, err := openStores(ctx, cfg)
	if err != nil {
		fmt.Fprintf(stderr, "seed: %v\n", err)
		return 1
	}
	defer db.Close()

	manifestFixtures, err := seed.LoadManifestFixtures(dir, map[string]string{"ORG_ID": orgID})
	if err != nil {
		fmt.Fprintf(stderr, "seed: %v\n", err)
		return 1
	}
	policyFixtures, err := seed.LoadPolicyFixtures(dir, map[string]string{"ORG_ID": orgID})
	if err != nil {
		fmt.Fprintf(stderr, "seed: %v\n", err)
		return 1
	}
	if err := seed.Seed(manifests, policyAdmin, orgID, userID, manifestFixtures, policyFixtures); err != nil {
		fmt.Fprintf(stderr, "seed: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "seeded %d manifest(s) and %d polic(ies) into org %s\n",
		len(manifestFixtures), len(policyFixtures), orgID)
	return 0
}

// openStores selects Postgres or SQLite ("Lite Mode") based on
// cfg.DatabaseURL and constructs every store-backed collaborator the
// pipeline and API layer need, returning the narrow set runServer/runSeedCmd
// each use. The big positional return keeps this the single place that
// knows which concrete store package backs which interface.
func openStores(ctx context.Context, cfg *config.Config) (
	db *sql.DB,
	tokenStore captoken.Store,
	manifests *manifeststore.Registry,
	policies *policy.Engine,
	policyAdmin api.PolicyAdminStore,
	budgetChecker *budget.Checker,
	approvalStore approval.Store,
	auditStore audit.Store,
	secretStore secret.Store,
	provisioner tenants.Provisioner,
	err error,
) {
	liteMode := cfg.DatabaseURL == "" || cfg.DatabaseURL == "lite"
	if liteMode {
		db, err = sql.Open("sqlite", "file:gateway.db?_pragma=foreign_keys(1)")
		if err != nil {
			err = fmt.Errorf("open sqlite: %w", err)
			return
		}
		if err = sqlitestore.Migrate(db); err != nil {
			err = fmt.Errorf("migrate sqlite: %w", err)
			return
		}
		log.Println("[gateway] sqlite: lite mode ready")

		tokenStore = sqlitestore.NewTokenStore(db)
		manifestBackend := sqlitestore.NewManifestStore(db)
		manifests = manifeststore.NewRegistry(manifestBackend)
		policyBackend := sqlitestore.NewPolicyStore(db)
		policies = policy.NewEngine(policyBackend)
		policyAdmin = policyBackend
		budgetBackend := sqlitestore.NewBudgetStore(db)
		budgetChecker = budget.NewChecker(budgetBackend)
		approvalStore = sqlitestore.NewApprovalStore(db)
		auditBackend := sqlitestore.NewAuditStore(db)
		auditStore = auditBackend
		secretStore = sqlitestore.NewSecretStore(db)

		provisioner = tenants.NewSQLiteProvisioner(db)
		return
	}

	db, err = sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		err = fmt.Errorf("open postgres: %w", err)
		return
	}
	if err = db.PingContext(ctx); err != nil {
		err = fmt.Errorf("ping postgres: %w", err)
		return
	}
	log.Println("[gateway] postgres: connected")

	tokenStore = pgstore.NewTokenStore(db)
	manifestBackend := pgstore.NewManifestStore(db)
	manifests = manifeststore.NewRegistry(manifestBackend)
	policyBackend := pgstore.NewPolicyStore(db)
	policies = policy.NewEngine(policyBackend)
	policyAdmin = policyBackend
	budgetBackend := pgstore.NewBudgetStore(db)
	budgetChecker = budget.NewChecker(budgetBackend)
	approvalStore = pgstore.NewApprovalStore(db)
	auditBackend := pgstore.NewAuditStore(db)
	auditStore = auditBackend
	secretStore = pgstore.NewSecretStore(db)

	tenantsProv := tenants.NewPostgresProvisioner(db)
	if initErr := tenantsProv.Init(ctx); initErr != nil {
		err = fmt.Errorf("init tenants schema: %w", initErr)
		return
	}
	provisioner = tenantsProv
	return
}

func runServer() {
	fmt.Fprintf(os.Stdout, "%sAgent Interaction Gateway starting...%s\n", ColorBold+ColorBlue, ColorReset)
	ctx := context.Background()
	cfg := config.Load()
	if cfg.JWTAlgorithm != "EdDSA" {
		log.Fatalf("[gateway] JWT_ALGORITHM must be EdDSA, got %q", cfg.JWTAlgorithm)
	}

	db, tokenStore, manifests, policyEngine, policyAdmin, budgetChecker, approvalStore, auditStore,
		secretStore, provisioner, err := openStores(ctx, cfg)
	if err != nil {
		log.Fatalf("[gateway] store setup failed: %v", err)
	}
	defer db.Close()

	// Session/capability token signing key. A fresh key each boot is fine
	// for capability tokens (short TTL, reissued on demand); it means
	// sessions minted before a restart stop verifying, the same tradeoff
	// the teacher's in-memory trust root accepts.
	sessionKeys, err := identity.NewInMemoryKeySet()
	if err != nil {
		log.Fatalf("[gateway] failed to init session keyset: %v", err)
	}
	sessionCodec := captoken.NewCodec(sessionKeys)
	tokenIssuer := captoken.NewIssuer(tokenStore, manifests, sessionCodec)
	approvals := approval.NewService(approvalStore, sessionCodec)

	cipher, err := secretCipher(cfg)
	if err != nil {
		log.Fatalf("[gateway] failed to init secret cipher: %v", err)
	}
	secretResolver := secret.NewResolver(secretStore, cipher)

	connectors := connector.NewRegistry(cfg.GatewayAllowedWebhookDomains,
		time.Duration(cfg.GatewayConnectorTimeoutSeconds)*time.Second)

	toolRegistry := toolregistry.NewEmptyStatic()
	if cfg.ToolRegistryPath != "" {
		toolRegistry, err = toolregistry.LoadStatic(cfg.ToolRegistryPath)
		if err != nil {
			log.Fatalf("[gateway] failed to load tool registry: %v", err)
		}
	}

	keyRing := crypto.NewKeyRing()
	auditSigner, err := crypto.NewEd25519Signer("gw-1")
	if err != nil {
		log.Fatalf("[gateway] failed to init audit signing key: %v", err)
	}
	keyRing.AddKey(auditSigner)
	auditEngine := audit.NewEngine(auditStore, keyRing)
	exporter := audit.NewExporter(auditEngine, manifests)

	var obsProvider *observability.Provider
	if cfg.OTELEnabled {
		obsCfg := observability.DefaultConfig()
		obsCfg.ServiceName = "uapk-gateway"
		obsCfg.OTLPEndpoint = cfg.OTELExporterEndpoint
		obsCfg.Insecure = true
		obsProvider, err = observability.New(ctx, obsCfg)
		if err != nil {
			log.Printf("[gateway] observability disabled: %v", err)
			obsProvider = nil
		}
	}

	pipeline := gateway.NewPipeline(
		tokenStore, sessionCodec, manifests, policyEngine, budgetChecker, approvals,
		connectors, toolRegistry, secretResolver, auditEngine,
	)
	pipeline.Observability = obsProvider

	membership := auth.NewTenantMembershipLookup(provisioner)

	idempotency := idempotencyStore(cfg)

	deps := &api.Dependencies{
		Pipeline:       pipeline,
		Manifests:      manifests,
		Tokens:         tokenIssuer,
		TokenStore:     tokenStore,
		Policies:       policyAdmin,
		Approvals:      approvals,
		Audit:          auditEngine,
		AuditStore:     auditStore,
		Exporter:       exporter,
		SessionKeys:    sessionCodec,
		GatewayKeys:    sessionKeys,
		Membership:     membership,
		Tenants:        provisioner,
		SessionTTL:     time.Duration(cfg.JWTExpirationMinutes) * time.Minute,
		Idempotency:    idempotency,
		IdempotencyTTL: 24 * time.Hour,
	}

	mux := api.NewRouter(deps)

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: mux}
	go func() {
		log.Printf("[gateway] http: listening on :%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[gateway] http server error: %v", err)
		}
	}()

	healthMux := http.NewServeMux()
	healthMux.HandleFunc("/healthz", api.HandleHealthz)
	go func() {
		log.Printf("[gateway] health server: :8081")
		//nolint:gosec // intentionally listening on all interfaces
		if err := http.ListenAndServe(":8081", healthMux); err != nil {
			log.Printf("[gateway] health server error: %v", err)
		}
	}()

	log.Printf("[gateway] ready: http://localhost:%s\n", cfg.Port)
	log.Println("[gateway] press ctrl+c to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	log.Println("[gateway] shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[gateway] graceful shutdown failed: %v", err)
	}
	if obsProvider != nil {
		_ = obsProvider.Shutdown(shutdownCtx)
	}
}

// secretCipher derives the AES-256-GCM key backing pkg/secret from
// GATEWAY_FERNET_KEY (base64), or generates an ephemeral one for Lite Mode
// when unset — secrets saved against an ephemeral key don't survive a
// restart, which is acceptable for a local/demo deployment but not
// production (an operator must set the env var there).
func secretCipher(cfg *config.Config) (*secret.Cipher, error) {
	if cfg.GatewaySecretKeyB64 == "" {
		log.Println("[gateway] GATEWAY_FERNET_KEY not set, generating an ephemeral secret-encryption key (Lite Mode only)")
		key := make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generate ephemeral secret key: %w", err)
		}
		return secret.NewCipher(key)
	}
	key, err := base64.StdEncoding.DecodeString(cfg.GatewaySecretKeyB64)
	if err != nil {
		return nil, fmt.Errorf("decode GATEWAY_FERNET_KEY: %w", err)
	}
	return secret.NewCipher(key)
}

// idempotencyStore backs POST /actions idempotency-key replay with Redis
// when REDIS_URL is configured, falling back to the in-memory store
// otherwise (single-instance/dev deployments don't need a Redis dependency).
func idempotencyStore(cfg *config.Config) api.IdempotencyStorer {
	if cfg.RedisURL == "" {
		return api.NewIdempotencyStore(24 * time.Hour)
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Printf("[gateway] invalid REDIS_URL, falling back to in-memory idempotency store: %v", err)
		return api.NewIdempotencyStore(24 * time.Hour)
	}
	client := redis.NewClient(opts)
	return api.NewRedisIdempotencyStore(client, 24*time.Hour)
}
