package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/scrtlabs/attesthub/internal/baseline"
	"github.com/scrtlabs/attesthub/internal/cache"
	"github.com/scrtlabs/attesthub/internal/dual"
	"github.com/scrtlabs/attesthub/internal/fetch"
	"github.com/scrtlabs/attesthub/internal/logx"
	"github.com/scrtlabs/attesthub/internal/proof"
	"github.com/scrtlabs/attesthub/internal/server"
	"github.com/scrtlabs/attesthub/internal/server/db"
	"github.com/scrtlabs/attesthub/internal/version"
)

func main() {
	showVersion := flag.Bool("version", false, "Print version and exit")
	verbose := flag.Bool("verbose", false, "Enable verbose debug logs (same as --log-level debug)")
	logLevel := flag.String("log-level", "", "Log level: debug|info|warn|error (or ATTESTHUB_LOG_LEVEL)")
	envFile := flag.String("env-file", "", "Load environment variables from this file before reading config")
	flag.BoolVar(showVersion, "v", false, "Print version and exit")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "%s\n\n", version.String("attesthub-server"))
		fmt.Fprintf(os.Stderr, "Attesthub verifies TDX attestations of the two VMs in a deployment and\nseals conversations into password-encrypted proof artifacts.\n\n")
		fmt.Fprintf(os.Stderr, "Environment variables:\n")
		fmt.Fprintf(os.Stderr, "  ATTESTHUB_LISTEN_ADDR       Listen address (default: :8080)\n")
		fmt.Fprintf(os.Stderr, "  ATTESTHUB_CONFIG_PATH       VM configuration YAML (default: vm_configs.yaml)\n")
		fmt.Fprintf(os.Stderr, "  ATTESTHUB_DB_PATH           SQLite database path (default: attesthub.db)\n")
		fmt.Fprintf(os.Stderr, "  ATTESTHUB_CACHE_TTL         Attestation cache TTL in seconds (default: 300)\n")
		fmt.Fprintf(os.Stderr, "  ATTESTHUB_ATTEST_TIMEOUT    Attestation fetch timeout in seconds (default: 30)\n")
		fmt.Fprintf(os.Stderr, "  ATTESTHUB_KDF_ITERATIONS    PBKDF2 iterations for proof artifacts (default: 100000)\n")
		fmt.Fprintf(os.Stderr, "  ATTESTHUB_MIN_PASSWORD_LEN  Minimum proof password length (default: 8)\n")
		fmt.Fprintf(os.Stderr, "  ATTESTHUB_SELF_VM           Identity of the hub's own VM (default: secretgpt)\n")
		fmt.Fprintf(os.Stderr, "  ATTESTHUB_PEER_VM           Identity of the AI-serving VM (default: secretai)\n")
		fmt.Fprintf(os.Stderr, "  ATTESTHUB_SELF_ENDPOINT     Override the self VM attestation endpoint URL\n")
		fmt.Fprintf(os.Stderr, "  ATTESTHUB_PEER_ENDPOINT     Override the peer VM attestation endpoint URL\n")
		fmt.Fprintf(os.Stderr, "  ATTESTHUB_GATEWAY_HOST      Gateway host for endpoint discovery (default: host.docker.internal)\n")
		fmt.Fprintf(os.Stderr, "  ATTESTHUB_ATTEST_PORT       Attestation endpoint port (default: 29343)\n")
		fmt.Fprintf(os.Stderr, "  ATTESTHUB_ATTEST_PATH       Attestation endpoint path (default: /cpu.html)\n")
		fmt.Fprintf(os.Stderr, "  ATTESTHUB_CORS_ORIGINS      Comma-separated allowed browser origins\n")
		fmt.Fprintf(os.Stderr, "  ATTESTHUB_ADMIN_TOKEN       Bearer token gating GET /proofs (optional, min 16 chars)\n")
		fmt.Fprintf(os.Stderr, "  ATTESTHUB_LOG_LEVEL         Log level: debug|info|warn|error (default: info)\n")
		fmt.Fprintf(os.Stderr, "\nFlags:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String("attesthub-server"))
		os.Exit(0)
	}

	if *envFile != "" {
		if err := godotenv.Load(*envFile); err != nil {
			log.Fatalf("load env file: %v", err)
		}
	} else {
		// Best-effort .env load; absence is fine.
		_ = godotenv.Load()
	}

	if err := logx.Configure(*logLevel, *verbose); err != nil {
		log.Fatalf("configure logging: %v", err)
	}

	cfg, err := server.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	registry, err := baseline.LoadFile(cfg.ConfigPath)
	if err != nil {
		log.Fatalf("load vm config: %v", err)
	}
	applyEndpointOverride(registry, cfg.SelfVM, cfg.SelfEndpoint)
	applyEndpointOverride(registry, cfg.PeerVM, cfg.PeerEndpoint)

	store, err := db.NewStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer store.Close()

	ca := cache.New(cfg.CacheTTL)
	fetcher := fetch.NewFetcher(cfg.AttestTimeout)
	coord := dual.NewCoordinator(registry, fetcher, ca, cfg.SelfVM, cfg.PeerVM, dual.Options{
		GatewayHost: cfg.GatewayHost,
		AttestPort:  cfg.AttestPort,
		AttestPath:  cfg.AttestPath,
	})
	coord.SetRecorder(store)

	r := server.NewRouter(server.Deps{
		Registry:    registry,
		Cache:       ca,
		Coordinator: coord,
		Engine:      proof.NewEngine(cfg.KDFIterations, cfg.MinPasswordLen),
		Store:       store,
		StartedAt:   time.Now(),
	}, cfg)

	logx.Infof("hub config: self=%s peer=%s cache_ttl=%s", cfg.SelfVM, cfg.PeerVM, cfg.CacheTTL)
	log.Printf("attesthub-server listening on %s", cfg.ListenAddr)
	if err := r.Run(cfg.ListenAddr); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func applyEndpointOverride(registry *baseline.Registry, identity, endpoint string) {
	if endpoint == "" {
		return
	}
	vm, ok := registry.VM(identity)
	if !ok {
		log.Fatalf("endpoint override for %q: vm not declared in config file", identity)
	}
	vm.Endpoint = endpoint
	registry.SetVM(identity, vm)
}
