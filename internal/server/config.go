package server

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/scrtlabs/attesthub/internal/proof"
)

// Config holds hub configuration loaded from environment variables.
type Config struct {
	ListenAddr     string
	ConfigPath     string
	DBPath         string
	CacheTTL       time.Duration
	AttestTimeout  time.Duration
	KDFIterations  int
	MinPasswordLen int
	CORSOrigins    []string

	SelfVM string
	PeerVM string

	// SelfEndpoint and PeerEndpoint, when set, override the endpoints from
	// the VM configuration file.
	SelfEndpoint string
	PeerEndpoint string

	GatewayHost string
	AttestPort  int
	AttestPath  string

	// AdminToken, when set, gates the proof-history endpoint.
	AdminToken string
}

// LoadConfig loads hub configuration from environment variables.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		ListenAddr:   envOr("ATTESTHUB_LISTEN_ADDR", ":8080"),
		ConfigPath:   envOr("ATTESTHUB_CONFIG_PATH", "vm_configs.yaml"),
		DBPath:       envOr("ATTESTHUB_DB_PATH", "attesthub.db"),
		SelfVM:       envOr("ATTESTHUB_SELF_VM", "secretgpt"),
		PeerVM:       envOr("ATTESTHUB_PEER_VM", "secretai"),
		SelfEndpoint: os.Getenv("ATTESTHUB_SELF_ENDPOINT"),
		PeerEndpoint: os.Getenv("ATTESTHUB_PEER_ENDPOINT"),
		GatewayHost:  envOr("ATTESTHUB_GATEWAY_HOST", "host.docker.internal"),
		AttestPath:   envOr("ATTESTHUB_ATTEST_PATH", "/cpu.html"),
	}

	ttlSec, err := envInt("ATTESTHUB_CACHE_TTL", 300)
	if err != nil {
		return nil, err
	}
	if ttlSec <= 0 {
		return nil, fmt.Errorf("ATTESTHUB_CACHE_TTL must be positive")
	}
	cfg.CacheTTL = time.Duration(ttlSec) * time.Second

	timeoutSec, err := envInt("ATTESTHUB_ATTEST_TIMEOUT", 30)
	if err != nil {
		return nil, err
	}
	if timeoutSec <= 0 {
		return nil, fmt.Errorf("ATTESTHUB_ATTEST_TIMEOUT must be positive")
	}
	cfg.AttestTimeout = time.Duration(timeoutSec) * time.Second

	if cfg.KDFIterations, err = envInt("ATTESTHUB_KDF_ITERATIONS", proof.DefaultIterations); err != nil {
		return nil, err
	}
	if cfg.KDFIterations < 1000 {
		return nil, fmt.Errorf("ATTESTHUB_KDF_ITERATIONS must be at least 1000")
	}

	if cfg.MinPasswordLen, err = envInt("ATTESTHUB_MIN_PASSWORD_LEN", proof.DefaultMinPasswordLen); err != nil {
		return nil, err
	}
	if cfg.MinPasswordLen < 1 {
		return nil, fmt.Errorf("ATTESTHUB_MIN_PASSWORD_LEN must be positive")
	}

	if cfg.AttestPort, err = envInt("ATTESTHUB_ATTEST_PORT", 29343); err != nil {
		return nil, err
	}
	if cfg.AttestPort < 1 || cfg.AttestPort > 65535 {
		return nil, fmt.Errorf("ATTESTHUB_ATTEST_PORT must be a valid port")
	}

	cfg.AdminToken = os.Getenv("ATTESTHUB_ADMIN_TOKEN")
	if cfg.AdminToken != "" && len(cfg.AdminToken) < 16 {
		return nil, fmt.Errorf("ATTESTHUB_ADMIN_TOKEN must be at least 16 characters")
	}

	if v := os.Getenv("ATTESTHUB_CORS_ORIGINS"); v != "" {
		for _, o := range strings.Split(v, ",") {
			o = strings.TrimSpace(o)
			if o != "" {
				cfg.CORSOrigins = append(cfg.CORSOrigins, o)
			}
		}
	}

	return cfg, nil
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return n, nil
}
