package server

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/scrtlabs/attesthub/internal/baseline"
	"github.com/scrtlabs/attesthub/internal/cache"
	"github.com/scrtlabs/attesthub/internal/dual"
	"github.com/scrtlabs/attesthub/internal/proof"
	"github.com/scrtlabs/attesthub/internal/server/db"
	"github.com/scrtlabs/attesthub/internal/server/handler"
)

// Deps are the assembled components the router exposes over HTTP.
type Deps struct {
	Registry    *baseline.Registry
	Cache       *cache.Cache
	Coordinator *dual.Coordinator
	Engine      *proof.Engine
	Store       *db.Store
	StartedAt   time.Time
}

// NewRouter creates and configures the Gin router with all routes.
func NewRouter(d Deps, cfg *Config) *gin.Engine {
	r := gin.Default()

	if len(cfg.CORSOrigins) > 0 {
		r.Use(CORS(cfg.CORSOrigins))
	}

	r.GET("/", func(c *gin.Context) {
		c.String(200, "ok")
	})

	r.GET("/status", handler.HandleStatus(d.Registry, d.Cache, d.Store, cfg.CacheTTL, d.StartedAt))

	// The literal segment must be registered before the :vm wildcard.
	r.GET("/attestation/dual", handler.HandleDualAttestation(d.Coordinator))
	r.GET("/attestation/:vm", handler.HandleAttestVM(d.Coordinator))

	r.POST("/proof/generate", handler.HandleGenerateProof(d.Coordinator, d.Engine, d.Store))
	r.POST("/proof/verify", handler.HandleVerifyProof(d.Engine))

	// Proof history is metadata only; gate it when an admin token is set.
	if cfg.AdminToken != "" {
		r.GET("/proofs", AdminAuth(cfg.AdminToken), handler.HandleListProofs(d.Store))
	} else {
		r.GET("/proofs", handler.HandleListProofs(d.Store))
	}

	return r
}
