package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/scrtlabs/attesthub/internal/baseline"
	"github.com/scrtlabs/attesthub/internal/cache"
	"github.com/scrtlabs/attesthub/internal/logx"
	"github.com/scrtlabs/attesthub/internal/server/db"
	"github.com/scrtlabs/attesthub/internal/version"
)

// HandleStatus handles GET /status with per-VM verification history and
// cache occupancy.
func HandleStatus(registry *baseline.Registry, ca *cache.Cache, store *db.Store, ttl time.Duration, startedAt time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		type vmStatus struct {
			Identity     string     `json:"identity"`
			Cached       bool       `json:"cached"`
			LastVerified *time.Time `json:"last_verified,omitempty"`
		}

		var vms []vmStatus
		for _, id := range registry.Identities() {
			s := vmStatus{Identity: id}
			_, s.Cached = ca.Get(id)
			if store != nil {
				if ts, ok, err := store.LastVerified(id); err != nil {
					logx.Warnf("status: last verified for %s: %v", id, err)
				} else if ok {
					s.LastVerified = &ts
				}
			}
			vms = append(vms, s)
		}

		c.JSON(http.StatusOK, gin.H{
			"service":           "attesthub",
			"version":           version.Version,
			"uptime_seconds":    int64(time.Since(startedAt).Seconds()),
			"cache_entries":     ca.Len(),
			"cache_ttl_seconds": int64(ttl.Seconds()),
			"vms":               vms,
		})
	}
}

// HandleListProofs handles GET /proofs.
func HandleListProofs(store *db.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := 0
		if v := c.Query("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
				return
			}
			limit = n
		}
		proofs, err := store.ListProofs(limit)
		if err != nil {
			logx.Errorf("list proofs: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list proofs"})
			return
		}
		if proofs == nil {
			proofs = []db.ProofRecord{}
		}
		c.JSON(http.StatusOK, gin.H{"proofs": proofs, "count": len(proofs)})
	}
}
