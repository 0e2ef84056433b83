package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/scrtlabs/attesthub/internal/dual"
	"github.com/scrtlabs/attesthub/internal/fetch"
	"github.com/scrtlabs/attesthub/internal/logx"
	"github.com/scrtlabs/attesthub/internal/quote"
)

// HandleAttestVM handles GET /attestation/:vm.
func HandleAttestVM(coord *dual.Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity := c.Param("vm")
		entry, err := coord.Attest(c.Request.Context(), identity)
		if err != nil {
			status, msg := classifyAttestError(err)
			logx.Warnf("attest %s: %v", identity, err)
			c.JSON(status, gin.H{"error": msg, "error_kind": errorKind(err)})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"vm_identity":  identity,
			"verdict":      entry.Verdict,
			"measurements": entry.Measurements,
			"verified_at":  entry.VerifiedAt,
		})
	}
}

// HandleDualAttestation handles GET /attestation/dual. A failed side is
// reported inside its slot; the call itself always succeeds.
func HandleDualAttestation(coord *dual.Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, coord.Dual(c.Request.Context()))
	}
}

func classifyAttestError(err error) (int, string) {
	var pe *quote.ParseError
	switch {
	case errors.Is(err, dual.ErrUnknownVM):
		return http.StatusNotFound, err.Error()
	case errors.As(err, &pe):
		return http.StatusBadGateway, "attestation quote could not be parsed"
	case fetch.KindOf(err) != "":
		return http.StatusBadGateway, "attestation endpoint could not be reached"
	case errors.Is(err, fetch.ErrNoEndpoint), errors.Is(err, fetch.ErrNoQuoteInResponse):
		return http.StatusBadGateway, err.Error()
	default:
		return http.StatusInternalServerError, "attestation failed"
	}
}

func errorKind(err error) string {
	if kind := fetch.KindOf(err); kind != "" {
		return string(kind)
	}
	var pe *quote.ParseError
	if errors.As(err, &pe) {
		return string(pe.Kind)
	}
	return ""
}
