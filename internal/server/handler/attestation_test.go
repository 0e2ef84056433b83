package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/scrtlabs/attesthub/internal/dual"
)

func TestAttestVM_Verified(t *testing.T) {
	fx := newFixture(t)
	r := gin.New()
	r.GET("/attestation/:vm", HandleAttestVM(fx.coord))

	req := httptest.NewRequest(http.MethodGet, "/attestation/secretgpt", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", w.Code, w.Body.String())
	}
	var resp struct {
		Identity string `json:"vm_identity"`
		Verdict  struct {
			Passed bool `json:"passed"`
		} `json:"verdict"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Identity != "secretgpt" || !resp.Verdict.Passed {
		t.Fatalf("unexpected response: %s", w.Body.String())
	}
}

func TestAttestVM_Unknown(t *testing.T) {
	fx := newFixture(t)
	r := gin.New()
	r.GET("/attestation/:vm", HandleAttestVM(fx.coord))

	req := httptest.NewRequest(http.MethodGet, "/attestation/nosuch", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d body=%s", w.Code, w.Body.String())
	}
}

func TestAttestVM_Unreachable(t *testing.T) {
	fx := newFixture(t)
	fx.coord = unreachablePeerCoordinator(t, fx)
	r := gin.New()
	r.GET("/attestation/:vm", HandleAttestVM(fx.coord))

	req := httptest.NewRequest(http.MethodGet, "/attestation/secretai", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d body=%s", w.Code, w.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["error_kind"] != "endpoint_unreachable" {
		t.Fatalf("unexpected error_kind %q", resp["error_kind"])
	}
}

func TestDualAttestation_PartialFailure(t *testing.T) {
	fx := newFixture(t)
	fx.coord = unreachablePeerCoordinator(t, fx)
	r := gin.New()
	r.GET("/attestation/dual", HandleDualAttestation(fx.coord))

	req := httptest.NewRequest(http.MethodGet, "/attestation/dual", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var res dual.Result
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if res.OverallVerified {
		t.Fatal("overall must not be verified with one side down")
	}
	if res.SelfVM.Verdict == nil || !res.SelfVM.Verdict.Passed {
		t.Fatalf("healthy side should still verify: %+v", res.SelfVM)
	}
	if res.PeerVM.Error == "" {
		t.Fatal("failed side should carry an error")
	}
	if res.CorrelationID == "" {
		t.Fatal("expected a correlation id")
	}
}
