package handler

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func multipartBody(t *testing.T, fields map[string]string, fileField string, fileBytes []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("write field %s: %v", k, err)
		}
	}
	if fileField != "" {
		fw, err := mw.CreateFormFile(fileField, "proof.attestproof")
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		if _, err := fw.Write(fileBytes); err != nil {
			t.Fatalf("write file: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

func generateArtifact(t *testing.T, fx *fixture, password string) []byte {
	t.Helper()
	r := gin.New()
	r.POST("/proof/generate", HandleGenerateProof(fx.coord, fx.engine, fx.store))

	body, ctype := multipartBody(t, map[string]string{
		"question": "What model are you running?",
		"answer":   "A verified one.",
		"password": password,
	}, "", nil)
	req := httptest.NewRequest(http.MethodPost, "/proof/generate", body)
	req.Header.Set("Content-Type", ctype)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("generate: expected 200, got %d body=%s", w.Code, w.Body.String())
	}
	if cd := w.Header().Get("Content-Disposition"); !strings.Contains(cd, ".attestproof") {
		t.Fatalf("unexpected Content-Disposition %q", cd)
	}
	return w.Body.Bytes()
}

func TestProof_GenerateAndVerify(t *testing.T) {
	fx := newFixture(t)
	artifact := generateArtifact(t, fx, "correct-horse")

	r := gin.New()
	r.POST("/proof/verify", HandleVerifyProof(fx.engine))

	body, ctype := multipartBody(t, map[string]string{"password": "correct-horse"}, "file", artifact)
	req := httptest.NewRequest(http.MethodPost, "/proof/verify", body)
	req.Header.Set("Content-Type", ctype)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("verify: expected 200, got %d body=%s", w.Code, w.Body.String())
	}
	var resp struct {
		Verified  bool `json:"verified"`
		ProofData struct {
			Version     string `json:"version"`
			Transcript  []struct{ Role, Content string }
			Attestation struct {
				OverallVerified bool `json:"overall_verified"`
			} `json:"attestation"`
		} `json:"proof_data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Verified {
		t.Fatalf("expected verified=true: %s", w.Body.String())
	}
	if resp.ProofData.Version != "2.0.0" {
		t.Fatalf("unexpected payload version %q", resp.ProofData.Version)
	}
	if !resp.ProofData.Attestation.OverallVerified {
		t.Fatal("sealed attestation should be overall verified")
	}
	if len(resp.ProofData.Transcript) != 2 {
		t.Fatalf("expected 2 transcript messages, got %d", len(resp.ProofData.Transcript))
	}

	// Generation must also leave a metadata record behind.
	recs, err := fx.store.ListProofs(10)
	if err != nil {
		t.Fatalf("list proofs: %v", err)
	}
	if len(recs) != 1 || recs[0].Size != int64(len(artifact)) {
		t.Fatalf("unexpected proof records: %+v", recs)
	}
}

func TestProof_VerifyWrongPassword(t *testing.T) {
	fx := newFixture(t)
	artifact := generateArtifact(t, fx, "correct-horse")

	r := gin.New()
	r.POST("/proof/verify", HandleVerifyProof(fx.engine))

	body, ctype := multipartBody(t, map[string]string{"password": "wrong-horse!"}, "file", artifact)
	req := httptest.NewRequest(http.MethodPost, "/proof/verify", body)
	req.Header.Set("Content-Type", ctype)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp struct {
		Verified bool   `json:"verified"`
		Error    string `json:"error"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Verified || resp.Error == "" {
		t.Fatalf("expected verified=false with error: %s", w.Body.String())
	}
}

func TestProof_GenerateWeakPassword(t *testing.T) {
	fx := newFixture(t)
	r := gin.New()
	r.POST("/proof/generate", HandleGenerateProof(fx.coord, fx.engine, fx.store))

	body, ctype := multipartBody(t, map[string]string{
		"question": "q", "answer": "a", "password": "short",
	}, "", nil)
	req := httptest.NewRequest(http.MethodPost, "/proof/generate", body)
	req.Header.Set("Content-Type", ctype)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d body=%s", w.Code, w.Body.String())
	}
}

func TestProof_GenerateTranscriptJSON(t *testing.T) {
	fx := newFixture(t)
	r := gin.New()
	r.POST("/proof/generate", HandleGenerateProof(fx.coord, fx.engine, fx.store))

	transcript := `[{"role":"user","content":"hi"},{"role":"assistant","content":"hello"},{"role":"user","content":"bye"}]`
	body, ctype := multipartBody(t, map[string]string{
		"transcript": transcript,
		"password":   "correct-horse",
	}, "", nil)
	req := httptest.NewRequest(http.MethodPost, "/proof/generate", body)
	req.Header.Set("Content-Type", ctype)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", w.Code, w.Body.String())
	}
	payload, err := fx.engine.Verify(w.Body.Bytes(), "correct-horse")
	if err != nil {
		t.Fatalf("verify generated artifact: %v", err)
	}
	if len(payload.Transcript) != 3 || payload.Transcript[2].Content != "bye" {
		t.Fatalf("unexpected transcript: %+v", payload.Transcript)
	}
}

func TestProof_VerifyMalformed(t *testing.T) {
	fx := newFixture(t)
	r := gin.New()
	r.POST("/proof/verify", HandleVerifyProof(fx.engine))

	body, ctype := multipartBody(t, map[string]string{"password": "correct-horse"}, "file", []byte("not an artifact"))
	req := httptest.NewRequest(http.MethodPost, "/proof/verify", body)
	req.Header.Set("Content-Type", ctype)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d body=%s", w.Code, w.Body.String())
	}
}

func TestProof_GenerateMissingFields(t *testing.T) {
	fx := newFixture(t)
	r := gin.New()
	r.POST("/proof/generate", HandleGenerateProof(fx.coord, fx.engine, fx.store))

	body, ctype := multipartBody(t, map[string]string{"password": "correct-horse"}, "", nil)
	req := httptest.NewRequest(http.MethodPost, "/proof/generate", body)
	req.Header.Set("Content-Type", ctype)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d body=%s", w.Code, w.Body.String())
	}
}
