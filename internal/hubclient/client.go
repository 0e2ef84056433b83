// Package hubclient is the HTTP client the CLI uses to talk to a running
// hub. It is a thin wrapper over the JSON API; all verification logic stays
// server-side.
package hubclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/scrtlabs/attesthub/internal/baseline"
	"github.com/scrtlabs/attesthub/internal/dual"
	"github.com/scrtlabs/attesthub/internal/proof"
	"github.com/scrtlabs/attesthub/internal/quote"
	"github.com/scrtlabs/attesthub/internal/server/db"
)

// Client talks to one hub instance.
type Client struct {
	baseURL string
	http    *http.Client
}

// New builds a client for serverURL. Plain HTTP is refused unless
// allowInsecure is set; a warning is printed when it is used.
func New(serverURL string, allowInsecure bool) (*Client, error) {
	serverURL = strings.TrimRight(serverURL, "/")
	if !strings.HasPrefix(serverURL, "https://") {
		if !allowInsecure {
			return nil, fmt.Errorf("server URL %q is not HTTPS; use --insecure to allow plaintext HTTP", serverURL)
		}
		fmt.Fprintf(os.Stderr, "attesthub: WARNING: communicating over plaintext HTTP (%s)\n", serverURL)
	}
	return &Client{
		baseURL: serverURL,
		http:    &http.Client{Timeout: 60 * time.Second},
	}, nil
}

// AttestationResponse mirrors GET /attestation/:vm.
type AttestationResponse struct {
	VMIdentity   string              `json:"vm_identity"`
	Verdict      *baseline.Verdict   `json:"verdict"`
	Measurements *quote.Measurements `json:"measurements"`
	VerifiedAt   time.Time           `json:"verified_at"`
}

// VerifyResponse mirrors POST /proof/verify.
type VerifyResponse struct {
	Verified  bool           `json:"verified"`
	Error     string         `json:"error,omitempty"`
	ProofData *proof.Payload `json:"proof_data,omitempty"`
}

// StatusResponse mirrors GET /status.
type StatusResponse struct {
	Service         string `json:"service"`
	Version         string `json:"version"`
	UptimeSeconds   int64  `json:"uptime_seconds"`
	CacheEntries    int    `json:"cache_entries"`
	CacheTTLSeconds int64  `json:"cache_ttl_seconds"`
	VMs             []struct {
		Identity     string     `json:"identity"`
		Cached       bool       `json:"cached"`
		LastVerified *time.Time `json:"last_verified,omitempty"`
	} `json:"vms"`
}

// Attestation fetches and validates one VM's attestation.
func (c *Client) Attestation(ctx context.Context, vm string) (*AttestationResponse, error) {
	var out AttestationResponse
	if err := c.getJSON(ctx, "/attestation/"+vm, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Dual runs a dual attestation of both configured VMs.
func (c *Client) Dual(ctx context.Context) (*dual.Result, error) {
	var out dual.Result
	if err := c.getJSON(ctx, "/attestation/dual", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Status reports hub health and per-VM verification history.
func (c *Client) Status(ctx context.Context) (*StatusResponse, error) {
	var out StatusResponse
	if err := c.getJSON(ctx, "/status", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Proofs lists recent proof artifact metadata.
func (c *Client) Proofs(ctx context.Context, limit int) ([]db.ProofRecord, error) {
	path := "/proofs"
	if limit > 0 {
		path = fmt.Sprintf("/proofs?limit=%d", limit)
	}
	var out struct {
		Proofs []db.ProofRecord `json:"proofs"`
	}
	if err := c.getJSON(ctx, path, &out); err != nil {
		return nil, err
	}
	return out.Proofs, nil
}

// GenerateProof asks the hub to seal the transcript plus a fresh dual
// attestation into an artifact. It returns the suggested filename and the
// artifact bytes.
func (c *Client) GenerateProof(ctx context.Context, transcript []proof.Message, password string) (string, []byte, error) {
	raw, err := json.Marshal(transcript)
	if err != nil {
		return "", nil, fmt.Errorf("encode transcript: %w", err)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("transcript", string(raw)); err != nil {
		return "", nil, fmt.Errorf("build request: %w", err)
	}
	if err := mw.WriteField("password", password); err != nil {
		return "", nil, fmt.Errorf("build request: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", nil, fmt.Errorf("build request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/proof/generate", &buf)
	if err != nil {
		return "", nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("request hub: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", nil, apiError(resp)
	}
	artifact, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", nil, fmt.Errorf("read artifact: %w", err)
	}

	filename := proof.Filename(time.Now())
	if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); err == nil {
		if fn := params["filename"]; fn != "" {
			filename = fn
		}
	}
	return filename, artifact, nil
}

// VerifyProof uploads an artifact and password for verification.
func (c *Client) VerifyProof(ctx context.Context, artifact []byte, password string) (*VerifyResponse, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "proof"+proof.FileExtension)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if _, err := fw.Write(artifact); err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if err := mw.WriteField("password", password); err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/proof/verify", &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request hub: %w", err)
	}
	defer resp.Body.Close()

	// Verification outcomes, positive or negative, arrive as JSON bodies on
	// 200 or 400.
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusBadRequest {
		return nil, apiError(resp)
	}
	var out VerifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode verify response: %w", err)
	}
	return &out, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request hub: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func apiError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		return fmt.Errorf("hub returned %d: %s", resp.StatusCode, e.Error)
	}
	return fmt.Errorf("hub returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
}
