package fetch

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/scrtlabs/attesthub/internal/logx"
	"github.com/scrtlabs/attesthub/internal/quote"
)

// DefaultTimeout caps one attestation fetch, including TLS setup. An
// unreachable peer VM must not hang the whole request.
const DefaultTimeout = 30 * time.Second

// Result is one raw attestation retrieval, prior to parsing.
type Result struct {
	VM              string
	Endpoint        string
	QuoteHex        string
	CertFingerprint string
	FetchedAt       time.Time
}

// Fetcher retrieves raw attestation quotes over HTTPS. SecretVM endpoints
// serve self-signed certificates; trust comes from the quote contents and
// the recorded certificate fingerprint, not from the web PKI, so chain
// verification is disabled and the leaf fingerprint is captured instead.
type Fetcher struct {
	client  *http.Client
	timeout time.Duration
}

func NewFetcher(timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
	}
	return &Fetcher{
		client:  &http.Client{Transport: transport, Timeout: timeout},
		timeout: timeout,
	}
}

// Fetch retrieves the raw quote for vm from endpoint. Each call is
// stateless; caching happens upstream.
func (f *Fetcher) Fetch(ctx context.Context, vm, endpoint string) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &Error{Kind: KindEndpointUnreachable, VM: vm, Endpoint: endpoint, Err: err}
	}
	req.Header.Set("User-Agent", "attesthub/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &Error{Kind: classifyTransportError(err), VM: vm, Endpoint: endpoint, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &Error{
			Kind: KindUnexpectedStatus, VM: vm, Endpoint: endpoint,
			Err: errors.New(resp.Status),
		}
	}

	fingerprint := ""
	if resp.TLS != nil && len(resp.TLS.PeerCertificates) > 0 {
		sum := sha256.Sum256(resp.TLS.PeerCertificates[0].Raw)
		fingerprint = hex.EncodeToString(sum[:])
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, &Error{Kind: KindEndpointUnreachable, VM: vm, Endpoint: endpoint, Err: err}
	}

	quoteHex := quote.ExtractHexQuote(string(body))
	if quoteHex == "" {
		return nil, ErrNoQuoteInResponse
	}

	logx.Debugf("fetch: got %d hex chars for %s from %s (cert=%s)", len(quoteHex), vm, endpoint, shortFP(fingerprint))
	return &Result{
		VM:              vm,
		Endpoint:        endpoint,
		QuoteHex:        quoteHex,
		CertFingerprint: fingerprint,
		FetchedAt:       time.Now().UTC(),
	}, nil
}

func classifyTransportError(err error) ErrorKind {
	var (
		recordErr   tls.RecordHeaderError
		certErr     *tls.CertificateVerificationError
		unknownAuth x509.UnknownAuthorityError
		hostnameErr x509.HostnameError
	)
	if errors.As(err, &recordErr) || errors.As(err, &certErr) ||
		errors.As(err, &unknownAuth) || errors.As(err, &hostnameErr) {
		return KindTLSFailure
	}
	return KindEndpointUnreachable
}

func shortFP(fp string) string {
	if len(fp) <= 16 {
		return fp
	}
	return fp[:16] + "..."
}
