package quote

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/scrtlabs/attesthub/internal/logx"
)

// Parser turns a hex-encoded attestation quote into Measurements.
//
// A parser configured with StrategyRestDelegate first asks the describing
// REST service; on any failure there (network, bad status, malformed JSON,
// unusable fields) it transparently retries with the local byte-offset
// extractor. Measurements.ParsedBy records which strategy produced the
// result.
type Parser struct {
	strategy Strategy
	restURL  string
	client   *http.Client
}

func NewParser(strategy Strategy, restURL string, client *http.Client) *Parser {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Parser{strategy: strategy, restURL: restURL, client: client}
}

// Parse is a pure transform apart from the optional REST delegate call.
func (p *Parser) Parse(ctx context.Context, hexQuote, certFingerprint string) (*Measurements, error) {
	if p.strategy == StrategyRestDelegate && p.restURL != "" {
		m, err := p.parseViaRest(ctx, hexQuote, certFingerprint)
		if err == nil {
			return m, nil
		}
		logx.Warnf("quote: rest delegate %s failed, falling back to byte offsets: %v", p.restURL, err)
	}
	return ParseByteOffset(hexQuote, certFingerprint)
}

type restParseResponse struct {
	MRTD       string `json:"mrtd"`
	RTMR0      string `json:"rtmr0"`
	RTMR1      string `json:"rtmr1"`
	RTMR2      string `json:"rtmr2"`
	RTMR3      string `json:"rtmr3"`
	ReportData string `json:"report_data"`
}

func (p *Parser) parseViaRest(ctx context.Context, hexQuote, certFingerprint string) (*Measurements, error) {
	body, err := json.Marshal(map[string]string{"quote": hexQuote, "format": "json"})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.restURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call rest parser: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rest parser returned HTTP %d", resp.StatusCode)
	}

	var parsed restParseResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode rest parser response: %w", err)
	}

	m := &Measurements{
		MRTD:            strings.ToLower(strings.TrimSpace(parsed.MRTD)),
		RTMR0:           strings.ToLower(strings.TrimSpace(parsed.RTMR0)),
		RTMR1:           strings.ToLower(strings.TrimSpace(parsed.RTMR1)),
		RTMR2:           strings.ToLower(strings.TrimSpace(parsed.RTMR2)),
		RTMR3:           strings.ToLower(strings.TrimSpace(parsed.RTMR3)),
		ReportData:      strings.ToLower(strings.TrimSpace(parsed.ReportData)),
		CertFingerprint: certFingerprint,
		Timestamp:       time.Now().UTC(),
		RawQuote:        hexQuote,
		ParsedBy:        StrategyRestDelegate,
	}

	for _, f := range fieldOffsets {
		if err := validateHexField(f.name, m.Register(f.name), f.size); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// ParseByteOffset extracts measurement registers from the raw quote at the
// fixed offsets declared in offsets.go.
func ParseByteOffset(hexQuote, certFingerprint string) (*Measurements, error) {
	raw, err := hex.DecodeString(strings.TrimSpace(hexQuote))
	if err != nil {
		return nil, parseErrorf(KindUnknownFormat, "quote is not a hex string: %v", err)
	}
	if len(raw) < headerLen {
		return nil, parseErrorf(KindTruncatedQuote, "quote is %d bytes, header alone needs %d", len(raw), headerLen)
	}

	version := binary.LittleEndian.Uint16(raw[offVersion : offVersion+2])
	teeType := binary.LittleEndian.Uint32(raw[offTEEType : offTEEType+4])
	if version != quoteVersionV4 && version != quoteVersionV5 {
		return nil, parseErrorf(KindUnknownFormat, "unsupported quote version %d", version)
	}
	if teeType != teeTypeTDX {
		return nil, parseErrorf(KindUnknownFormat, "unexpected TEE type 0x%x (want TDX 0x%x)", teeType, teeTypeTDX)
	}
	if len(raw) < minQuoteLen {
		return nil, parseErrorf(KindTruncatedQuote, "quote is %d bytes, need at least %d for all registers", len(raw), minQuoteLen)
	}

	fields := make(map[string]string, len(fieldOffsets))
	for _, f := range fieldOffsets {
		fields[f.name] = hex.EncodeToString(raw[f.start : f.start+f.size])
	}

	return &Measurements{
		MRTD:            fields["mrtd"],
		RTMR0:           fields["rtmr0"],
		RTMR1:           fields["rtmr1"],
		RTMR2:           fields["rtmr2"],
		RTMR3:           fields["rtmr3"],
		ReportData:      fields["report_data"],
		CertFingerprint: certFingerprint,
		Timestamp:       time.Now().UTC(),
		RawQuote:        hexQuote,
		ParsedBy:        StrategyByteOffset,
	}, nil
}

func validateHexField(name, value string, size int) *ParseError {
	if len(value) != size*2 {
		return parseErrorf(KindChecksumMismatch, "register %s has %d hex chars, want %d", name, len(value), size*2)
	}
	if _, err := hex.DecodeString(value); err != nil {
		return parseErrorf(KindChecksumMismatch, "register %s is not valid hex", name)
	}
	return nil
}
