package quote

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// buildTestQuote assembles a minimal TDX v4 quote with recognizable register
// fill bytes: MRTD=0xa1, RTMR0..3=0xb0..0xb3, report data=0xc7.
func buildTestQuote(t *testing.T) string {
	t.Helper()
	raw := make([]byte, minQuoteLen)
	binary.LittleEndian.PutUint16(raw[offVersion:], quoteVersionV4)
	binary.LittleEndian.PutUint32(raw[offTEEType:], teeTypeTDX)

	fill := func(start, size int, b byte) {
		for i := start; i < start+size; i++ {
			raw[i] = b
		}
	}
	fill(offMRTD, registerLen, 0xa1)
	fill(offRTMR0, registerLen, 0xb0)
	fill(offRTMR1, registerLen, 0xb1)
	fill(offRTMR2, registerLen, 0xb2)
	fill(offRTMR3, registerLen, 0xb3)
	fill(offReportData, reportDataLen, 0xc7)

	return hex.EncodeToString(raw)
}

func TestParseByteOffset(t *testing.T) {
	m, err := ParseByteOffset(buildTestQuote(t), "fp")
	if err != nil {
		t.Fatalf("ParseByteOffset: %v", err)
	}
	if m.ParsedBy != StrategyByteOffset {
		t.Fatalf("ParsedBy = %q, want %q", m.ParsedBy, StrategyByteOffset)
	}
	if m.MRTD != strings.Repeat("a1", registerLen) {
		t.Fatalf("MRTD = %q", m.MRTD)
	}
	if m.RTMR2 != strings.Repeat("b2", registerLen) {
		t.Fatalf("RTMR2 = %q", m.RTMR2)
	}
	if m.ReportData != strings.Repeat("c7", reportDataLen) {
		t.Fatalf("ReportData = %q", m.ReportData)
	}
	if m.CertFingerprint != "fp" {
		t.Fatalf("CertFingerprint = %q", m.CertFingerprint)
	}
}

func TestParseByteOffset_Truncated(t *testing.T) {
	full := buildTestQuote(t)
	_, err := ParseByteOffset(full[:1000], "")
	pe, ok := err.(*ParseError)
	if !ok {
		t.Fatalf("expected *ParseError, got %T (%v)", err, err)
	}
	if pe.Kind != KindTruncatedQuote {
		t.Fatalf("Kind = %q, want %q", pe.Kind, KindTruncatedQuote)
	}
}

func TestParseByteOffset_NotHex(t *testing.T) {
	_, err := ParseByteOffset("zzzz-not-hex", "")
	pe, ok := err.(*ParseError)
	if !ok || pe.Kind != KindUnknownFormat {
		t.Fatalf("expected unknown_format, got %v", err)
	}
}

func TestParseByteOffset_WrongVersion(t *testing.T) {
	raw, _ := hex.DecodeString(buildTestQuote(t))
	binary.LittleEndian.PutUint16(raw[offVersion:], 9)
	_, err := ParseByteOffset(hex.EncodeToString(raw), "")
	pe, ok := err.(*ParseError)
	if !ok || pe.Kind != KindUnknownFormat {
		t.Fatalf("expected unknown_format for bad version, got %v", err)
	}
}

func TestParseByteOffset_WrongTEEType(t *testing.T) {
	raw, _ := hex.DecodeString(buildTestQuote(t))
	binary.LittleEndian.PutUint32(raw[offTEEType:], 0) // SGX, not TDX
	_, err := ParseByteOffset(hex.EncodeToString(raw), "")
	pe, ok := err.(*ParseError)
	if !ok || pe.Kind != KindUnknownFormat {
		t.Fatalf("expected unknown_format for SGX quote, got %v", err)
	}
}

func TestParse_RestDelegate(t *testing.T) {
	wantMRTD := strings.Repeat("0a", registerLen)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"mrtd": "` + wantMRTD + `",
			"rtmr0": "` + strings.Repeat("1b", registerLen) + `",
			"rtmr1": "` + strings.Repeat("2c", registerLen) + `",
			"rtmr2": "` + strings.Repeat("3d", registerLen) + `",
			"rtmr3": "` + strings.Repeat("4e", registerLen) + `",
			"report_data": "` + strings.Repeat("5f", reportDataLen) + `"
		}`))
	}))
	defer ts.Close()

	p := NewParser(StrategyRestDelegate, ts.URL, nil)
	m, err := p.Parse(context.Background(), buildTestQuote(t), "fp")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if m.ParsedBy != StrategyRestDelegate {
		t.Fatalf("ParsedBy = %q, want rest_delegate", m.ParsedBy)
	}
	if m.MRTD != wantMRTD {
		t.Fatalf("MRTD = %q", m.MRTD)
	}
}

func TestParse_RestDelegateFallsBackToByteOffset(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer ts.Close()

	p := NewParser(StrategyRestDelegate, ts.URL, nil)
	m, err := p.Parse(context.Background(), buildTestQuote(t), "")
	if err != nil {
		t.Fatalf("Parse with fallback: %v", err)
	}
	if m.ParsedBy != StrategyByteOffset {
		t.Fatalf("ParsedBy = %q, want byte_offset after fallback", m.ParsedBy)
	}
}

func TestParse_RestDelegateRejectsBadRegisters(t *testing.T) {
	// Malformed schema (short mrtd) must not surface as rest result; the
	// byte-offset fallback still parses the raw quote.
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"mrtd": "abcd"}`))
	}))
	defer ts.Close()

	p := NewParser(StrategyRestDelegate, ts.URL, nil)
	m, err := p.Parse(context.Background(), buildTestQuote(t), "")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if m.ParsedBy != StrategyByteOffset {
		t.Fatalf("ParsedBy = %q, want byte_offset", m.ParsedBy)
	}
}
