package quote

import (
	"fmt"
	"time"
)

// Strategy selects how a raw quote is turned into measurements.
type Strategy string

const (
	// StrategyRestDelegate asks a secret-vm-attest-rest-server style
	// describing service for already-parsed register fields.
	StrategyRestDelegate Strategy = "rest_delegate"
	// StrategyByteOffset extracts registers directly from the raw quote
	// at the fixed offsets declared in offsets.go.
	StrategyByteOffset Strategy = "byte_offset"
)

// Measurements is the parsed register set of a TDX attestation quote.
//
// All register fields are lowercase hex. A Measurements value is only
// produced when every register decoded successfully; partial records are
// never returned.
type Measurements struct {
	MRTD            string    `json:"mrtd"`
	RTMR0           string    `json:"rtmr0"`
	RTMR1           string    `json:"rtmr1"`
	RTMR2           string    `json:"rtmr2"`
	RTMR3           string    `json:"rtmr3"`
	ReportData      string    `json:"report_data"`
	CertFingerprint string    `json:"certificate_fingerprint"`
	Timestamp       time.Time `json:"timestamp"`
	RawQuote        string    `json:"raw_quote,omitempty"`
	ParsedBy        Strategy  `json:"parsing_method"`
}

// Register returns the named register value, or "" for unknown names.
func (m *Measurements) Register(name string) string {
	switch name {
	case "mrtd":
		return m.MRTD
	case "rtmr0":
		return m.RTMR0
	case "rtmr1":
		return m.RTMR1
	case "rtmr2":
		return m.RTMR2
	case "rtmr3":
		return m.RTMR3
	case "report_data":
		return m.ReportData
	}
	return ""
}

// RegisterNames lists the registers checked during baseline validation,
// in a stable order.
var RegisterNames = []string{"mrtd", "rtmr0", "rtmr1", "rtmr2", "rtmr3"}

// ParseErrorKind classifies quote parsing failures.
type ParseErrorKind string

const (
	KindTruncatedQuote   ParseErrorKind = "truncated_quote"
	KindUnknownFormat    ParseErrorKind = "unknown_format"
	KindChecksumMismatch ParseErrorKind = "checksum_mismatch"
)

// ParseError is a typed quote parsing failure.
type ParseError struct {
	Kind   ParseErrorKind
	Detail string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("quote parse failed (%s): %s", e.Kind, e.Detail)
}

func parseErrorf(kind ParseErrorKind, format string, args ...any) *ParseError {
	return &ParseError{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}
