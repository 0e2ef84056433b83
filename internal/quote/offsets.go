package quote

// TDX quote (SGX Quote v4 / SGX Report 2) byte layout.
//
// The quote body starts with a 48-byte header followed by a 584-byte
// TDREPORT. Offsets below are into the raw quote bytes and are the single
// place in the codebase where the vendor layout is declared.
//
// Layout reference: Intel SGXDataCenterAttestationPrimitives sgx_quote_4.h
// and sgx_report2.h.
const (
	headerLen = 48

	offVersion = 0 // uint16 LE
	offTEEType = 4 // uint32 LE

	quoteVersionV4 = 4
	quoteVersionV5 = 5
	teeTypeTDX     = 0x81

	registerLen   = 48 // SHA-384 measurement registers
	reportDataLen = 64

	offMRTD       = 184
	offRTMR0      = 376
	offRTMR1      = 424
	offRTMR2      = 472
	offRTMR3      = 520
	offReportData = 568

	// minQuoteLen covers header + full TDREPORT body. Anything shorter
	// cannot contain all measurement registers.
	minQuoteLen = offReportData + reportDataLen // 632
)

type fieldOffset struct {
	name  string
	start int
	size  int
}

var fieldOffsets = []fieldOffset{
	{"mrtd", offMRTD, registerLen},
	{"rtmr0", offRTMR0, registerLen},
	{"rtmr1", offRTMR1, registerLen},
	{"rtmr2", offRTMR2, registerLen},
	{"rtmr3", offRTMR3, registerLen},
	{"report_data", offReportData, reportDataLen},
}
