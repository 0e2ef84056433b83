package handler

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/scrtlabs/attesthub/internal/baseline"
	"github.com/scrtlabs/attesthub/internal/cache"
	"github.com/scrtlabs/attesthub/internal/dual"
	"github.com/scrtlabs/attesthub/internal/fetch"
	"github.com/scrtlabs/attesthub/internal/proof"
	"github.com/scrtlabs/attesthub/internal/server/db"
)

// fakeFetcher serves canned quotes per VM identity.
type fakeFetcher struct {
	quotes map[string]string
	errs   map[string]error
}

func (f *fakeFetcher) Fetch(_ context.Context, vm, endpoint string) (*fetch.Result, error) {
	if err, ok := f.errs[vm]; ok {
		return nil, err
	}
	return &fetch.Result{
		VM:              vm,
		Endpoint:        endpoint,
		QuoteHex:        f.quotes[vm],
		CertFingerprint: "cafe",
		FetchedAt:       time.Now().UTC(),
	}, nil
}

// testQuote builds a minimal valid v4 TDX quote as hex.
func testQuote() string {
	raw := make([]byte, 632)
	binary.LittleEndian.PutUint16(raw[0:2], 4)
	binary.LittleEndian.PutUint32(raw[4:8], 0x81)
	fill := func(off int, b byte) {
		for i := off; i < off+48; i++ {
			raw[i] = b
		}
	}
	fill(184, 0xa1)
	fill(376, 0xb0)
	fill(424, 0xb1)
	fill(472, 0xb2)
	fill(520, 0xb3)
	for i := 568; i < 632; i++ {
		raw[i] = 0xc7
	}
	return hex.EncodeToString(raw)
}

func testReference() *baseline.Reference {
	return &baseline.Reference{
		MRTD:  strings.Repeat("a1", 48),
		RTMR0: strings.Repeat("b0", 48),
		RTMR1: strings.Repeat("b1", 48),
		RTMR2: strings.Repeat("b2", 48),
		RTMR3: strings.Repeat("b3", 48),
	}
}

type fixture struct {
	coord  *dual.Coordinator
	engine *proof.Engine
	store  *db.Store
	cache  *cache.Cache
	reg    *baseline.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store, err := db.NewStore(":memory:")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	reg := baseline.NewRegistry(map[string]baseline.VMConfig{
		"secretgpt": {Endpoint: "https://10.0.0.1:29343/cpu.html", ParseStrategy: "byte_offset", Baseline: testReference()},
		"secretai":  {Endpoint: "https://10.0.0.2:29343/cpu.html", ParseStrategy: "byte_offset", Baseline: testReference()},
	})
	q := testQuote()
	f := &fakeFetcher{quotes: map[string]string{"secretgpt": q, "secretai": q}}
	ca := cache.New(time.Minute)
	coord := dual.NewCoordinator(reg, f, ca, "secretgpt", "secretai", dual.Options{})
	coord.SetRecorder(store)

	return &fixture{
		coord:  coord,
		engine: proof.NewEngine(1000, 8),
		store:  store,
		cache:  ca,
		reg:    reg,
	}
}

// unreachablePeerCoordinator rebuilds the fixture coordinator with the peer
// VM failing at the transport level.
func unreachablePeerCoordinator(t *testing.T, fx *fixture) *dual.Coordinator {
	t.Helper()
	f := &fakeFetcher{
		quotes: map[string]string{"secretgpt": testQuote()},
		errs: map[string]error{
			"secretai": &fetch.Error{
				Kind:     fetch.KindEndpointUnreachable,
				VM:       "secretai",
				Endpoint: "https://10.0.0.2:29343/cpu.html",
				Err:      context.DeadlineExceeded,
			},
		},
	}
	coord := dual.NewCoordinator(fx.reg, f, cache.New(time.Minute), "secretgpt", "secretai", dual.Options{})
	coord.SetRecorder(fx.store)
	return coord
}
