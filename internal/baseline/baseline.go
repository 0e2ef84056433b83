package baseline

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/scrtlabs/attesthub/internal/quote"
	"gopkg.in/yaml.v3"
)

// Reference holds the known-good register values for one VM identity.
type Reference struct {
	MRTD       string `yaml:"mrtd" json:"mrtd"`
	RTMR0      string `yaml:"rtmr0" json:"rtmr0"`
	RTMR1      string `yaml:"rtmr1" json:"rtmr1"`
	RTMR2      string `yaml:"rtmr2" json:"rtmr2"`
	RTMR3      string `yaml:"rtmr3" json:"rtmr3"`
	ReportData string `yaml:"report_data,omitempty" json:"report_data,omitempty"`
}

func (r *Reference) register(name string) string {
	switch name {
	case "mrtd":
		return r.MRTD
	case "rtmr0":
		return r.RTMR0
	case "rtmr1":
		return r.RTMR1
	case "rtmr2":
		return r.RTMR2
	case "rtmr3":
		return r.RTMR3
	case "report_data":
		return r.ReportData
	}
	return ""
}

// VMConfig is the per-VM section of the hub configuration file.
type VMConfig struct {
	Endpoint      string     `yaml:"endpoint"`
	ParseStrategy string     `yaml:"parse_strategy"`
	RestParserURL string     `yaml:"rest_parser_url,omitempty"`
	Baseline      *Reference `yaml:"baseline,omitempty"`
}

// Registry maps VM identities to their configuration and baseline.
type Registry struct {
	vms map[string]VMConfig
}

type configFile struct {
	VMs map[string]VMConfig `yaml:"vms"`
}

// LoadFile reads the VM configuration YAML. Every attestable VM identity is
// declared here; a VM may legitimately have no baseline yet, in which case
// validation fails closed with reason no_baseline_configured.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read vm config: %w", err)
	}
	return Parse(data)
}

// Parse decodes a VM configuration document.
func Parse(data []byte) (*Registry, error) {
	var cf configFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return nil, fmt.Errorf("decode vm config: %w", err)
	}
	if len(cf.VMs) == 0 {
		return nil, fmt.Errorf("vm config declares no vms")
	}
	return &Registry{vms: cf.VMs}, nil
}

// NewRegistry builds a registry directly, used by tests and by callers that
// configure VMs from the environment instead of a file.
func NewRegistry(vms map[string]VMConfig) *Registry {
	if vms == nil {
		vms = map[string]VMConfig{}
	}
	return &Registry{vms: vms}
}

// VM returns the configuration for identity, if declared.
func (r *Registry) VM(identity string) (VMConfig, bool) {
	vm, ok := r.vms[identity]
	return vm, ok
}

// SetVM adds or replaces a VM declaration.
func (r *Registry) SetVM(identity string, vm VMConfig) {
	r.vms[identity] = vm
}

// Identities lists declared VM identities in sorted order.
func (r *Registry) Identities() []string {
	out := make([]string, 0, len(r.vms))
	for name := range r.vms {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Verdict is the result of comparing parsed measurements against a baseline.
// It is never mutated after creation.
type Verdict struct {
	Identity   string          `json:"vm_identity"`
	Passed     bool            `json:"passed"`
	Reason     string          `json:"reason,omitempty"`
	Registers  map[string]bool `json:"registers"`
	Mismatched []string        `json:"mismatched"`
	CheckedAt  time.Time       `json:"checked_at"`
}

const (
	ReasonNoBaseline       = "no_baseline_configured"
	ReasonRegisterMismatch = "register_mismatch"
)

// Validate compares every configured register byte-for-byte
// (case-insensitive hex) against the identity's baseline. A register empty
// on either side fails that register. An identity with no baseline fails
// closed; unknown sources are never trusted.
func (r *Registry) Validate(m *quote.Measurements, identity string) *Verdict {
	v := &Verdict{
		Identity:   identity,
		Registers:  make(map[string]bool),
		Mismatched: []string{},
		CheckedAt:  time.Now().UTC(),
	}

	vm, ok := r.vms[identity]
	if !ok || vm.Baseline == nil {
		v.Reason = ReasonNoBaseline
		return v
	}
	ref := vm.Baseline

	names := append([]string{}, quote.RegisterNames...)
	if ref.ReportData != "" {
		names = append(names, "report_data")
	}

	for _, name := range names {
		got := strings.ToLower(strings.TrimSpace(m.Register(name)))
		want := strings.ToLower(strings.TrimSpace(ref.register(name)))
		match := got != "" && want != "" && got == want
		v.Registers[name] = match
		if !match {
			v.Mismatched = append(v.Mismatched, name)
		}
	}
	sort.Strings(v.Mismatched)

	v.Passed = len(v.Mismatched) == 0
	if !v.Passed {
		v.Reason = ReasonRegisterMismatch
	}
	return v
}
