// Package settings owns the persisted key→value configuration consumed by
// the coordinator: automation toggles, delays, panel credentials and the
// user's BIN list. Values are read as a fresh snapshot per use; nothing is
// cached beyond the read.
package settings

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/w457602/atm_agent/internal/config"
	"github.com/w457602/atm_agent/internal/protocol"
)

// Defaults applied on first run and when individual keys are unset.
const (
	DefaultAutoFillDelay = 1500 * time.Millisecond
	DefaultAddressRegion = "US_TAX_FREE"
	DefaultAutoOpen      = "detect"
)

// Bin is one user-configured card-number-pattern seed.
type Bin struct {
	ID      string `json:"id" yaml:"id"`
	Value   string `json:"value" yaml:"value"`
	Address string `json:"address,omitempty" yaml:"address,omitempty"`
}

// Values is the full persisted settings document.
type Values struct {
	AutoOpenSetting      string `json:"autoOpenSetting"`
	AutoRegisterEnabled  bool   `json:"autoRegisterEnabled"`
	SelectedBin          string `json:"selectedBin"`
	AutoFillDelayMS      int    `json:"autoFillDelay"`
	PanelAPIBase         string `json:"panelApiBase"`
	PanelAPIToken        string `json:"panelApiToken"`
	Bins                 []Bin  `json:"bins"`
	PatternInput         string `json:"patternInput"`
	MaxRetryAttempts     int    `json:"maxRetryAttempts"`
	AutoRetryEnabled     bool   `json:"autoRetryEnabled"`
	AddressRegion        string `json:"addressRegion"`
	OnlyChangeCardNumber bool   `json:"onlyChangeCardNumber"`
}

// PanelConfig is the normalized read-only snapshot for one panel API call.
type PanelConfig struct {
	BaseURL   string
	AuthToken string
}

// Store persists Values as a JSON file under the data dir.
type Store struct {
	path string

	mu     sync.Mutex
	values Values
}

// NewStore loads persisted settings from dir, seeding first-run defaults
// when no file exists yet.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("settings store: mkdir %s: %w", dir, err)
	}
	s := &Store{path: filepath.Join(dir, "settings.json")}

	data, err := os.ReadFile(s.path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &s.values); err != nil {
			return nil, fmt.Errorf("settings store: unmarshal: %w", err)
		}
	case os.IsNotExist(err):
		s.values = installDefaults()
		if err := s.persistLocked(); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("settings store: read: %w", err)
	}

	return s, nil
}

// installDefaults mirrors the first-install seed of the settings surface.
func installDefaults() Values {
	return Values{
		AutoOpenSetting: DefaultAutoOpen,
		AutoFillDelayMS: int(DefaultAutoFillDelay / time.Millisecond),
		PanelAPIBase:    config.DefaultPanelBase,
		AddressRegion:   DefaultAddressRegion,
	}
}

func (s *Store) persistLocked() error {
	data, err := json.MarshalIndent(s.values, "", "  ")
	if err != nil {
		return fmt.Errorf("settings store: marshal: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("settings store: write: %w", err)
	}
	return nil
}

// Snapshot returns a copy of the current values.
func (s *Store) Snapshot() Values {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.values
	v.Bins = append([]Bin(nil), s.values.Bins...)
	return v
}

// Update applies fn to the values under the lock and persists the result.
func (s *Store) Update(fn func(*Values)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.values)
	return s.persistLocked()
}

// SeedBins replaces the BIN list only when none is configured yet.
func (s *Store) SeedBins(bins []Bin) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.values.Bins) > 0 {
		return nil
	}
	s.values.Bins = append([]Bin(nil), bins...)
	return s.persistLocked()
}

// AutoRegisterEnabled reports the automation master switch.
func (s *Store) AutoRegisterEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values.AutoRegisterEnabled
}

// AutoFillDelay returns the configured dispatch delay, defaulted when unset.
func (s *Store) AutoFillDelay() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.values.AutoFillDelayMS <= 0 {
		return DefaultAutoFillDelay
	}
	return time.Duration(s.values.AutoFillDelayMS) * time.Millisecond
}

// PanelConfig returns the normalized panel API snapshot: trailing slashes
// stripped from the base (falling back to the built-in default when unset or
// malformed) and the token trimmed.
func (s *Store) PanelConfig() PanelConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return PanelConfig{
		BaseURL:   NormalizePanelBase(s.values.PanelAPIBase),
		AuthToken: strings.TrimSpace(s.values.PanelAPIToken),
	}
}

// NormalizePanelBase strips trailing slashes and falls back to the default
// base for empty or slash-only input.
func NormalizePanelBase(base string) string {
	trimmed := strings.TrimRight(base, "/")
	if trimmed == "" {
		return config.DefaultPanelBase
	}
	return trimmed
}

// FillConfig assembles the immutable auto-fill configuration at dispatch
// time. The selected BIN is resolved against the configured list by id
// first, falling back to a legacy match on the raw value.
func (s *Store) FillConfig(onlyFill bool) protocol.FillConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.values

	maxRetries := 0
	if v.AutoRetryEnabled {
		maxRetries = v.MaxRetryAttempts
	}
	region := v.AddressRegion
	if region == "" {
		region = DefaultAddressRegion
	}

	bin := v.SelectedBin
	binAddress := ""
	if v.SelectedBin != "" {
		if b, ok := resolveBin(v.Bins, v.SelectedBin); ok {
			bin = b.Value
			binAddress = b.Address
		}
	}

	return protocol.FillConfig{
		Bin:                  bin,
		PatternInput:         v.PatternInput,
		MaxRetries:           maxRetries,
		AddressRegion:        region,
		BinAddress:           binAddress,
		OnlyFill:             onlyFill,
		OnlyChangeCardNumber: v.OnlyChangeCardNumber,
	}
}

// resolveBin prefers an id match over a legacy raw-value match.
func resolveBin(bins []Bin, selected string) (Bin, bool) {
	for _, b := range bins {
		if b.ID == selected {
			return b, true
		}
	}
	for _, b := range bins {
		if b.Value == selected {
			return b, true
		}
	}
	return Bin{}, false
}
