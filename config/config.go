// Package config loads the optional YAML tuning file spec.md §8
// describes (ring sizing, buffer pool geometry, KCP defaults) the way
// hioload-ws and go-ublk both keep an explicit config struct populated
// by a small loader rather than a generic config framework — struct
// literal defaults always win when no file is given or a field is
// absent from it.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// RingTuning mirrors ring.CreateOptions' sizing knobs.
type RingTuning struct {
	Entries         int  `yaml:"entries"`
	SparseFileSlots int  `yaml:"sparse_file_slots"`
	EdgeTriggered   bool `yaml:"edge_triggered"`
}

// BufferTuning mirrors buffer.NewPool/CreateProvider's geometry.
type BufferTuning struct {
	PoolCapacity   int `yaml:"pool_capacity"`
	ProviderCount  int `yaml:"provider_count"`
	ProviderLength int `yaml:"provider_length"`
}

// KCPTuning mirrors kcp.Conversation's per-field tuning knobs (§4.4).
type KCPTuning struct {
	MSS          int    `yaml:"mss"`
	IntervalMs   uint32 `yaml:"interval_ms"`
	RxMinRTOMs   uint32 `yaml:"rx_min_rto_ms"`
	RxRTOMaxMs   uint32 `yaml:"rx_rto_max_ms"`
	FastResend   int    `yaml:"fast_resend"`
	TriesLimit   int    `yaml:"tries_limit"`
	RcvWnd       uint32 `yaml:"rcv_wnd"`
	AckThreshold int    `yaml:"ack_threshold"`
	ProbeInitMs  uint32 `yaml:"probe_initial_ms"`
	ProbeMaxMs   uint32 `yaml:"probe_max_ms"`
	TimeoutMs    uint32 `yaml:"timeout_ms"`
}

// Config is the top-level tuning document.
type Config struct {
	Ring   RingTuning   `yaml:"ring"`
	Buffer BufferTuning `yaml:"buffer"`
	KCP    KCPTuning    `yaml:"kcp"`
}

// Default returns the struct-literal defaults: a 256-entry ring
// (ring.Create itself has no built-in size), and KCP values matching
// kcp's defaultMSS/defaultInterval/... constants.
func Default() Config {
	return Config{
		Ring: RingTuning{
			Entries:         256,
			SparseFileSlots: 256,
			EdgeTriggered:   true,
		},
		Buffer: BufferTuning{
			PoolCapacity:   2048,
			ProviderCount:  4096,
			ProviderLength: 2048,
		},
		KCP: KCPTuning{
			MSS:          1400,
			IntervalMs:   100,
			RxMinRTOMs:   100,
			RxRTOMaxMs:   60000,
			FastResend:   2,
			TriesLimit:   20,
			RcvWnd:       128,
			AckThreshold: 8,
			ProbeInitMs:  7000,
			ProbeMaxMs:   120000,
			TimeoutMs:    30000,
		},
	}
}

// Load reads path and overlays it onto Default(); a missing path
// returns the defaults unchanged (the file is optional, per spec.md
// §8). A present-but-malformed file is an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}
