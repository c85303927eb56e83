package heuristics

import "time"

// Config holds every detector threshold. Zero values are replaced by the
// defaults in DefaultConfig when an Analyzer is built.
type Config struct {
	// Cycle detection
	CycleMinLength      int `yaml:"cycle_min_length" json:"cycleMinLength"`
	CycleMaxLength      int `yaml:"cycle_max_length" json:"cycleMaxLength"`
	MaxCyclesPerAccount int `yaml:"max_cycles_per_account" json:"maxCyclesPerAccount"` // 0 = unbounded

	// Smurfing (fan-in / fan-out)
	SmurfingWindow            time.Duration `yaml:"smurfing_window" json:"smurfingWindow"`
	SmurfingMinCounterparties int           `yaml:"smurfing_min_counterparties" json:"smurfingMinCounterparties"`
	SmurfingNoveltyRatio      float64       `yaml:"smurfing_novelty_ratio" json:"smurfingNoveltyRatio"` // negative disables the burstiness filter
	HighVolumeTxCount         int           `yaml:"high_volume_tx_count" json:"highVolumeTxCount"`
	HighVolumeOverlap         float64       `yaml:"high_volume_overlap" json:"highVolumeOverlap"`

	// Layered shell chains
	ShellMaxTxCount int `yaml:"shell_max_tx_count" json:"shellMaxTxCount"`
	ShellMinHops    int `yaml:"shell_min_hops" json:"shellMinHops"`
	ShellMaxHops    int `yaml:"shell_max_hops" json:"shellMaxHops"`

	// Scoring
	VelocityThreshold int `yaml:"velocity_threshold" json:"velocityThreshold"`
}

// DefaultConfig returns the production thresholds.
func DefaultConfig() Config {
	return Config{
		CycleMinLength:            3,
		CycleMaxLength:            5,
		MaxCyclesPerAccount:       0,
		SmurfingWindow:            72 * time.Hour,
		SmurfingMinCounterparties: 10,
		SmurfingNoveltyRatio:      0.7,
		HighVolumeTxCount:         100,
		HighVolumeOverlap:         0.5,
		ShellMaxTxCount:           3,
		ShellMinHops:              3,
		ShellMaxHops:              6,
		VelocityThreshold:         3,
	}
}

// withDefaults fills unset fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.CycleMinLength <= 0 {
		c.CycleMinLength = d.CycleMinLength
	}
	if c.CycleMaxLength <= 0 {
		c.CycleMaxLength = d.CycleMaxLength
	}
	if c.CycleMaxLength < c.CycleMinLength {
		c.CycleMaxLength = c.CycleMinLength
	}
	if c.MaxCyclesPerAccount < 0 {
		c.MaxCyclesPerAccount = 0
	}
	if c.SmurfingWindow <= 0 {
		c.SmurfingWindow = d.SmurfingWindow
	}
	if c.SmurfingMinCounterparties <= 0 {
		c.SmurfingMinCounterparties = d.SmurfingMinCounterparties
	}
	if c.SmurfingNoveltyRatio == 0 {
		c.SmurfingNoveltyRatio = d.SmurfingNoveltyRatio
	}
	if c.HighVolumeTxCount <= 0 {
		c.HighVolumeTxCount = d.HighVolumeTxCount
	}
	if c.HighVolumeOverlap <= 0 {
		c.HighVolumeOverlap = d.HighVolumeOverlap
	}
	if c.ShellMaxTxCount <= 0 {
		c.ShellMaxTxCount = d.ShellMaxTxCount
	}
	if c.ShellMinHops <= 0 {
		c.ShellMinHops = d.ShellMinHops
	}
	if c.ShellMaxHops <= 0 {
		c.ShellMaxHops = d.ShellMaxHops
	}
	if c.ShellMaxHops < c.ShellMinHops {
		c.ShellMaxHops = c.ShellMinHops
	}
	if c.VelocityThreshold <= 0 {
		c.VelocityThreshold = d.VelocityThreshold
	}
	return c
}
