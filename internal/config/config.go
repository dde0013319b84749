// Package config holds the closed, validated tunables for one Job. Parsing
// config files and loading credentials is out of core scope (spec.md §1);
// this package only validates the typed result, the way the teacher's
// internal/entity package hand-validates its enums.
package config

import (
	"fmt"
	"time"

	"github.com/sjksingh/snowtsv-loader/internal/coreerr"
	"github.com/sjksingh/snowtsv-loader/internal/model"
)

// Config is a closed record: every field recognized by spec.md §6 has a
// dedicated field here. Unknown options are a CONFIG_INVALID error at the
// call site that parses raw input into this struct, never a silent runtime
// surprise inside the core.
type Config struct {
	Workers           int
	PoolCapacity      int
	AsyncThreshold    int64
	PollInterval      time.Duration
	MaxWait           time.Duration
	KeepaliveInterval time.Duration
	CompressionLevel  int
	ParallelUploads   int
	ValidationPolicy  model.ValidationPolicy
	ContinueOnError   bool
	DuplicateKey      []string

	// StrictQuality fails a file with QUALITY_FAILED on any row-level
	// anomaly instead of only warning about it.
	StrictQuality bool
	// StrictCompleteness fails a Job with WAREHOUSE_VALIDATION_FAILED on
	// missing dates/anomalies instead of only warning about them.
	StrictCompleteness bool

	MaxAttempts int
}

// Default returns the spec.md §6 default tunables.
func Default() Config {
	return Config{
		Workers:           4,
		PoolCapacity:      10,
		AsyncThreshold:    100 * 1024 * 1024,
		PollInterval:      30 * time.Second,
		MaxWait:           2 * time.Hour,
		KeepaliveInterval: 240 * time.Second,
		CompressionLevel:  1,
		ParallelUploads:   4,
		ValidationPolicy:  model.PolicyBoth,
		ContinueOnError:   true,
		MaxAttempts:       2,
	}
}

// Validate rejects contradictory or out-of-range tunables at Job start,
// fatal per spec.md §7 (CONFIG_INVALID).
func (c Config) Validate() error {
	if c.Workers <= 0 {
		return coreerr.New(coreerr.KindConfigInvalid, "workers must be positive", map[string]any{"workers": c.Workers})
	}
	if c.PoolCapacity <= 0 {
		return coreerr.New(coreerr.KindConfigInvalid, "poolCapacity must be positive", map[string]any{"poolCapacity": c.PoolCapacity})
	}
	if c.CompressionLevel < 1 || c.CompressionLevel > 9 {
		return coreerr.New(coreerr.KindConfigInvalid, "compressionLevel must be in [1,9]", map[string]any{"compressionLevel": c.CompressionLevel})
	}
	if c.ParallelUploads <= 0 {
		return coreerr.New(coreerr.KindConfigInvalid, "parallelUploads must be positive", map[string]any{"parallelUploads": c.ParallelUploads})
	}
	switch c.ValidationPolicy {
	case model.PolicySkip, model.PolicyFileOnly, model.PolicyWarehouseOnly, model.PolicyBoth:
	default:
		return coreerr.New(coreerr.KindConfigInvalid, fmt.Sprintf("unknown validationPolicy %q", c.ValidationPolicy), nil)
	}
	if c.MaxAttempts <= 0 {
		return coreerr.New(coreerr.KindConfigInvalid, "maxAttempts must be positive", map[string]any{"maxAttempts": c.MaxAttempts})
	}
	return nil
}

// EffectiveWorkers applies the capacity policy from spec.md §4.1: the
// number of concurrent file workers never exceeds the pool capacity.
func (c Config) EffectiveWorkers() int {
	if c.PoolCapacity < c.Workers {
		return c.PoolCapacity
	}
	return c.Workers
}
