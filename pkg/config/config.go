// Package config holds NervusDB's per-handle configuration.
//
// Unlike the teacher package's environment-variable-driven server config,
// an embedded storage kernel is configured once at Open time by its host
// process. Options is a small, explicit struct with sane defaults
// (Default()), optionally loaded from a YAML file for the diagnostic CLI
// via LoadFile.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Durability selects the fsync discipline used on transaction commit.
type Durability string

const (
	// Sync fsyncs the WAL before acknowledging commit. Safest, slowest.
	Sync Durability = "Sync"
	// Batched fsyncs the WAL once per commit, after all of that
	// transaction's records are appended, rather than once per record.
	// Commits of separate transactions are not grouped. Default.
	Batched Durability = "Batched"
	// Async appends to the WAL without fsync; only the most recent
	// group can be lost on crash, never older committed data.
	Async Durability = "Async"
)

// CompactionPolicy selects how Engine.Compact chooses its inputs.
type CompactionPolicy string

const (
	// Manual compaction runs only when the caller invokes Engine.Compact
	// or Engine.Checkpoint, and then folds every Run and Segment into one
	// Segment. It is the only policy MVP requires (spec.md §1, §6).
	Manual CompactionPolicy = "Manual"
	// SizeTiered is accepted as a configuration value but rejected at
	// Open with a Compatibility error until a future release implements
	// it — background compaction threads are out of scope for MVP
	// (spec.md §1, §9).
	SizeTiered CompactionPolicy = "SizeTiered"
)

// Options is the configuration surface enumerated in spec.md §6.
type Options struct {
	// Durability is the default fsync discipline for commits that do
	// not explicitly override it.
	Durability Durability `yaml:"durability"`

	// PageCacheCapacity bounds the number of 8 KiB pages the pager's
	// ristretto-backed cache may hold.
	PageCacheCapacity int `yaml:"page_cache_capacity"`

	// MaxLabelBytes bounds the UTF-8 byte length of a label or
	// relationship-type name. Range: 1..=255.
	MaxLabelBytes int `yaml:"max_label_bytes"`

	// MaxPropertyKeyBytes bounds the UTF-8 byte length of a property
	// key. Range: 1..=255.
	MaxPropertyKeyBytes int `yaml:"max_property_key_bytes"`

	// CompactionPolicy selects the compaction strategy. MVP requires
	// Manual; any other value is rejected at Open.
	CompactionPolicy CompactionPolicy `yaml:"compaction_policy"`

	// Readonly opens the database without acquiring the writer
	// discipline; BeginWrite always fails.
	Readonly bool `yaml:"readonly"`
}

// Default returns the documented defaults from spec.md §6.
func Default() Options {
	return Options{
		Durability:          Batched,
		PageCacheCapacity:   1024,
		MaxLabelBytes:       255,
		MaxPropertyKeyBytes: 255,
		CompactionPolicy:    Manual,
		Readonly:            false,
	}
}

// Validate checks the enumerated ranges and rejects unsupported
// combinations before Open touches disk.
func (o Options) Validate() error {
	switch o.Durability {
	case Sync, Batched, Async:
	default:
		return fmt.Errorf("config: unknown durability %q", o.Durability)
	}
	if o.PageCacheCapacity <= 0 {
		return fmt.Errorf("config: page_cache_capacity must be positive, got %d", o.PageCacheCapacity)
	}
	if o.MaxLabelBytes < 1 || o.MaxLabelBytes > 255 {
		return fmt.Errorf("config: max_label_bytes must be in 1..=255, got %d", o.MaxLabelBytes)
	}
	if o.MaxPropertyKeyBytes < 1 || o.MaxPropertyKeyBytes > 255 {
		return fmt.Errorf("config: max_property_key_bytes must be in 1..=255, got %d", o.MaxPropertyKeyBytes)
	}
	switch o.CompactionPolicy {
	case Manual:
	case SizeTiered:
		return fmt.Errorf("config: compaction_policy SizeTiered is not implemented in this build")
	default:
		return fmt.Errorf("config: unknown compaction_policy %q", o.CompactionPolicy)
	}
	return nil
}

// LoadFile reads YAML configuration for the diagnostic CLI, overlaying it
// on top of Default(). Programmatic embedders should build Options
// directly instead.
func LoadFile(path string) (Options, error) {
	opts := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return opts, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &opts); err != nil {
		return opts, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return opts, nil
}
