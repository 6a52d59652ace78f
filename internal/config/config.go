// Package config resolves the tiered allocator's tunables from compiled-in
// defaults, environment variables, and an optional hot-reloadable config
// file (SPEC_FULL.md §4.8). It generalizes the teacher's
// internal/allocator.Config/Option pattern (allocator.go) to the full
// parameter set spec §6 lists.
package config

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"sync/atomic"

	semver "github.com/Masterminds/semver/v3"
)

// SchemaConstraint is the range of config-file schema versions this
// binary understands. Bumped only on a breaking key rename/removal.
const SchemaConstraint = ">= 1.0.0, < 2.0.0"

// Config holds every tunable from spec §6's configuration table.
type Config struct {
	SBSize          uintptr // SB_SIZE: superblock size, power of two
	NumLocalHeaps   int     // P: local heap count, default 2x logical CPUs
	SMax            uintptr // S_MAX: large-allocation threshold
	Batch           int     // B: batch transfer size
	EvictFraction   float64 // f: eviction fraction, default 1/4
	EvictSlack      uint64  // K: eviction slack in SB_SIZE units, default 1
	BootstrapBytes  uintptr // bootstrap bump arena size
	TLABBudgetBytes uintptr // C_k aggregate budget per thread

	// DebugMode enables the per-block double-free tombstone check (spec
	// §7, §8 invariant 1). Off by default: it costs a canary write on
	// every free and a canary check before relinking the free list, which
	// the fast path doesn't pay for otherwise.
	DebugMode bool

	// ConfigFile, when set, is watched for live updates to EvictFraction,
	// EvictSlack, and Batch only; the rest are fixed at process init
	// (SPEC_FULL.md §4.8).
	ConfigFile string
}

// Default returns the compiled-in baseline before env/file overrides.
func Default() Config {
	return Config{
		SBSize:          256 * 1024,
		NumLocalHeaps:   0, // 0 means "resolve to 2x GOMAXPROCS in tieredalloc.New"
		SMax:            32 * 1024,
		Batch:           32,
		EvictFraction:   0.25,
		EvictSlack:      1,
		BootstrapBytes:  64 * 1024,
		TLABBudgetBytes: 64 * 1024,
	}
}

const envPrefix = "TIEREDALLOC_"

// Load resolves a Config from defaults, then TIEREDALLOC_* environment
// variables, then (if TIEREDALLOC_CONFIG_FILE names a file) the key=value
// file contents.
func Load() (Config, error) {
	cfg := Default()
	cfg.applyEnv()

	if path := os.Getenv(envPrefix + "CONFIG_FILE"); path != "" {
		cfg.ConfigFile = path
	}

	if cfg.ConfigFile != "" {
		if err := cfg.applyFile(cfg.ConfigFile); err != nil {
			return Config{}, err
		}
	}

	return cfg, nil
}

func (c *Config) applyEnv() {
	if v, ok := envUint(envPrefix + "SB_SIZE"); ok {
		c.SBSize = v
	}

	if v, ok := envInt(envPrefix + "P"); ok {
		c.NumLocalHeaps = v
	}

	if v, ok := envUint(envPrefix + "S_MAX"); ok {
		c.SMax = v
	}

	if v, ok := envInt(envPrefix + "BATCH"); ok {
		c.Batch = v
	}

	if v, ok := envFloat(envPrefix + "EVICT_F"); ok {
		c.EvictFraction = v
	}

	if v, ok := envUint64(envPrefix + "EVICT_K"); ok {
		c.EvictSlack = v
	}

	if v, ok := envUint(envPrefix + "BOOTSTRAP_BYTES"); ok {
		c.BootstrapBytes = v
	}

	if v, ok := envUint(envPrefix + "TLAB_BUDGET_BYTES"); ok {
		c.TLABBudgetBytes = v
	}

	if v, ok := envBool(envPrefix + "DEBUG"); ok {
		c.DebugMode = v
	}
}

// applyFile parses a flat key=value config file and validates its
// schema_version against SchemaConstraint (SPEC_FULL.md §4.8), grounded
// on the teacher's semver-constrained dependency resolution
// (cmd/orizon/pkg/commands/outdated.go).
func (c *Config) applyFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}

		return fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()

	kv, err := parseKV(f)
	if err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}

	if raw, ok := kv["schema_version"]; ok {
		if err := validateSchemaVersion(raw); err != nil {
			return fmt.Errorf("config: %s: %w", path, err)
		}
	}

	if v, ok := kv["evict_f"]; ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.EvictFraction = f
		}
	}

	if v, ok := kv["evict_k"]; ok {
		if u, err := strconv.ParseUint(v, 10, 64); err == nil {
			c.EvictSlack = u
		}
	}

	if v, ok := kv["batch"]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			c.Batch = n
		}
	}

	return nil
}

func validateSchemaVersion(raw string) error {
	v, err := semver.NewVersion(raw)
	if err != nil {
		return fmt.Errorf("invalid schema_version %q: %w", raw, err)
	}

	constraint, err := semver.NewConstraint(SchemaConstraint)
	if err != nil {
		// The constraint string is a compile-time constant; a parse
		// failure here is a programmer error, not a config error.
		panic(err)
	}

	if !constraint.Check(v) {
		return fmt.Errorf("schema_version %s does not satisfy %s", raw, SchemaConstraint)
	}

	return nil
}

func parseKV(f *os.File) (map[string]string, error) {
	kv := make(map[string]string)
	scanner := bufio.NewScanner(f)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		idx := strings.IndexByte(line, '=')
		if idx < 0 {
			return nil, fmt.Errorf("malformed line %q", line)
		}

		key := strings.TrimSpace(line[:idx])
		val := strings.TrimSpace(line[idx+1:])
		kv[key] = val
	}

	return kv, scanner.Err()
}

func envUint(name string) (uintptr, bool) {
	v, ok := os.LookupEnv(name)
	if !ok {
		return 0, false
	}

	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, false
	}

	return uintptr(n), true
}

func envUint64(name string) (uint64, bool) {
	v, ok := os.LookupEnv(name)
	if !ok {
		return 0, false
	}

	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, false
	}

	return n, true
}

func envInt(name string) (int, bool) {
	v, ok := os.LookupEnv(name)
	if !ok {
		return 0, false
	}

	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}

	return n, true
}

func envBool(name string) (bool, bool) {
	v, ok := os.LookupEnv(name)
	if !ok {
		return false, false
	}

	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, false
	}

	return b, true
}

func envFloat(name string) (float64, bool) {
	v, ok := os.LookupEnv(name)
	if !ok {
		return 0, false
	}

	n, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}

	return n, true
}

// Live holds the subset of Config that may be hot-reloaded while the
// allocator is running: EvictFraction, EvictSlack, and Batch. Everything
// else is fixed at process-lifetime-singleton init (SPEC_FULL.md §4.8,
// §9).
type Live struct {
	f     atomic.Uint64 // math.Float64bits
	k     atomic.Uint64
	batch atomic.Int64
}

// NewLive seeds a Live view from an initial Config.
func NewLive(cfg Config) *Live {
	l := &Live{}
	l.Store(cfg)

	return l
}

func (l *Live) Store(cfg Config) {
	l.f.Store(math.Float64bits(cfg.EvictFraction))
	l.k.Store(cfg.EvictSlack)
	l.batch.Store(int64(cfg.Batch))
}

func (l *Live) EvictFraction() float64 { return math.Float64frombits(l.f.Load()) }
func (l *Live) EvictSlack() uint64     { return l.k.Load() }
func (l *Live) Batch() int             { return int(l.batch.Load()) }
