// Package config loads the engine's TOML configuration file, following the
// DefaultConfig-plus-tagged-struct pattern used throughout the reference
// corpus for configuring long-running tools from a file that CLI flags can
// then override.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config is the engine's full configuration surface: CLI flags override
// whatever these sections hold.
type Config struct {
	Oracle struct {
		Arch            string `toml:"arch"`
		ArchCode        int    `toml:"arch_code"`
		DisassemblerBin string `toml:"disassembler_bin"`
		CacheFile       string `toml:"cache_file"`
		LiveRangeBin    string `toml:"live_range_bin"`
	} `toml:"oracle"`

	Pipeline struct {
		NumParallel int    `toml:"num_parallel"`
		BatchSize   int    `toml:"batch_size"`
		Filter      string `toml:"filter"`
	} `toml:"pipeline"`

	Report struct {
		OutputDir string `toml:"output_dir"`
		ISAFile   string `toml:"isa_file"`
	} `toml:"report"`
}

// DefaultConfig returns the configuration used when no config file is
// present and no flag overrides it.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Oracle.Arch = "SM90"
	cfg.Oracle.ArchCode = 90
	cfg.Oracle.DisassemblerBin = "nvdisasm"
	cfg.Oracle.CacheFile = "disasm_cache.txt"
	cfg.Oracle.LiveRangeBin = "live_range_analyzer"

	cfg.Pipeline.NumParallel = 8
	cfg.Pipeline.BatchSize = 64
	cfg.Pipeline.Filter = ""

	cfg.Report.OutputDir = "output"
	cfg.Report.ISAFile = "isa.json"

	return cfg
}

// Load reads and merges a TOML configuration file over the defaults. A
// missing file is not an error — it simply leaves the defaults in place.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the configuration back out as TOML, creating parent
// directories as needed.
func (c *Config) Save(path string) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("config: creating %s: %w", dir, err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("config: creating %s: %w", path, err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("config: closing %s: %w", path, closeErr)
		}
	}()

	if err := toml.NewEncoder(f).Encode(c); err != nil {
		return fmt.Errorf("config: encoding %s: %w", path, err)
	}
	return nil
}
