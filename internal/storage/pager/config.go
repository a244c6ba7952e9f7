package pager

import (
	"os"

	"gopkg.in/yaml.v3"
)

// StorageManagerConfig controls everything about a StorageManager that
// is an environment concern rather than a call-site argument: where its
// files live, how big its buffer pool is, and which eviction policy and
// I/O mode it uses. The zero value is legal and resolves to
// DefaultStorageManagerConfig's values wherever a field was left unset.
type StorageManagerConfig struct {
	// BaseDir is the directory holding one file per container. Defaults
	// to "." when empty.
	BaseDir string `yaml:"base_dir"`
	// BufferPoolFrames is the buffer pool's fixed frame count.
	BufferPoolFrames int `yaml:"buffer_pool_frames"`
	// PurgeOnShutdown deletes every container file on Shutdown, for
	// ephemeral/test instances.
	PurgeOnShutdown bool `yaml:"purge_on_shutdown"`
	// DirectIO opens container files with O_DIRECT.
	DirectIO bool `yaml:"direct_io"`
	// EvictionPolicy selects "sampled_lru" (default) or "dummy".
	EvictionPolicy string `yaml:"eviction_policy"`
}

// DefaultStorageManagerConfig returns the defaults applied to any zero
// field of a loaded or caller-built config.
func DefaultStorageManagerConfig() StorageManagerConfig {
	return StorageManagerConfig{
		BaseDir:          ".",
		BufferPoolFrames: 256,
		PurgeOnShutdown:  false,
		DirectIO:         false,
		EvictionPolicy:   "sampled_lru",
	}
}

// withDefaults fills any zero-valued field of cfg from the defaults.
func (cfg StorageManagerConfig) withDefaults() StorageManagerConfig {
	d := DefaultStorageManagerConfig()
	if cfg.BaseDir == "" {
		cfg.BaseDir = d.BaseDir
	}
	if cfg.BufferPoolFrames == 0 {
		cfg.BufferPoolFrames = d.BufferPoolFrames
	}
	if cfg.EvictionPolicy == "" {
		cfg.EvictionPolicy = d.EvictionPolicy
	}
	return cfg
}

// LoadStorageManagerConfig reads a YAML config file from path. A missing
// field in the file falls back to DefaultStorageManagerConfig's value.
func LoadStorageManagerConfig(path string) (StorageManagerConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return StorageManagerConfig{}, newErr(KindIOError, err, "read config %s", path)
	}
	var cfg StorageManagerConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return StorageManagerConfig{}, newErr(KindSerializationError, err, "parse config %s", path)
	}
	return cfg.withDefaults(), nil
}

// buildEvictionPolicy constructs the EvictionPolicy named by cfg for a
// pool of the given capacity.
func buildEvictionPolicy(name string, capacity int) (EvictionPolicy, error) {
	switch name {
	case "", "sampled_lru":
		return NewSampledLRU(capacity), nil
	case "dummy":
		return Dummy{}, nil
	default:
		return nil, newErr(KindValidationError, nil, "unknown eviction policy %q", name)
	}
}
