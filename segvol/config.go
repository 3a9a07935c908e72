/*
	This file handles configuration of the segmentation engine via TOML files
	plus the generic keyword-based settings passed to storage engines.
*/

package segvol

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Config is a map of keyword to arbitrary data to specify configurations via keyword.
type Config map[string]interface{}

// GetString returns a string setting or sets ok to false if the keyword is
// absent or not a string.
func (c Config) GetString(key string) (value string, ok bool) {
	var v interface{}
	if v, ok = c[key]; !ok {
		return
	}
	value, ok = v.(string)
	return
}

// GetBool returns a bool setting, defaulting to false if the keyword is absent.
func (c Config) GetBool(key string) (value bool, ok bool) {
	var v interface{}
	if v, ok = c[key]; !ok {
		return
	}
	value, ok = v.(bool)
	return
}

// GetInt returns an int setting or sets ok to false if it can't cast the value
// or the keyword is absent.
func (c Config) GetInt(key string) (value int, ok bool) {
	var v interface{}
	if v, ok = c[key]; !ok {
		return
	}
	switch n := v.(type) {
	case int:
		value = n
	case int64:
		value = int(n)
	case float64:
		value = int(n)
	default:
		ok = false
	}
	return
}

// StoreConfig is a store-specific configuration where each store
// implementation defines the types of parameters it accepts.
type StoreConfig struct {
	Config

	// Engine is a simple name describing the engine, e.g., "filestore".
	Engine string
}

// GetAll returns the full set of keyword settings.
func (c StoreConfig) GetAll() Config {
	return c.Config
}

// WorkingSetConfig bounds the in-memory working set of label volumes.
type WorkingSetConfig struct {
	// Capacity is the maximum number of resident label volumes.
	Capacity int

	// FlushTimeout bounds a durable write during eviction, in seconds.
	// On timeout the entry stays resident rather than being dropped with
	// unflushed edits.
	FlushTimeout int `toml:"flush_timeout"`
}

// RenderCacheConfig sizes the opportunistic in-process cache for rendered
// overlays and serialized masks.
type RenderCacheConfig struct {
	// MBytes is the cache size in megabytes.  Zero disables the cache.
	MBytes int
}

// EngineConfig is the top-level parsed TOML configuration.
type EngineConfig struct {
	Store       map[string]interface{}
	Log         LogConfig
	WorkingSet  WorkingSetConfig  `toml:"workingset"`
	RenderCache RenderCacheConfig `toml:"rendercache"`
}

// StoreConfig extracts the storage engine settings from the [store] table.
func (c *EngineConfig) StoreConfig() (StoreConfig, error) {
	engine, ok := c.Store["engine"].(string)
	if !ok || engine == "" {
		return StoreConfig{}, fmt.Errorf(`configuration [store] table must set "engine"`)
	}
	settings := make(Config, len(c.Store))
	for k, v := range c.Store {
		if k == "engine" {
			continue
		}
		settings[k] = v
	}
	return StoreConfig{Config: settings, Engine: engine}, nil
}

// LoadConfig reads a TOML configuration file, applying defaults for any
// unset working-set settings.
func LoadConfig(filename string) (*EngineConfig, error) {
	if filename == "" {
		return nil, fmt.Errorf("no configuration file specified")
	}
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("could not read config file %q: %v", filename, err)
	}
	var c EngineConfig
	if _, err := toml.Decode(string(data), &c); err != nil {
		return nil, fmt.Errorf("could not decode TOML config %q: %v", filename, err)
	}
	if c.WorkingSet.Capacity == 0 {
		c.WorkingSet.Capacity = DefaultWorkingSetCapacity
	}
	if c.WorkingSet.FlushTimeout == 0 {
		c.WorkingSet.FlushTimeout = DefaultFlushTimeoutSec
	}
	return &c, nil
}

const (
	// DefaultWorkingSetCapacity bounds resident label volumes, each of which
	// may be hundreds of megabytes.
	DefaultWorkingSetCapacity = 5

	// DefaultFlushTimeoutSec bounds a durable write during eviction.
	DefaultFlushTimeoutSec = 30
)
