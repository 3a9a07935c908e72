package segvol

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfig(t *testing.T) {
	tomlData := `
[store]
engine = "filestore"
path = "/data/segvol"

[log]
logfile = "/var/log/segvol.log"
max_log_size = 500
max_log_age = 30

[workingset]
capacity = 3
flush_timeout = 10

[rendercache]
mbytes = 64
`
	fname := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(fname, []byte(tomlData), 0644); err != nil {
		t.Fatalf("can't write config file: %v\n", err)
	}

	c, err := LoadConfig(fname)
	if err != nil {
		t.Fatalf("LoadConfig: %v\n", err)
	}
	if c.WorkingSet.Capacity != 3 || c.WorkingSet.FlushTimeout != 10 {
		t.Fatalf("bad working set config: %+v\n", c.WorkingSet)
	}
	if c.RenderCache.MBytes != 64 {
		t.Fatalf("bad render cache config: %+v\n", c.RenderCache)
	}
	if c.Log.Logfile != "/var/log/segvol.log" || c.Log.MaxSize != 500 {
		t.Fatalf("bad log config: %+v\n", c.Log)
	}

	sc, err := c.StoreConfig()
	if err != nil {
		t.Fatalf("StoreConfig: %v\n", err)
	}
	if sc.Engine != "filestore" {
		t.Fatalf("expected engine filestore, got %q\n", sc.Engine)
	}
	path, found := sc.GetAll().GetString("path")
	if !found || path != "/data/segvol" {
		t.Fatalf("bad path setting: %q %v\n", path, found)
	}
	if _, found := sc.GetAll().GetString("engine"); found {
		t.Fatalf("engine keyword should not leak into store settings\n")
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	fname := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(fname, []byte("[store]\nengine = \"filestore\"\n"), 0644); err != nil {
		t.Fatalf("can't write config file: %v\n", err)
	}
	c, err := LoadConfig(fname)
	if err != nil {
		t.Fatalf("LoadConfig: %v\n", err)
	}
	if c.WorkingSet.Capacity != DefaultWorkingSetCapacity {
		t.Fatalf("expected default capacity %d, got %d\n", DefaultWorkingSetCapacity, c.WorkingSet.Capacity)
	}
	if c.WorkingSet.FlushTimeout != DefaultFlushTimeoutSec {
		t.Fatalf("expected default flush timeout %d, got %d\n", DefaultFlushTimeoutSec, c.WorkingSet.FlushTimeout)
	}

	if _, err := LoadConfig(""); err == nil {
		t.Fatalf("expected error for empty config filename\n")
	}
}

func TestConfigGetters(t *testing.T) {
	c := Config{"path": "/tmp/x", "testing": true, "cache_mb": int64(128), "ratio": 2.0}
	if v, ok := c.GetString("path"); !ok || v != "/tmp/x" {
		t.Fatalf("GetString: %q %v\n", v, ok)
	}
	if v, ok := c.GetBool("testing"); !ok || !v {
		t.Fatalf("GetBool: %v %v\n", v, ok)
	}
	if v, ok := c.GetInt("cache_mb"); !ok || v != 128 {
		t.Fatalf("GetInt int64: %d %v\n", v, ok)
	}
	if v, ok := c.GetInt("ratio"); !ok || v != 2 {
		t.Fatalf("GetInt float64: %d %v\n", v, ok)
	}
	if _, ok := c.GetString("absent"); ok {
		t.Fatalf("expected miss for absent keyword\n")
	}
}
