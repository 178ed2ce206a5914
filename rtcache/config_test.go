package rtcache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/goccy/go-yaml"
	"github.com/google/go-cmp/cmp"
)

func TestConfigDefaults(t *testing.T) {
	if err := DefaultConfig.Validate(); err != nil {
		t.Fatal(err)
	}
	for _, name := range DefaultConfig.Groups {
		if _, err := ParseGroup(name); err != nil {
			t.Error(err)
		}
	}
	if _, err := ParseGroup("mpls-route"); err == nil {
		t.Error("unknown group accepted")
	}
}

func TestConfigYAML(t *testing.T) {
	var c Config
	err := yaml.Unmarshal([]byte("requestTimeoutMs: 250\ngroups: [link, neigh]\nresyncOnOverrun: false\n"), &c)
	if err != nil {
		t.Fatal(err)
	}
	want := DefaultConfig
	want.RequestTimeoutMs = 250
	want.Groups = []string{"link", "neigh"}
	want.ResyncOnOverrun = false
	if diff := cmp.Diff(want, c); diff != "" {
		t.Errorf("config (-want +got):\n%s", diff)
	}
	if len(DefaultConfig.Groups) != 6 {
		t.Error("defaults modified")
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) string {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
		return path
	}

	c, err := LoadConfig(write("ok.yaml", "eventBuffer: 8\nlog: false\n"))
	if err != nil {
		t.Fatal(err)
	}
	if c.EventBuffer != 8 || c.Log || c.RequestTimeoutMs != DefaultConfig.RequestTimeoutMs {
		t.Errorf("unexpected %v", c)
	}

	invalid := map[string]string{
		"group.yaml":   "groups: [link, xfrm]\n",
		"timeout.yaml": "requestTimeoutMs: -1\n",
		"buffer.yaml":  "receiveBufferSize: -4096\n",
	}
	for name, body := range invalid {
		if _, err := LoadConfig(write(name, body)); err == nil {
			t.Errorf("%s: accepted", name)
		}
	}
	if _, err := LoadConfig(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("missing file accepted")
	}
}
