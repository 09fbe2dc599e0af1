package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/distcomp/peerslave/internal/registry"
	"github.com/stretchr/testify/require"
)

func TestResourceParsesInfAndEmptyAsUnbounded(t *testing.T) {
	for _, s := range []string{"", "inf"} {
		v, err := resource(s)
		require.NoError(t, err)
		require.Equal(t, registry.Unbounded, v)
	}
}

func TestResourceParsesNumeric(t *testing.T) {
	v, err := resource("1024")
	require.NoError(t, err)
	require.Equal(t, uint64(1024), v)
}

func TestResourceRejectsGarbage(t *testing.T) {
	_, err := resource("not-a-number")
	require.Error(t, err)
}

func TestSplitListTrimsAndDropsEmpty(t *testing.T) {
	require.Equal(t, []string{"a", "b"}, splitList(" a, b ,,"))
	require.Nil(t, splitList(""))
}

func TestValidateRequiresHostname(t *testing.T) {
	cfg := Config{Number: 1, AuditDriver: "memstore"}
	require.Error(t, cfg.Validate())
	cfg.Hostname = "h1"
	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsUnknownAuditDriver(t *testing.T) {
	cfg := Config{Hostname: "h1", Number: 1, AuditDriver: "bogus"}
	require.Error(t, cfg.Validate())
}

func TestLoadFileExpandsChildren(t *testing.T) {
	path := filepath.Join(t.TempDir(), "peers.yaml")
	doc := `
children:
  - hostname: node-a
    matlab: "echo engine-a"
    port: 9001
  - hostname: node-b
    matlab: "echo engine-b"
    port: 9002
    smartmem: true
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	cfgs, err := LoadFile(path)
	require.NoError(t, err)
	require.Len(t, cfgs, 2)
	require.Equal(t, "node-a", cfgs[0].Hostname)
	require.Equal(t, registry.Unbounded, cfgs[0].MemAvail)
	require.Equal(t, uint16(9002), cfgs[1].Port)
	require.True(t, cfgs[1].SmartMem)
}

func TestLoadFileRejectsEmptyDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.yaml")
	require.NoError(t, os.WriteFile(path, []byte("children: []\n"), 0o644))
	_, err := LoadFile(path)
	require.Error(t, err)
}
