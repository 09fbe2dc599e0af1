package policystate

import (
	"path/filepath"
	"testing"

	"github.com/distcomp/peerslave/internal/registry"
	"github.com/stretchr/testify/require"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "policystate"))
	require.NoError(t, err)

	require.NoError(t, store.Save(registry.PolicySmartCPU, registry.PolicySwitch{Enabled: true, Param: 42.5}))

	sw, ok, err := store.Load(registry.PolicySmartCPU)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 42.5, sw.Param)

	_, ok, err = store.Load(registry.PolicySmartMem)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRestoreAppliesStoredParamOnly(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "policystate"))
	require.NoError(t, err)
	require.NoError(t, store.Save(registry.PolicySmartMem, registry.PolicySwitch{Enabled: true, Param: 77}))

	reg := registry.New(registry.HostDescriptor{ID: 1, Name: "h"}, nil)
	reg.SetPolicy(registry.PolicySmartMem, true, 0)

	require.NoError(t, store.Restore(reg))

	got := reg.Policy(registry.PolicySmartMem)
	require.True(t, got.Enabled) // preserved from SetPolicy, not overwritten by the stored value
	require.Equal(t, 77.0, got.Param)
}
