package tweakables_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/BurntSushi/toml"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ionforge/ioncore/tweakables"
)

func TestValueClampsOnConstructAndSet(t *testing.T) {
	r := tweakables.NewRegistry()
	v := tweakables.NewValue(r, tweakables.Tweakable, "worker.batch_size", 10, 1, 8)
	assert.Equal(t, 8, v.Get(), "construct-time clamp to max")

	v.Set(-5)
	assert.Equal(t, 1, v.Get(), "runtime clamp to min")
}

func TestPendingValueAppliesOnlyOnApplyPending(t *testing.T) {
	r := tweakables.NewRegistry()
	v := tweakables.NewValue(r, tweakables.Tweakable, "scheduler.min_parallelism", 2, 1, 16)

	v.SetPending(10)
	assert.Equal(t, 2, v.Get(), "pending value must not be visible before apply")

	n := r.ApplyPending()
	assert.Equal(t, 1, n)
	assert.Equal(t, 10, v.Get())

	assert.Equal(t, 0, r.ApplyPending(), "second apply with nothing pending changes nothing")
}

func TestSaveFileRoundTrip(t *testing.T) {
	r := tweakables.NewRegistry()
	v := tweakables.NewValue(r, tweakables.Config, "render.max_fps", 60, 15, 240)
	v.Set(120)

	path := filepath.Join(t.TempDir(), "tweakables.toml")
	require.NoError(t, r.SaveFile(path))

	r2 := tweakables.NewRegistry()
	v2 := tweakables.NewValue(r2, tweakables.Config, "render.max_fps", 60, 15, 240)
	require.NoError(t, r2.LoadFile(path))
	assert.Equal(t, 120, v2.Get())

	_, err := os.Stat(path)
	require.NoError(t, err)
}

func TestDisableSerializationExcludesFromSave(t *testing.T) {
	r := tweakables.NewRegistry()
	s := tweakables.NewString(r, "debug.token", "abc")
	s.DisableSerialization()
	s.Set("changed")

	out := r.Save()
	_, ok := out["debug.token"]
	assert.False(t, ok)
}

func TestStringIsSet(t *testing.T) {
	r := tweakables.NewRegistry()
	s := tweakables.NewString(r, "net.bind_addr", "")
	assert.False(t, s.IsSet())
	s.Set("0.0.0.0:8080")
	assert.True(t, s.IsSet())
}

func TestSetTweakableBeforeRegistrationFromCLI(t *testing.T) {
	r := tweakables.NewRegistry()
	r.SetTweakable("speed", int64(15), true)

	v := tweakables.NewValue(r, tweakables.Config, "speed", 7, 0, 100)
	assert.Equal(t, 15, v.Get(), "a value staged via SetTweakable before registration must win over the constructor default")

	path := filepath.Join(t.TempDir(), "tweakables.toml")
	require.NoError(t, r.SaveFile(path))

	raw := make(map[string]any)
	_, err := toml.DecodeFile(path, &raw)
	require.NoError(t, err)
	_, ok := raw["speed"]
	assert.False(t, ok, "a CLI-sourced value is retained as the new default, so it must not be flagged should_save")
}

func TestSetTweakableAfterRegistrationAppliesImmediately(t *testing.T) {
	r := tweakables.NewRegistry()
	v := tweakables.NewValue(r, tweakables.Tweakable, "worker.count", 4, 1, 16)
	r.SetTweakable("worker.count", int64(9), false)
	assert.Equal(t, 9, v.Get())
}

func TestSetTweakableNonCLIStillFlagsSave(t *testing.T) {
	r := tweakables.NewRegistry()
	r.SetTweakable("render.quality", int64(3), false)
	tweakables.NewValue(r, tweakables.Config, "render.quality", 1, 0, 5)

	path := filepath.Join(t.TempDir(), "tweakables.toml")
	require.NoError(t, r.SaveFile(path))

	raw := make(map[string]any)
	_, err := toml.DecodeFile(path, &raw)
	require.NoError(t, err)
	_, ok := raw["render.quality"]
	assert.True(t, ok, "a non-CLI pending value still differs from the constructor default, so it must be saved")
}

func TestSetTweakableForString(t *testing.T) {
	r := tweakables.NewRegistry()
	r.SetTweakable("net.bind_addr", "127.0.0.1:9090", true)
	s := tweakables.NewString(r, "net.bind_addr", "0.0.0.0:8080")
	assert.Equal(t, "127.0.0.1:9090", s.Get())
}
