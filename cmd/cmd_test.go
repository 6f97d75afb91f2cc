package cmd

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/babelcloud/hopemirror/internal/core"
	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandsRegistered(t *testing.T) {
	var names []string
	for _, c := range rootCmd.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"devices", "mirror", "screenshot", "key", "text", "version"} {
		assert.Contains(t, names, want)
	}
	assert.NotNil(t, rootCmd.PersistentFlags().Lookup("verbose"))
}

func TestVersionCommandJSON(t *testing.T) {
	cmd := NewVersionCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--format", "json"})
	require.NoError(t, cmd.Execute())

	var info map[string]string
	require.NoError(t, json.Unmarshal(out.Bytes(), &info))
	assert.Equal(t, "dev", info["Version"])
	assert.NotEmpty(t, info["GoVersion"])
}

func TestKeyCommandRejectsUnknownKey(t *testing.T) {
	cmd := NewKeyCommand()
	cmd.SetArgs([]string{"R58M", "warp"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "volume_up")
}

func TestMirrorFlags(t *testing.T) {
	cmd := NewMirrorCommand()
	for _, name := range []string{"strategy", "scale", "addr", "fps", "open", "no-preview", "screenshot-dir"} {
		assert.NotNil(t, cmd.Flags().Lookup(name), name)
	}
}

func TestStateColor(t *testing.T) {
	prev := color.NoColor
	color.NoColor = false
	defer func() { color.NoColor = prev }()

	assert.NotEqual(t, stateColor(core.StateStreaming).Sprint("x"), stateColor(core.StateFailed).Sprint("x"))
	assert.Equal(t, stateColor(core.StateStarting).Sprint("x"), stateColor(core.StateStopping).Sprint("x"))
}
