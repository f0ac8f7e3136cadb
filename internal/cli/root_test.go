package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "crr", cmd.Use)
	assert.Contains(t, cmd.Long, "causal-length")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := []string{"init", "write", "changes", "apply", "sync", "digest", "peers", "test"}

	for _, cmdName := range commands {
		t.Run(cmdName, func(t *testing.T) {
			subCmd, _, err := cmd.Find([]string{cmdName})
			require.NoError(t, err, "Command %s should exist", cmdName)
			require.NotNil(t, subCmd)
			assert.Equal(t, cmdName, subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	configFlag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, configFlag)
	assert.Equal(t, "", configFlag.DefValue)
}

func TestCommandFlags(t *testing.T) {
	tests := []struct {
		command string
		flags   []string
	}{
		{"init", []string{"db", "schema"}},
		{"write", []string{"db", "op", "table", "pk", "set"}},
		{"changes", []string{"db", "since", "exclude-site", "out"}},
		{"apply", []string{"db", "in"}},
		{"sync", []string{"from", "to", "both"}},
		{"digest", []string{"db"}},
		{"peers", []string{"db"}},
		{"test", []string{"update", "filter"}},
	}

	root := NewRootCommand()
	for _, tt := range tests {
		t.Run(tt.command, func(t *testing.T) {
			sub, _, err := root.Find([]string{tt.command})
			require.NoError(t, err)
			for _, name := range tt.flags {
				assert.NotNil(t, sub.Flags().Lookup(name), "--%s", name)
			}
		})
	}
}

func TestFormatValidation(t *testing.T) {
	assert.True(t, isValidFormat("text"))
	assert.True(t, isValidFormat("json"))

	assert.False(t, isValidFormat("xml"))
	assert.False(t, isValidFormat(""))
	assert.False(t, isValidFormat("TEXT"))
}

func TestFormatValidationIntegration(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetArgs([]string{"--format", "invalid", "digest"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "invalid format")
}

func TestConfigFlag(t *testing.T) {
	dir := t.TempDir()
	db := initReplica(t, dir, "a.db", 1)

	cfgPath := filepath.Join(dir, "crr.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("database: "+db+"\npage_size: 1\n"), 0644))

	// digest without --db falls back to the configured database.
	cmd := NewRootCommand()
	out, err := execute(t, cmd, "--config", cfgPath, "--format", "json", "digest")
	require.NoError(t, err)

	var res DigestResults
	decodeData(t, out, &res)
	require.Len(t, res.Replicas, 1)
	assert.Equal(t, db, res.Replicas[0].Database)
}

func TestConfigFlag_Invalid(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "crr.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("bogus_key: 1\n"), 0644))

	cmd := NewRootCommand()
	_, err := execute(t, cmd, "--config", cfgPath, "digest")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
