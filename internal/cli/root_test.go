package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "zodbtool", cmd.Use)
	assert.Contains(t, cmd.Long, "replicate")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := []string{"dump", "commit", "restore", "sync", "info"}

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
}

func TestDumpCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	dumpCmd, _, err := cmd.Find([]string{"dump"})
	require.NoError(t, err)

	dbFlag := dumpCmd.Flags().Lookup("db")
	require.NotNil(t, dbFlag)
	// --db is required, so default is empty
	assert.Equal(t, "", dbFlag.DefValue)

	hashFlag := dumpCmd.Flags().Lookup("hash")
	require.NotNil(t, hashFlag)
	assert.Equal(t, "sha1", hashFlag.DefValue)

	hashonlyFlag := dumpCmd.Flags().Lookup("hashonly")
	require.NotNil(t, hashonlyFlag)
	assert.Equal(t, "false", hashonlyFlag.DefValue)
}

func TestCommitCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	commitCmd, _, err := cmd.Find([]string{"commit"})
	require.NoError(t, err)

	dbFlag := commitCmd.Flags().Lookup("db")
	require.NotNil(t, dbFlag)

	atFlag := commitCmd.Flags().Lookup("at")
	require.NotNil(t, atFlag)
	assert.Equal(t, "", atFlag.DefValue)
}

func TestSyncCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	syncCmd, _, err := cmd.Find([]string{"sync"})
	require.NoError(t, err)

	for _, name := range []string{"primary", "secondary", "until", "job"} {
		flag := syncCmd.Flags().Lookup(name)
		require.NotNil(t, flag, "flag %s should exist", name)
	}
}

func TestInfoCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	infoCmd, _, err := cmd.Find([]string{"info"})
	require.NoError(t, err)

	dbFlag := infoCmd.Flags().Lookup("db")
	require.NotNil(t, dbFlag)
}

func TestFormatValidation(t *testing.T) {
	// Test valid formats
	assert.True(t, isValidFormat("text"))
	assert.True(t, isValidFormat("json"))

	// Test invalid formats
	assert.False(t, isValidFormat("xml"))
	assert.False(t, isValidFormat(""))
	assert.False(t, isValidFormat("TEXT"))
}

func TestFormatValidationIntegration(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetArgs([]string{"--format", "invalid", "info", "--db", "nope.db"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}
