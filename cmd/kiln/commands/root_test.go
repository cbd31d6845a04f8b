package commands

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootRegistersAllCommands(t *testing.T) {
	root := Root()

	want := []string{"init", "plan", "apply", "destroy", "deploy", "rollback", "rollout", "status", "unlock", "version"}
	var got []string
	for _, c := range root.Commands() {
		got = append(got, c.Name())
	}
	for _, name := range want {
		assert.Contains(t, got, name)
	}
}

func TestRollbackRejectsNonNumericRevision(t *testing.T) {
	cmd := Rollback()
	cmd.SetArgs([]string{"latest"})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "positive number")
}

func TestDeployAcceptsAtMostOneImage(t *testing.T) {
	cmd := Deploy()
	cmd.SetArgs([]string{"app:v1", "app:v2"})
	assert.Error(t, cmd.Execute())
}

func TestUnlockRequiresForce(t *testing.T) {
	cmd := Unlock()
	cmd.SetArgs([]string{})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--force")
}

func TestVersionOutput(t *testing.T) {
	SetVersionInfo("1.2.3", "abc123", "2026-08-29")
	assert.Equal(t, "1.2.3", version)
	assert.Equal(t, "abc123", commit)
}
