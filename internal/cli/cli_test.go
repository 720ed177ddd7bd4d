package cli

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runCLI executes the root command with the given args against a database
// under dir, returning combined output.
func runCLI(t *testing.T, dir string, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	full := append([]string{
		"--config", filepath.Join(dir, "missing.yaml"),
		"--db", filepath.Join(dir, "kioku.db"),
		"--device", "dev-test",
	}, args...)
	cmd.SetArgs(full)
	err := cmd.Execute()
	return buf.String(), err
}

func TestGradeThenStatus(t *testing.T) {
	dir := t.TempDir()

	out, err := runCLI(t, dir, "grade", "word-inu", "good", "--user", "u1")
	require.NoError(t, err, out)
	assert.Contains(t, out, "word-inu")
	assert.Contains(t, out, "Learning")

	out, err = runCLI(t, dir, "status", "word-inu", "--user", "u1")
	require.NoError(t, err, out)
	assert.Contains(t, out, "reviews")
}

func TestGradeRejectsBadGrade(t *testing.T) {
	_, err := runCLI(t, t.TempDir(), "grade", "word-inu", "perfect", "--user", "u1")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestStatusSetIgnored(t *testing.T) {
	dir := t.TempDir()

	out, err := runCLI(t, dir, "grade", "word-inu", "good", "--user", "u1")
	require.NoError(t, err, out)

	out, err = runCLI(t, dir, "status", "word-inu", "--user", "u1", "--set", "Ignored")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Ignored")

	// Ignored is terminal until explicit reactivation.
	_, err = runCLI(t, dir, "status", "word-inu", "--user", "u1", "--set", "Known")
	require.Error(t, err)
}

func TestPushAndSyncRoundTrip(t *testing.T) {
	dirA := t.TempDir()
	dirB := t.TempDir()
	deltaFile := filepath.Join(dirA, "delta.json")

	out, err := runCLI(t, dirA, "grade", "word-inu", "good", "--user", "u1")
	require.NoError(t, err, out)

	out, err = runCLI(t, dirA, "push", "--user", "u1", "-o", deltaFile)
	require.NoError(t, err, out)
	assert.Contains(t, out, "wrote 1 events")

	out, err = runCLI(t, dirB, "sync", deltaFile, "--user", "u1")
	require.NoError(t, err, out)
	assert.Contains(t, out, "applied 1 events")

	// Second sync of the same file is a clean no-op.
	out, err = runCLI(t, dirB, "sync", deltaFile, "--user", "u1")
	require.NoError(t, err, out)
	assert.Contains(t, out, "1 duplicates")
}

func TestReplayCommand(t *testing.T) {
	dir := t.TempDir()

	out, err := runCLI(t, dir, "grade", "word-inu", "good", "--user", "u1")
	require.NoError(t, err, out)

	out, err = runCLI(t, dir, "replay", "--user", "u1")
	require.NoError(t, err, out)
	assert.Contains(t, out, "replayed 1 items")
}

func TestGateCommandJSON(t *testing.T) {
	dir := t.TempDir()

	out, err := runCLI(t, dir, "gate", "--user", "u1", "--format", "json")
	require.NoError(t, err, out)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)

	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Free", data["tier"])
	assert.Equal(t, "Standard", data["scheduler_mode"])
	assert.Equal(t, true, data["allowed"])
}

func TestProfileSuppressAndShow(t *testing.T) {
	dir := t.TempDir()

	out, err := runCLI(t, dir, "profile", "--user", "u1", "--suppress", "word-inu")
	require.NoError(t, err, out)
	assert.Contains(t, out, "suppressed word-inu")

	out, err = runCLI(t, dir, "profile", "--user", "u1", "--topic", "travel", "--weight", "0.8")
	require.NoError(t, err, out)

	out, err = runCLI(t, dir, "profile", "--user", "u1")
	require.NoError(t, err, out)
	assert.Contains(t, out, "suppressed: word-inu")
	assert.Contains(t, out, "travel")

	out, err = runCLI(t, dir, "profile", "--user", "u1", "--restore", "word-inu")
	require.NoError(t, err, out)
	assert.Contains(t, out, "restored word-inu")
}

func TestProfilePreferencesTravelWithPush(t *testing.T) {
	dirA := t.TempDir()
	dirB := t.TempDir()
	deltaFile := filepath.Join(dirA, "delta.json")

	out, err := runCLI(t, dirA, "profile", "--user", "u1", "--suppress", "word-inu")
	require.NoError(t, err, out)

	out, err = runCLI(t, dirA, "push", "--user", "u1", "-o", deltaFile)
	require.NoError(t, err, out)

	out, err = runCLI(t, dirB, "sync", deltaFile, "--user", "u1")
	require.NoError(t, err, out)

	out, err = runCLI(t, dirB, "profile", "--user", "u1")
	require.NoError(t, err, out)
	assert.Contains(t, out, "suppressed: word-inu")
}

func TestGateConsumeExhaustsQuota(t *testing.T) {
	dir := t.TempDir()

	// Default free limit is 3 per window.
	for i := 0; i < 3; i++ {
		out, err := runCLI(t, dir, "gate", "--user", "u1", "--consume")
		require.NoError(t, err, out)
	}
	out, err := runCLI(t, dir, "gate", "--user", "u1", "--consume")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "QUOTA_EXCEEDED")
}
