package cli_test

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"repo-backup/src/cli"
	"repo-backup/src/version"
)

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := cli.NewRootCmd(&out, &errOut)
	// cobra falls back to os.Args when given nil
	cmd.SetArgs(append([]string{}, args...))
	_, err := cmd.ExecuteC()
	return out.String(), errOut.String(), err
}

func writeConfig(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	p := filepath.Join(dir, "repository.yaml")
	require.NoError(t, os.WriteFile(p, []byte(
		"name: repo\nstorage:\n  path: data/nodes.db\nbinaryStorage:\n  directory: data/binaries\n"), 0o644))
	return dir, p
}

func TestRootHelp_ShowsUsage(t *testing.T) {
	out, _, err := execute(t, "--help")
	require.NoError(t, err)
	require.Contains(t, out, "Usage:")
	require.Contains(t, out, "repo-backup")
	for _, name := range []string{"log-level", "log-format", "username", "password", "progress", "metrics-file"} {
		require.Contains(t, out, "--"+name)
	}
}

func TestRoot_Version(t *testing.T) {
	out, _, err := execute(t, "version")
	require.NoError(t, err)
	require.Contains(t, out, version.Version)
}

func TestRoot_WrongArgumentsPrintUsage(t *testing.T) {
	_, p := writeConfig(t)
	for name, args := range map[string][]string{
		"none":     nil,
		"two":      {p, "/tmp/backup"},
		"four":     {p, "/tmp/backup", "b", "extra"},
		"bad mode": {p, "/tmp/backup", "x"},
	} {
		t.Run(name, func(t *testing.T) {
			_, stderr, err := execute(t, args...)
			require.NoError(t, err)
			require.True(t, strings.HasPrefix(stderr, "There must be 3 arguments!"), stderr)
			require.Contains(t, stderr, "<b|r>")
		})
	}
}

func TestRoot_MissingConfig(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope.yaml")
	_, _, err := execute(t, missing, t.TempDir(), "b")
	require.Error(t, err)
	require.Contains(t, err.Error(), "file not found")
}

func TestRoot_InvalidLogLevel(t *testing.T) {
	_, p := writeConfig(t)
	_, _, err := execute(t, "--log-level", "loud", p, t.TempDir(), "b")
	require.Error(t, err)
}

func TestRoot_BackupThenRestore(t *testing.T) {
	dir, p := writeConfig(t)
	backupDir := filepath.Join(dir, "backup")

	_, stderr, err := execute(t, p, backupDir, "b")
	require.NoError(t, err)
	require.Contains(t, stderr, "successful backup")
	require.FileExists(t, filepath.Join(backupDir, "backup.yaml"))

	require.NoError(t, os.RemoveAll(filepath.Join(dir, "data")))

	_, stderr, err = execute(t, "--log-format", "json", p, "dir:"+backupDir, "R")
	require.NoError(t, err)
	require.Contains(t, stderr, `"msg":"successful restore"`)
}

func TestRoot_EnvironmentSettings(t *testing.T) {
	_, p := writeConfig(t)
	t.Setenv("REPO_BACKUP_LOG_FORMAT", "json")
	_, stderr, err := execute(t, p, t.TempDir(), "b")
	require.NoError(t, err)
	require.Contains(t, stderr, `"msg":"successful backup"`)
}

func TestRoot_MetricsFile(t *testing.T) {
	dir, p := writeConfig(t)
	metricsFile := filepath.Join(dir, "repo_backup.prom")

	_, _, err := execute(t, "--metrics-file", metricsFile, p, filepath.Join(dir, "backup"), "b")
	require.NoError(t, err)
	b, err := os.ReadFile(metricsFile)
	require.NoError(t, err)
	require.Contains(t, string(b), `repo_backup_last_run_success{mode="backup"} 1`)

	_, _, err = execute(t, "--metrics-file", metricsFile, p, filepath.Join(dir, "missing"), "r")
	require.Error(t, err)
	b, err = os.ReadFile(metricsFile)
	require.NoError(t, err)
	require.Contains(t, string(b), `repo_backup_last_run_success{mode="restore"} 0`)
}
