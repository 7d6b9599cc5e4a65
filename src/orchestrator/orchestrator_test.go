package orchestrator_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"repo-backup/src/engine"
	"repo-backup/src/orchestrator"
)

const validConfig = `{"name": "repo", "storage": {"path": "data/nodes.db"}, "binaryStorage": {"directory": "data/binaries"}}`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "repository.json")
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func newOrchestrator(t *testing.T, f *engine.Fake, mode orchestrator.Mode) (*orchestrator.Orchestrator, *logtest.Hook, error) {
	t.Helper()
	log, hook := logtest.NewNullLogger()
	o, err := orchestrator.New(f, writeConfig(t, validConfig), "/backups/repo", mode, orchestrator.Options{Logger: log})
	return o, hook, err
}

func requireKind(t *testing.T, err error, kind error) *orchestrator.Error {
	t.Helper()
	require.Error(t, err)
	require.True(t, errors.Is(err, kind), "want %v, got %v", kind, err)
	var oerr *orchestrator.Error
	require.True(t, errors.As(err, &oerr))
	return oerr
}

func messages(hook *logtest.Hook, level logrus.Level) []string {
	var out []string
	for _, e := range hook.AllEntries() {
		if e.Level == level {
			out = append(out, e.Message)
		}
	}
	return out
}

func TestNew_ConfigNotFound(t *testing.T) {
	f := engine.NewFake()
	missing := filepath.Join(t.TempDir(), "nope.json")
	_, err := orchestrator.New(f, missing, "/b", orchestrator.Backup, orchestrator.Options{})
	oerr := requireKind(t, err, orchestrator.ErrConfigurationNotFound)
	require.True(t, strings.HasPrefix(oerr.Message, "file not found: "+missing), oerr.Message)
	require.Zero(t, f.Starts, "engine must not start without a configuration")
}

func TestNew_ConfigInvalid(t *testing.T) {
	f := engine.NewFake()
	p := writeConfig(t, `{"name": `)
	_, err := orchestrator.New(f, p, "/b", orchestrator.Backup, orchestrator.Options{})
	oerr := requireKind(t, err, orchestrator.ErrConfigurationInvalid)
	require.Contains(t, oerr.Message, p)
	require.Zero(t, f.Starts)
}

func TestNew_StartFails(t *testing.T) {
	f := engine.NewFake()
	f.StartErr = errors.New("no threads")
	_, _, err := newOrchestrator(t, f, orchestrator.Backup)
	requireKind(t, err, orchestrator.ErrUnknownStartup)
	require.Empty(t, f.Deployed)
	require.Equal(t, 1, f.Shutdowns, "a failed start still shuts the engine down")
}

func TestNew_DeploymentFailed(t *testing.T) {
	f := engine.NewFake()
	f.DeployErr = engine.NewRepositoryError("deploy", errors.New("storage locked"))
	_, _, err := newOrchestrator(t, f, orchestrator.Restore)
	oerr := requireKind(t, err, orchestrator.ErrDeploymentFailed)
	require.Contains(t, oerr.Message, "storage locked")
	require.Equal(t, 1, f.Shutdowns)
	require.False(t, f.Running())
}

func TestNew_UnknownDeployError(t *testing.T) {
	f := engine.NewFake()
	f.DeployErr = errors.New("boom")
	_, _, err := newOrchestrator(t, f, orchestrator.Backup)
	requireKind(t, err, orchestrator.ErrUnknownStartup)
	require.Equal(t, 1, f.Shutdowns)
}

func TestNew_DeployPanic(t *testing.T) {
	f := engine.NewFake()
	f.DeployPanic = "nil map"
	_, _, err := newOrchestrator(t, f, orchestrator.Backup)
	oerr := requireKind(t, err, orchestrator.ErrUnknownStartup)
	require.Contains(t, oerr.Message, "nil map")
	require.Equal(t, 1, f.Shutdowns)
}

func TestNew_StartupProblemsAreLogged(t *testing.T) {
	f := engine.NewFake()
	f.StartupProblemsList = engine.Problems{{Severity: engine.SeverityWarning, Message: "binary gone"}}
	o, hook, err := newOrchestrator(t, f, orchestrator.Backup)
	require.NoError(t, err)
	require.Contains(t, messages(hook, logrus.ErrorLevel), "repository start problem: binary gone")
	require.NoError(t, o.Run())
}

func TestRun_BackupExcludesBinaries(t *testing.T) {
	f := engine.NewFake()
	o, hook, err := newOrchestrator(t, f, orchestrator.Backup)
	require.NoError(t, err)
	require.True(t, f.Running())

	require.NoError(t, o.Run())
	require.Len(t, f.BackupCalls, 1)
	require.Equal(t, "/backups/repo", f.BackupCalls[0].Dir)
	require.False(t, f.BackupCalls[0].Options.IncludeBinaries)
	require.Empty(t, f.RestoreDirs)
	require.Equal(t, 1, f.Logouts)
	require.Equal(t, 1, f.Shutdowns)
	require.False(t, f.Running())
	require.Equal(t, "successful backup", hook.LastEntry().Message)
}

func TestRun_Restore(t *testing.T) {
	f := engine.NewFake()
	o, hook, err := newOrchestrator(t, f, orchestrator.Restore)
	require.NoError(t, err)

	require.NoError(t, o.Run())
	require.Equal(t, []string{"/backups/repo"}, f.RestoreDirs)
	require.Empty(t, f.BackupCalls)
	require.Equal(t, 1, f.Shutdowns)
	require.Equal(t, "successful restore", hook.LastEntry().Message)
}

func TestRun_Credentials(t *testing.T) {
	f := engine.NewFake()
	creds := engine.Credentials{Username: "admin", Password: "secret"}
	o, err := orchestrator.New(f, writeConfig(t, validConfig), "/b", orchestrator.Backup, orchestrator.Options{Credentials: creds})
	require.NoError(t, err)
	require.NoError(t, o.Run())
	require.Equal(t, []engine.Credentials{creds}, f.Logins)
}

func TestRun_OperationFailed(t *testing.T) {
	f := engine.NewFake()
	f.BackupErr = engine.NewRepositoryError("backup", errors.New("disk full"))
	o, hook, err := newOrchestrator(t, f, orchestrator.Backup)
	require.NoError(t, err)

	oerr := requireKind(t, o.Run(), orchestrator.ErrOperationFailed)
	require.Contains(t, oerr.Message, "error performing backup")
	require.Contains(t, oerr.Message, "disk full")
	require.Equal(t, 1, f.Logouts)
	require.Equal(t, 1, f.Shutdowns)
	for _, e := range hook.AllEntries() {
		require.NotEqual(t, "successful backup", e.Message)
	}
}

func TestRun_ReportedProblems(t *testing.T) {
	f := engine.NewFake()
	f.RestoreProblems = engine.Problems{
		{Severity: engine.SeverityError, Message: "a"},
		{Severity: engine.SeverityWarning, Message: "b"},
	}
	o, hook, err := newOrchestrator(t, f, orchestrator.Restore)
	require.NoError(t, err)

	oerr := requireKind(t, o.Run(), orchestrator.ErrReportedProblems)
	require.Equal(t, "there were problems: a; b", oerr.Message)
	require.Equal(t, f.RestoreProblems, oerr.Problems)
	require.Equal(t, []string{"a", "b"}, messages(hook, logrus.ErrorLevel))
	require.Empty(t, messages(hook, logrus.InfoLevel))
	require.Equal(t, 1, f.Shutdowns)
}

func TestRun_LoginFailed(t *testing.T) {
	f := engine.NewFake()
	f.LoginErr = engine.NewRepositoryError("login", errors.New("denied"))
	o, _, err := newOrchestrator(t, f, orchestrator.Backup)
	require.NoError(t, err)

	oerr := requireKind(t, o.Run(), orchestrator.ErrLoginFailed)
	require.Contains(t, oerr.Message, "unable to login")
	require.Empty(t, f.BackupCalls)
	require.Zero(t, f.Logouts)
	require.Equal(t, 1, f.Shutdowns)
}

func TestRun_ManagerUnavailable(t *testing.T) {
	f := engine.NewFake()
	f.ManagerErr = errors.New("no workspace")
	o, _, err := newOrchestrator(t, f, orchestrator.Restore)
	require.NoError(t, err)

	oerr := requireKind(t, o.Run(), orchestrator.ErrLoginFailed)
	require.Contains(t, oerr.Message, "unable to get repository manager")
	require.Empty(t, f.RestoreDirs)
	require.Equal(t, 1, f.Logouts)
	require.Equal(t, 1, f.Shutdowns)
}

func TestRun_ShutdownErrorIsLogged(t *testing.T) {
	f := engine.NewFake()
	f.ShutdownErr = errors.New("stuck thread")
	o, hook, err := newOrchestrator(t, f, orchestrator.Backup)
	require.NoError(t, err)

	require.NoError(t, o.Run())
	require.Contains(t, messages(hook, logrus.ErrorLevel), "engine shutdown failed")
}

func TestRun_Once(t *testing.T) {
	f := engine.NewFake()
	o, _, err := newOrchestrator(t, f, orchestrator.Backup)
	require.NoError(t, err)

	require.NoError(t, o.Run())
	requireKind(t, o.Run(), orchestrator.ErrAlreadyRun)
	require.Len(t, f.BackupCalls, 1)
	require.Equal(t, 1, f.Shutdowns)
}
