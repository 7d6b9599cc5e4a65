package config_test

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	jujuerrors "github.com/juju/errors"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"repo-backup/src/engine/config"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestRead_JSON(t *testing.T) {
	p := writeFile(t, "repository.json", `{
  "name": "repo",
  "storage": {"path": "data/nodes.db"},
  "binaryStorage": {"type": "file", "directory": "data/binaries"}
}`)
	cfg, err := config.Read(p)
	require.NoError(t, err)
	require.Equal(t, "repo", cfg.Name)
	dir := filepath.Dir(cfg.Path)
	require.Equal(t, filepath.Join(dir, "data", "nodes.db"), cfg.Storage.Path)
	require.Equal(t, filepath.Join(dir, "data", "binaries"), cfg.BinaryStorage.Directory)
	require.True(t, cfg.Security.AnonymousAllowed())
}

func TestRead_YAMLWithUsers(t *testing.T) {
	p := writeFile(t, "repository.yaml", `
name: repo
storage:
  path: /var/lib/repo/nodes.db
binaryStorage:
  directory: /var/lib/repo/binaries
security:
  anonymous: false
  users:
    - name: admin
      password: secret
backup:
  documentsPerFile: 10
`)
	cfg, err := config.Read(p)
	require.NoError(t, err)
	require.Equal(t, "/var/lib/repo/nodes.db", cfg.Storage.Path)
	require.Equal(t, config.BinaryStorageFile, cfg.BinaryStorage.Type)
	require.False(t, cfg.Security.AnonymousAllowed())
	require.True(t, cfg.Security.Authenticate("admin", "secret"))
	require.False(t, cfg.Security.Authenticate("admin", "wrong"))
	require.Equal(t, 10, cfg.Backup.DocumentsPerFile)
}

func TestRead_Missing(t *testing.T) {
	_, err := config.Read(filepath.Join(t.TempDir(), "nope.json"))
	require.Error(t, err)
	require.True(t, errors.Is(err, config.ErrNotFound), "got %v", err)
	require.True(t, errors.Is(err, fs.ErrNotExist), "the file system error stays in the chain: %v", err)
}

func TestRead_InvalidKeepsCause(t *testing.T) {
	p := writeFile(t, "repository.json", `{"name": "repo", "storage": {"path": "a"}, "binaryStorage": {"type": "s3", "directory": "b"}}`)
	_, err := config.Read(p)
	require.True(t, errors.Is(err, config.ErrInvalid), "got %v", err)
	require.True(t, errors.Is(err, jujuerrors.NotSupported), "validation cause stays in the chain: %v", err)
	require.Contains(t, err.Error(), `binaryStorage.type "s3" not supported`)

	p = writeFile(t, "repository.json", `{"name": "repo", "storage": {"path": "a"}, "binaryStorage": {"directory": "b"}, "cache": 1}`)
	_, err = config.Read(p)
	var typeErr *yaml.TypeError
	require.True(t, errors.As(err, &typeErr), "decoder error stays in the chain: %v", err)
	require.True(t, errors.Is(err, config.ErrInvalid))
}

func TestRead_Invalid(t *testing.T) {
	cases := map[string]string{
		"malformed":         `{"name": "repo", `,
		"empty":             ``,
		"unknown field":     `{"name": "repo", "storage": {"path": "a"}, "binaryStorage": {"directory": "b"}, "cache": 1}`,
		"no name":           `{"storage": {"path": "a"}, "binaryStorage": {"directory": "b"}}`,
		"no storage":        `{"name": "repo", "binaryStorage": {"directory": "b"}}`,
		"no binaries":       `{"name": "repo", "storage": {"path": "a"}}`,
		"binary type":       `{"name": "repo", "storage": {"path": "a"}, "binaryStorage": {"type": "s3", "directory": "b"}}`,
		"nameless user":     `{"name": "repo", "storage": {"path": "a"}, "binaryStorage": {"directory": "b"}, "security": {"users": [{"password": "x"}]}}`,
		"negative per file": `{"name": "repo", "storage": {"path": "a"}, "binaryStorage": {"directory": "b"}, "backup": {"documentsPerFile": -1}}`,
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			p := writeFile(t, "repository.json", content)
			_, err := config.Read(p)
			require.Error(t, err)
			require.True(t, errors.Is(err, config.ErrInvalid), "got %v", err)
			require.True(t, strings.Contains(err.Error(), p), "error should name the file: %v", err)
		})
	}
}
