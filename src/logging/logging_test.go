package logging_test

import (
	"bytes"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"repo-backup/src/logging"
)

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	l, err := logging.New(&buf, "debug", "JSON")
	require.NoError(t, err)
	require.Equal(t, logrus.DebugLevel, l.GetLevel())
	l.WithField("mode", "backup").Debug("hello")
	require.Contains(t, buf.String(), `"msg":"hello"`)
	require.Contains(t, buf.String(), `"mode":"backup"`)
}

func TestNew_TextFiltersLevel(t *testing.T) {
	var buf bytes.Buffer
	l, err := logging.New(&buf, "warn", "")
	require.NoError(t, err)
	l.Info("quiet")
	l.Warn("loud")
	require.NotContains(t, buf.String(), "quiet")
	require.Contains(t, buf.String(), "msg=loud")
}

func TestNew_Invalid(t *testing.T) {
	_, err := logging.New(nil, "chatty", "text")
	require.Error(t, err)
	_, err = logging.New(nil, "info", "xml")
	require.Error(t, err)
}
