package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"repo-backup/src/engine"
	"repo-backup/src/engine/local"
	"repo-backup/src/logging"
	"repo-backup/src/metrics"
	"repo-backup/src/orchestrator"
	"repo-backup/src/target"
)

const usageMessage = `There must be 3 arguments!
Usage: repo-backup [flags] <path-to-repository-config> <path-to-backup-directory> <b|r>
-- Where 'b' indicates a backup and 'r' a restore
`

// NewRootCmd returns the root cobra command for the repo-backup CLI.
func NewRootCmd(stdout, stderr io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "repo-backup <repository-config> <backup-directory> <b|r>",
		Short:         "Back up or restore a content repository through its engine",
		Long:          "Starts the repository described by the configuration file, performs one\nbackup (without binary content) or one restore against the backup directory,\nand shuts the repository down again.",
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 3 {
				fmt.Fprint(stderr, usageMessage)
				return nil
			}
			mode, err := orchestrator.ParseMode(args[2])
			if err != nil {
				fmt.Fprint(stderr, usageMessage)
				return nil
			}
			s, err := loadSettings(cmd)
			if err != nil {
				return err
			}
			return run(s, stderr, args[0], args[1], mode)
		},
	}

	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	addGlobalFlags(cmd)
	cmd.AddCommand(newVersionCmd(stdout))

	return cmd
}

func run(s settings, stderr io.Writer, configPath, dir string, mode orchestrator.Mode) error {
	log, err := logging.New(stderr, s.LogLevel, s.LogFormat)
	if err != nil {
		return err
	}
	tgt, err := target.Parse(dir)
	if err != nil {
		return err
	}
	var progressOut io.Writer
	if s.Progress {
		progressOut = stderr
	}

	start := time.Now()
	eng := local.New(local.Options{Logger: log, Progress: progressOut})
	o, err := orchestrator.New(eng, configPath, tgt.DirPath, mode, orchestrator.Options{
		Logger:      log,
		Credentials: engine.Credentials{Username: s.Username, Password: s.Password},
	})
	if err == nil {
		err = o.Run()
	}

	if s.MetricsFile != "" {
		problems := 0
		var oerr *orchestrator.Error
		if errors.As(err, &oerr) {
			problems = len(oerr.Problems)
		}
		rec := metrics.NewRecorder()
		rec.Observe(mode.String(), start, time.Now(), err, problems)
		if werr := rec.WriteTextfile(s.MetricsFile); werr != nil {
			log.WithError(werr).WithField("path", s.MetricsFile).Error("writing metrics")
		}
	}
	return err
}

// Execute runs the CLI with the process stdio.
func Execute() int {
	root := NewRootCmd(os.Stdout, os.Stderr)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}
