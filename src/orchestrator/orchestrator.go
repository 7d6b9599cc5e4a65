// Package orchestrator runs one backup or restore of a repository through its
// engine: read the configuration, start the engine and deploy the repository,
// log in, perform the operation, and shut the engine down again.
package orchestrator

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/juju/errors"
	"github.com/sirupsen/logrus"

	"repo-backup/src/engine"
	"repo-backup/src/engine/config"
)

// Options carries the optional collaborators of an Orchestrator.
type Options struct {
	Logger      logrus.FieldLogger
	Credentials engine.Credentials
}

// Orchestrator owns a started engine and its deployed repository until Run
// returns.
type Orchestrator struct {
	eng   engine.Engine
	repo  engine.Repository
	dir   string
	mode  Mode
	creds engine.Credentials
	log   logrus.FieldLogger

	mu  sync.Mutex
	ran bool
}

// New reads the configuration at configPath, starts eng and deploys the
// repository. Any error after the configuration was read shuts eng down
// before New returns.
func New(eng engine.Engine, configPath, backupDir string, mode Mode, opts Options) (*Orchestrator, error) {
	log := opts.Logger
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	o := &Orchestrator{
		eng:   eng,
		dir:   backupDir,
		mode:  mode,
		creds: opts.Credentials,
		log:   log.WithFields(logrus.Fields{"mode": mode.String(), "dir": backupDir}),
	}

	cfg, err := config.Read(configPath)
	if err != nil {
		if errors.Is(err, config.ErrNotFound) {
			return nil, newError(ErrConfigurationNotFound, err, "file not found: "+configPath)
		}
		return nil, newError(ErrConfigurationInvalid, err, "invalid configuration: "+configPath)
	}
	o.log = o.log.WithField("repository", cfg.Name)

	if err := o.startEngine(cfg); err != nil {
		return nil, err
	}
	return o, nil
}

func (o *Orchestrator) startEngine(cfg *config.Repository) (err error) {
	if err := o.eng.Start(); err != nil {
		o.shutdown()
		return newError(ErrUnknownStartup, err, "unknown error starting engine")
	}
	defer func() {
		if r := recover(); r != nil {
			err = newError(ErrUnknownStartup, fmt.Errorf("%v", r), "unknown error deploying "+cfg.Name)
		}
		if err != nil {
			o.shutdown()
		}
	}()

	repo, err := o.eng.Deploy(cfg)
	if err != nil {
		var repoErr *engine.RepositoryError
		if errors.As(err, &repoErr) {
			return newError(ErrDeploymentFailed, err, "error deploying "+cfg.Name)
		}
		return newError(ErrUnknownStartup, err, "unknown error deploying "+cfg.Name)
	}
	o.repo = repo
	for _, p := range repo.StartupProblems() {
		o.log.WithField("severity", p.Severity.String()).Errorf("repository start problem: %s", p.Message)
	}
	o.log.Debug("repository started")
	return nil
}

// Run performs the operation selected by the mode, then shuts the engine down
// whatever the outcome. It may be called once.
func (o *Orchestrator) Run() error {
	o.mu.Lock()
	if o.ran {
		o.mu.Unlock()
		return newError(ErrAlreadyRun, nil, "orchestrator has already run")
	}
	o.ran = true
	o.mu.Unlock()

	defer o.shutdown()
	return o.run()
}

func (o *Orchestrator) run() error {
	session, err := o.repo.Login(o.creds)
	if err != nil {
		return newError(ErrLoginFailed, err, "unable to login")
	}
	defer session.Logout()

	mgr, err := session.Manager()
	if err != nil {
		return newError(ErrLoginFailed, err, "unable to get repository manager")
	}

	var problems engine.Problems
	switch o.mode {
	case Backup:
		problems, err = mgr.BackupRepository(o.dir, engine.ExcludeBinaries())
	case Restore:
		problems, err = mgr.RestoreRepository(o.dir)
	default:
		err = errors.NotSupportedf("mode %v", o.mode)
	}
	if err != nil {
		return newError(ErrOperationFailed, err, "error performing "+o.mode.String())
	}

	if len(problems) > 0 {
		for _, p := range problems {
			o.log.WithField("severity", p.Severity.String()).Error(p.Message)
		}
		e := newError(ErrReportedProblems, nil, "there were problems: "+strings.Join(problems.Messages(), "; "))
		e.Problems = problems
		return e
	}

	o.log.Infof("successful %s", o.mode)
	return nil
}

func (o *Orchestrator) shutdown() {
	if err := o.eng.Shutdown(); err != nil {
		o.log.WithError(err).Error("engine shutdown failed")
	}
}
