// Package local is an embedded content repository engine: a tree of nodes in
// sqlite with binary property content kept in a file store, plus a backup
// format of compressed node documents.
package local

import (
	"io"
	"strings"
	"sync"

	"github.com/juju/errors"
	"github.com/sirupsen/logrus"

	"repo-backup/src/engine"
	"repo-backup/src/engine/config"
)

// Options configures an Engine.
type Options struct {
	Logger logrus.FieldLogger
	// Progress receives progress bars for backup and restore; nil disables them.
	Progress io.Writer
}

// Engine implements engine.Engine.
type Engine struct {
	log      logrus.FieldLogger
	progress io.Writer

	mu      sync.Mutex
	running bool
	repos   []*Repository
}

func New(opts Options) *Engine {
	log := opts.Logger
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	return &Engine{log: log.WithField("engine", "local"), progress: opts.Progress}
}

func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		e.running = true
		e.log.Debug("engine started")
	}
	return nil
}

// Deploy implements engine.Engine.
func (e *Engine) Deploy(cfg *config.Repository) (engine.Repository, error) {
	r, err := e.DeployRepository(cfg)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// DeployRepository opens the repository described by cfg. The storage
// location stays locked until Shutdown, so a second engine cannot deploy it.
func (e *Engine) DeployRepository(cfg *config.Repository) (*Repository, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	op := "deploy repository " + cfg.Name
	if !e.running {
		return nil, engine.NewRepositoryError(op, engine.ErrNotRunning)
	}
	r, err := openRepository(cfg, e.log, e.progress)
	if err != nil {
		return nil, engine.NewRepositoryError(op, err)
	}
	e.repos = append(e.repos, r)
	e.log.WithFields(logrus.Fields{
		"repository": cfg.Name,
		"storage":    cfg.Storage.Path,
		"binaries":   cfg.BinaryStorage.Directory,
	}).Debug("repository deployed")
	return r, nil
}

// Shutdown closes every deployed repository. It is safe to call more than once.
func (e *Engine) Shutdown() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	var errs []string
	for _, r := range e.repos {
		if err := r.close(); err != nil {
			errs = append(errs, err.Error())
		}
	}
	e.repos = nil
	if e.running {
		e.running = false
		e.log.Debug("engine shut down")
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}
