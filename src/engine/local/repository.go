package local

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gofrs/flock"
	"github.com/juju/errors"
	"github.com/sirupsen/logrus"

	"repo-backup/src/engine"
	"repo-backup/src/engine/config"
)

// Repository is a deployed repository backed by a sqlite node store and a
// file binary store.
type Repository struct {
	cfg      *config.Repository
	log      logrus.FieldLogger
	progress io.Writer

	lock     *flock.Flock
	nodes    *nodeStore
	binaries *binaryStore
	startup  engine.Problems

	// opMu serializes backup and restore.
	opMu sync.Mutex

	mu     sync.Mutex
	closed bool
}

func openRepository(cfg *config.Repository, log logrus.FieldLogger, progress io.Writer) (*Repository, error) {
	if within(cfg.Storage.Path, cfg.BinaryStorage.Directory) {
		return nil, errors.Errorf("storage.path %s must not be inside binaryStorage.directory %s",
			cfg.Storage.Path, cfg.BinaryStorage.Directory)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Storage.Path), 0o755); err != nil {
		return nil, errors.Annotate(err, "creating storage directory")
	}

	lock := flock.New(cfg.Storage.Path + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, errors.Annotatef(err, "locking %s", lock.Path())
	}
	if !locked {
		return nil, errors.Errorf("storage %s is in use by another engine", cfg.Storage.Path)
	}

	r := &Repository{
		cfg:      cfg,
		log:      log.WithField("repository", cfg.Name),
		progress: progress,
		lock:     lock,
	}
	if r.binaries, err = openBinaryStore(cfg.BinaryStorage.Directory); err != nil {
		_ = lock.Unlock()
		return nil, err
	}
	if r.nodes, err = openNodeStore(cfg.Storage.Path); err != nil {
		_ = lock.Unlock()
		return nil, err
	}
	if r.startup, err = r.checkStartup(); err != nil {
		_ = r.close()
		return nil, err
	}
	return r, nil
}

func within(path, dir string) bool {
	rel, err := filepath.Rel(dir, path)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func (r *Repository) Name() string { return r.cfg.Name }

// StartupProblems lists binary references the binary store cannot satisfy.
func (r *Repository) StartupProblems() engine.Problems {
	return append(engine.Problems(nil), r.startup...)
}

func (r *Repository) checkStartup() (engine.Problems, error) {
	missing, err := r.missingBinaries()
	if err != nil {
		return nil, err
	}
	var problems engine.Problems
	for _, m := range missing {
		problems.Warningf("binary %s referenced by %s@%s is missing from the binary store", m.Key, m.Path, m.Property)
	}
	return problems, nil
}

type missingBinary struct {
	Key      string
	Path     string
	Property string
}

func (r *Repository) missingBinaries() ([]missingBinary, error) {
	var missing []missingBinary
	err := r.nodes.each(func(n *Node) error {
		for _, name := range sortedBinaryProperties(n) {
			key := n.Properties[name].Binary.Key
			if !r.binaries.has(key) {
				missing = append(missing, missingBinary{Key: key, Path: n.Path, Property: name})
			}
		}
		return nil
	})
	return missing, errors.Trace(err)
}

func (r *Repository) documentsPerFile() int {
	if r.cfg.Backup.DocumentsPerFile > 0 {
		return r.cfg.Backup.DocumentsPerFile
	}
	return engine.DefaultDocumentsPerFile
}

// Login implements engine.Repository.
func (r *Repository) Login(creds engine.Credentials) (engine.Session, error) {
	s, err := r.LoginSession(creds)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// LoginSession is Login returning the concrete session with its node API.
func (r *Repository) LoginSession(creds engine.Credentials) (*Session, error) {
	if err := r.checkOpen(); err != nil {
		return nil, engine.NewRepositoryError("login", err)
	}
	sec := r.cfg.Security
	if creds.Anonymous() {
		if !sec.AnonymousAllowed() {
			return nil, engine.NewRepositoryError("login", errors.Unauthorizedf("anonymous access to %s", r.cfg.Name))
		}
	} else if !sec.Authenticate(creds.Username, creds.Password) {
		return nil, engine.NewRepositoryError("login", errors.Unauthorizedf("user %q", creds.Username))
	}
	return &Session{repo: r, user: creds.Username}, nil
}

func (r *Repository) checkOpen() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return errors.Errorf("repository %s is shut down", r.cfg.Name)
	}
	return nil
}

func (r *Repository) close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	// Wait for a running backup or restore.
	r.opMu.Lock()
	defer r.opMu.Unlock()

	var errs []string
	if err := r.nodes.close(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := r.lock.Unlock(); err != nil {
		errs = append(errs, err.Error())
	}
	if len(errs) > 0 {
		return errors.Errorf("closing repository %s: %s", r.cfg.Name, strings.Join(errs, "; "))
	}
	return nil
}
