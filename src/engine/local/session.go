package local

import (
	"io"
	"strings"
	"sync/atomic"

	"github.com/juju/errors"

	"repo-backup/src/engine"
)

// Session is a logged-in handle on a local repository. Besides the manager it
// offers a small node API for populating and inspecting content.
type Session struct {
	repo   *Repository
	user   string
	closed atomic.Bool
}

// User returns the login name, empty for anonymous sessions.
func (s *Session) User() string { return s.user }

// Logout releases the session. Later calls on it fail.
func (s *Session) Logout() { s.closed.Store(true) }

func (s *Session) check() error {
	if s.closed.Load() {
		return errors.New("session is logged out")
	}
	return s.repo.checkOpen()
}

// Manager returns the administrative handle for backup and restore.
func (s *Session) Manager() (engine.Manager, error) {
	if err := s.check(); err != nil {
		return nil, engine.NewRepositoryError("repository manager", err)
	}
	return &manager{s: s}, nil
}

func (s *Session) RootNode() (*Node, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	return s.repo.nodes.root()
}

// Node looks a node up by absolute path, e.g. "/image2/jcr:content".
func (s *Session) Node(path string) (*Node, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	return s.repo.nodes.resolve(path)
}

// Children lists the children of the node at path in insertion order.
func (s *Session) Children(path string) ([]*Node, error) {
	parent, err := s.Node(path)
	if err != nil {
		return nil, err
	}
	return s.repo.nodes.children(parent)
}

// AddNode creates a child named name under parentPath.
func (s *Session) AddNode(parentPath, name, primaryType string) (*Node, error) {
	if name == "" || strings.Contains(name, "/") {
		return nil, errors.NotValidf("node name %q", name)
	}
	parent, err := s.Node(parentPath)
	if err != nil {
		return nil, err
	}
	return s.repo.nodes.addChild(parent, name, primaryType)
}

// SetProperty sets a string property.
func (s *Session) SetProperty(path, name, value string) error {
	n, err := s.Node(path)
	if err != nil {
		return err
	}
	n.Properties[name] = Value{Type: PropertyTypeString, String: value}
	return s.repo.nodes.setProperties(n)
}

// SetBinary stores the content of r and sets it as a binary property.
func (s *Session) SetBinary(path, name string, r io.Reader) error {
	n, err := s.Node(path)
	if err != nil {
		return err
	}
	ref, err := s.repo.binaries.put(r)
	if err != nil {
		return err
	}
	n.Properties[name] = Value{Type: PropertyTypeBinary, Binary: &ref}
	return s.repo.nodes.setProperties(n)
}

// Binary opens the content of a binary property. It fails with
// ErrBinaryNotFound when the property exists but its content does not.
func (s *Session) Binary(path, name string) (io.ReadCloser, error) {
	n, err := s.Node(path)
	if err != nil {
		return nil, err
	}
	v, ok := n.Properties[name]
	if !ok {
		return nil, errors.NotFoundf("property %s@%s", path, name)
	}
	if v.Type != PropertyTypeBinary || v.Binary == nil {
		return nil, errors.NotValidf("property %s@%s of type %s as binary", path, name, v.Type)
	}
	return s.repo.binaries.open(v.Binary.Key)
}

type manager struct {
	s *Session
}

func (m *manager) BackupRepository(dir string, opts engine.BackupOptions) (engine.Problems, error) {
	if err := m.s.check(); err != nil {
		return nil, engine.NewRepositoryError("backup", err)
	}
	problems, err := m.s.repo.backup(dir, opts)
	if err != nil {
		return nil, engine.NewRepositoryError("backup", err)
	}
	return problems, nil
}

func (m *manager) RestoreRepository(dir string) (engine.Problems, error) {
	if err := m.s.check(); err != nil {
		return nil, engine.NewRepositoryError("restore", err)
	}
	problems, err := m.s.repo.restore(dir)
	if err != nil {
		return nil, engine.NewRepositoryError("restore", err)
	}
	return problems, nil
}
