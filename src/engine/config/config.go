package config

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/juju/errors"
	"gopkg.in/yaml.v3"
)

const (
	// ErrNotFound is returned by Read when the configuration file does not exist.
	ErrNotFound = errors.ConstError("configuration file not found")
	// ErrInvalid is returned by Read when the file cannot be parsed or validated.
	ErrInvalid = errors.ConstError("invalid configuration")
)

// BinaryStorageFile keeps binary content as files under a directory.
const BinaryStorageFile = "file"

// Repository describes a repository to deploy. The file may be YAML or JSON.
//
//	{
//	  "name": "repo",
//	  "storage": {"path": "data/nodes.db"},
//	  "binaryStorage": {"type": "file", "directory": "data/binaries"},
//	  "security": {"anonymous": true}
//	}
type Repository struct {
	Name          string        `yaml:"name"`
	Storage       Storage       `yaml:"storage"`
	BinaryStorage BinaryStorage `yaml:"binaryStorage"`
	Security      Security      `yaml:"security"`
	Backup        Backup        `yaml:"backup"`

	// Path is the file the configuration was read from.
	Path string `yaml:"-"`
}

// Storage locates the node store.
type Storage struct {
	Path string `yaml:"path"`
}

// BinaryStorage locates binary content.
type BinaryStorage struct {
	Type      string `yaml:"type"`
	Directory string `yaml:"directory"`
}

// Security controls who may log in.
type Security struct {
	Anonymous *bool  `yaml:"anonymous"`
	Users     []User `yaml:"users"`
}

// User is a configured login.
type User struct {
	Name     string `yaml:"name"`
	Password string `yaml:"password"`
}

// Backup holds engine-side backup tuning.
type Backup struct {
	DocumentsPerFile int `yaml:"documentsPerFile"`
}

// AnonymousAllowed reports whether logins without a username are accepted.
// Anonymous access is on unless disabled explicitly.
func (s Security) AnonymousAllowed() bool {
	return s.Anonymous == nil || *s.Anonymous
}

// Authenticate reports whether name and password match a configured user.
func (s Security) Authenticate(name, password string) bool {
	for _, u := range s.Users {
		if u.Name == name && u.Password == password {
			return true
		}
	}
	return false
}

// Read loads, validates and normalizes the configuration at path.
// Relative storage paths are resolved against the directory of the file.
func Read(path string) (*Repository, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.WithType(errors.Annotatef(err, "configuration %s", path), ErrNotFound)
		}
		return nil, errors.Annotatef(err, "reading configuration %s", path)
	}
	cfg, err := Parse(bytes.NewReader(b))
	if err != nil {
		return nil, errors.WithType(errors.Annotatef(err, "configuration %s", path), ErrInvalid)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, errors.Trace(err)
	}
	cfg.Path = abs
	cfg.resolve(filepath.Dir(abs))
	return cfg, nil
}

// Parse decodes and validates a configuration without resolving paths.
func Parse(r io.Reader) (*Repository, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var cfg Repository
	if err := dec.Decode(&cfg); err != nil {
		if err == io.EOF {
			return nil, errors.New("empty configuration")
		}
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks required fields and fills defaults.
func (c *Repository) Validate() error {
	c.Name = strings.TrimSpace(c.Name)
	if c.Name == "" {
		return errors.New("repository name is required")
	}
	if strings.TrimSpace(c.Storage.Path) == "" {
		return errors.New("storage.path is required")
	}
	switch c.BinaryStorage.Type {
	case "":
		c.BinaryStorage.Type = BinaryStorageFile
	case BinaryStorageFile:
	default:
		return errors.NotSupportedf("binaryStorage.type %q", c.BinaryStorage.Type)
	}
	if strings.TrimSpace(c.BinaryStorage.Directory) == "" {
		return errors.New("binaryStorage.directory is required")
	}
	for i, u := range c.Security.Users {
		if u.Name == "" {
			return errors.Errorf("security.users[%d]: name is required", i)
		}
	}
	if c.Backup.DocumentsPerFile < 0 {
		return errors.New("backup.documentsPerFile must not be negative")
	}
	return nil
}

func (c *Repository) resolve(base string) {
	if !filepath.IsAbs(c.Storage.Path) {
		c.Storage.Path = filepath.Join(base, c.Storage.Path)
	}
	if !filepath.IsAbs(c.BinaryStorage.Directory) {
		c.BinaryStorage.Directory = filepath.Join(base, c.BinaryStorage.Directory)
	}
}
