package local

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/juju/errors"
)

const (
	// ErrBinaryNotFound is returned when binary content is absent from the store.
	ErrBinaryNotFound = errors.ConstError("binary content not found")

	errChecksumMismatch = errors.ConstError("checksum mismatch")
)

// binaryStore keeps content under <dir>/<key[:2]>/<key>, keyed by sha256.
type binaryStore struct {
	dir string
}

func openBinaryStore(dir string) (*binaryStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Annotatef(err, "creating binary store %s", dir)
	}
	return &binaryStore{dir: dir}, nil
}

func validKey(key string) bool {
	if len(key) != sha256.Size*2 {
		return false
	}
	_, err := hex.DecodeString(key)
	return err == nil
}

func keyPath(root, key string) string {
	return filepath.Join(root, key[:2], key)
}

func (s *binaryStore) path(key string) string { return keyPath(s.dir, key) }

func (s *binaryStore) has(key string) bool {
	if !validKey(key) {
		return false
	}
	_, err := os.Stat(s.path(key))
	return err == nil
}

// put stores the content of r and returns its reference.
func (s *binaryStore) put(r io.Reader) (BinaryRef, error) {
	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return BinaryRef{}, errors.Trace(err)
	}
	defer os.Remove(tmp.Name())

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(tmp, h), r)
	if err != nil {
		_ = tmp.Close()
		return BinaryRef{}, errors.Annotate(err, "writing binary")
	}
	if err := tmp.Close(); err != nil {
		return BinaryRef{}, errors.Trace(err)
	}
	key := hex.EncodeToString(h.Sum(nil))
	if err := s.install(tmp.Name(), key); err != nil {
		return BinaryRef{}, err
	}
	return BinaryRef{Key: key, Size: n}, nil
}

func (s *binaryStore) install(tmp, key string) error {
	dst := s.path(key)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(os.Rename(tmp, dst))
}

func (s *binaryStore) open(key string) (io.ReadCloser, error) {
	if !validKey(key) {
		return nil, fmt.Errorf("%w: invalid key %q", ErrBinaryNotFound, key)
	}
	f, err := os.Open(s.path(key))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrBinaryNotFound, key)
	}
	if err != nil {
		return nil, errors.Trace(err)
	}
	return f, nil
}

// exportTo copies the content for key to dst and returns the bytes written.
func (s *binaryStore) exportTo(key, dst string) (int64, error) {
	src, err := s.open(key)
	if err != nil {
		return 0, err
	}
	defer src.Close()
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return 0, errors.Trace(err)
	}
	out, err := os.Create(dst)
	if err != nil {
		return 0, errors.Trace(err)
	}
	n, err := io.Copy(out, src)
	if err != nil {
		_ = out.Close()
		return 0, errors.Annotatef(err, "copying binary %s", key)
	}
	return n, errors.Trace(out.Close())
}

// importFrom copies src into the store under key, refusing content whose
// digest does not match the key.
func (s *binaryStore) importFrom(src, key string) (int64, error) {
	if !validKey(key) {
		return 0, fmt.Errorf("%w: invalid key %q", errChecksumMismatch, key)
	}
	in, err := os.Open(src)
	if err != nil {
		return 0, errors.Trace(err)
	}
	defer in.Close()

	tmp, err := os.CreateTemp(s.dir, ".restore-*")
	if err != nil {
		return 0, errors.Trace(err)
	}
	defer os.Remove(tmp.Name())

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(tmp, h), in)
	if err != nil {
		_ = tmp.Close()
		return 0, errors.Annotatef(err, "copying binary %s", key)
	}
	if err := tmp.Close(); err != nil {
		return 0, errors.Trace(err)
	}
	if got := hex.EncodeToString(h.Sum(nil)); got != key {
		return 0, fmt.Errorf("%w: %s has digest %s", errChecksumMismatch, key, got)
	}
	return n, s.install(tmp.Name(), key)
}

// stage returns an empty store next to s. Content imported into it becomes
// visible in s only through replaceWith.
func (s *binaryStore) stage() (*binaryStore, error) {
	dir, err := os.MkdirTemp(filepath.Dir(s.dir), "."+filepath.Base(s.dir)+"-staging-*")
	if err != nil {
		return nil, errors.Annotate(err, "creating binary staging directory")
	}
	if err := os.Chmod(dir, 0o755); err != nil {
		_ = os.RemoveAll(dir)
		return nil, errors.Trace(err)
	}
	return &binaryStore{dir: dir}, nil
}

// discard removes a staged store that was not swapped in.
func (s *binaryStore) discard() {
	_ = os.RemoveAll(s.dir)
}

// swapIn moves staged into place and returns the directory now holding the
// previous content. The caller either drops it or hands it to putBack.
func (s *binaryStore) swapIn(staged *binaryStore) (string, error) {
	prev := staged.dir + ".previous"
	if err := os.Rename(s.dir, prev); os.IsNotExist(err) {
		return "", errors.Annotate(os.Rename(staged.dir, s.dir), "installing staged binaries")
	} else if err != nil {
		return "", errors.Annotate(err, "moving binary store aside")
	}
	if err := os.Rename(staged.dir, s.dir); err != nil {
		if rerr := os.Rename(prev, s.dir); rerr != nil {
			return "", errors.Annotatef(err, "installing staged binaries (previous content left in %s)", prev)
		}
		return "", errors.Annotate(err, "installing staged binaries")
	}
	return prev, nil
}

// putBack reinstates the content swapIn moved aside to prev.
func (s *binaryStore) putBack(prev string) error {
	if err := os.RemoveAll(s.dir); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(os.Rename(prev, s.dir))
}
