package local

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/juju/errors"
	"github.com/klauspost/compress/zstd"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"repo-backup/src/engine"
	"repo-backup/src/util/progress"
)

const (
	metadataFile    = "backup.yaml"
	documentsPrefix = "documents_"
	documentsSuffix = ".ndjson.zst"
	binariesDir     = "binaries"
)

// backupMetadata is written last, so a directory holding it contains a complete backup.
type backupMetadata struct {
	Repository      string    `yaml:"repository"`
	CreatedAt       time.Time `yaml:"createdAt"`
	IncludeBinaries bool      `yaml:"includeBinaries"`
	Nodes           int       `yaml:"nodes"`
	Documents       []string  `yaml:"documents"`
	Binaries        int       `yaml:"binaries"`
}

func (r *Repository) backup(dir string, opts engine.BackupOptions) (engine.Problems, error) {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	if opts.DocumentsPerFile <= 0 {
		opts.DocumentsPerFile = r.documentsPerFile()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Annotatef(err, "creating backup directory %s", dir)
	}
	if err := clearBackup(dir); err != nil {
		return nil, err
	}

	total, err := r.nodes.count()
	if err != nil {
		return nil, err
	}
	log := r.log.WithFields(logrus.Fields{"dir": dir, "includeBinaries": opts.IncludeBinaries})
	log.WithField("nodes", total).Info("writing backup")

	bar := progress.NewBar(r.progress, int64(total), "backup")
	w := &documentWriter{dir: dir, perFile: opts.DocumentsPerFile}
	var (
		problems engine.Problems
		exported = map[string]bool{}
		size     int64
		nodes    int
	)
	err = r.nodes.each(func(n *Node) error {
		if err := w.write(n.document()); err != nil {
			return err
		}
		nodes++
		if opts.IncludeBinaries {
			for _, name := range sortedBinaryProperties(n) {
				key := n.Properties[name].Binary.Key
				if exported[key] {
					continue
				}
				written, err := r.binaries.exportTo(key, keyPath(filepath.Join(dir, binariesDir), key))
				if errors.Is(err, ErrBinaryNotFound) {
					problems.Errorf("binary %s referenced by %s@%s is missing from the binary store", key, n.Path, name)
					continue
				}
				if err != nil {
					return err
				}
				exported[key] = true
				size += written
			}
		}
		_ = bar.Add(1)
		return nil
	})
	files, closeErr := w.close()
	if err != nil {
		return nil, errors.Annotate(err, "writing backup")
	}
	if closeErr != nil {
		return nil, errors.Annotate(closeErr, "writing backup")
	}
	_ = bar.Finish()

	meta := backupMetadata{
		Repository:      r.cfg.Name,
		CreatedAt:       time.Now().UTC(),
		IncludeBinaries: opts.IncludeBinaries,
		Nodes:           nodes,
		Documents:       files,
		Binaries:        len(exported),
	}
	if err := writeMetadata(dir, meta); err != nil {
		return nil, err
	}
	log.WithFields(logrus.Fields{
		"nodes":    nodes,
		"files":    len(files),
		"binaries": len(exported),
		"size":     humanize.Bytes(uint64(size)),
		"problems": len(problems),
	}).Info("backup written")
	return problems, nil
}

func sortedBinaryProperties(n *Node) []string {
	var names []string
	for name, v := range n.Properties {
		if v.Type == PropertyTypeBinary && v.Binary != nil {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// clearBackup removes artifacts of an earlier backup in dir. Other files are left alone.
func clearBackup(dir string) error {
	if err := os.Remove(filepath.Join(dir, metadataFile)); err != nil && !os.IsNotExist(err) {
		return errors.Trace(err)
	}
	old, err := filepath.Glob(filepath.Join(dir, documentsPrefix+"*"+documentsSuffix))
	if err != nil {
		return errors.Trace(err)
	}
	for _, f := range old {
		if err := os.Remove(f); err != nil {
			return errors.Trace(err)
		}
	}
	return errors.Trace(os.RemoveAll(filepath.Join(dir, binariesDir)))
}

func writeMetadata(dir string, meta backupMetadata) error {
	b, err := yaml.Marshal(meta)
	if err != nil {
		return errors.Trace(err)
	}
	tmp := filepath.Join(dir, "."+metadataFile)
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(os.Rename(tmp, filepath.Join(dir, metadataFile)))
}

func readMetadata(dir string) (backupMetadata, error) {
	var meta backupMetadata
	b, err := os.ReadFile(filepath.Join(dir, metadataFile))
	if os.IsNotExist(err) {
		return meta, errors.NotFoundf("backup in %s", dir)
	}
	if err != nil {
		return meta, errors.Trace(err)
	}
	if err := yaml.Unmarshal(b, &meta); err != nil {
		return meta, errors.Annotatef(err, "decoding %s", metadataFile)
	}
	return meta, nil
}

// documentWriter spreads node documents over zstd-compressed ndjson files.
type documentWriter struct {
	dir     string
	perFile int

	files []string
	n     int
	f     *os.File
	zw    *zstd.Encoder
	enc   *json.Encoder
}

func (w *documentWriter) write(d document) error {
	if w.zw == nil || w.n >= w.perFile {
		if err := w.rotate(); err != nil {
			return err
		}
	}
	w.n++
	return errors.Trace(w.enc.Encode(d))
}

func (w *documentWriter) rotate() error {
	if err := w.closeCurrent(); err != nil {
		return err
	}
	name := fmt.Sprintf("%s%06d%s", documentsPrefix, len(w.files)+1, documentsSuffix)
	f, err := os.Create(filepath.Join(w.dir, name))
	if err != nil {
		return errors.Trace(err)
	}
	zw, err := zstd.NewWriter(f)
	if err != nil {
		_ = f.Close()
		return errors.Trace(err)
	}
	w.f, w.zw, w.enc, w.n = f, zw, json.NewEncoder(zw), 0
	w.files = append(w.files, name)
	return nil
}

func (w *documentWriter) closeCurrent() error {
	if w.zw == nil {
		return nil
	}
	zerr := w.zw.Close()
	ferr := w.f.Close()
	w.f, w.zw, w.enc = nil, nil, nil
	if zerr != nil {
		return errors.Trace(zerr)
	}
	return errors.Trace(ferr)
}

func (w *documentWriter) close() ([]string, error) {
	return w.files, w.closeCurrent()
}
