package local

import (
	"encoding/json"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/juju/errors"
	"github.com/klauspost/compress/zstd"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"repo-backup/src/engine"
	"repo-backup/src/util/progress"
)

// restore replaces the repository content with the backup in dir. Binaries
// are verified into a staging store first, and the staging store is swapped in
// inside the node transaction, so a failed restore leaves the repository as it
// was.
func (r *Repository) restore(dir string) (engine.Problems, error) {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	meta, err := readMetadata(dir)
	if err != nil {
		return nil, err
	}
	log := r.log.WithFields(logrus.Fields{"dir": dir, "includeBinaries": meta.IncludeBinaries})
	log.WithFields(logrus.Fields{"nodes": meta.Nodes, "createdAt": meta.CreatedAt}).Info("restoring backup")

	if meta.Repository != r.cfg.Name {
		log.WithField("source", meta.Repository).Warn("backup was taken from another repository")
	}

	var problems engine.Problems

	staged, err := r.binaries.stage()
	if err != nil {
		return nil, err
	}
	defer staged.discard()
	var size int64
	if meta.IncludeBinaries {
		size, err = r.restoreBinaries(filepath.Join(dir, binariesDir), staged, &problems)
		if err != nil {
			return nil, err
		}
	}

	bar := progress.NewBar(r.progress, int64(meta.Nodes), "restore")
	sawRoot := false
	var previous string
	restored, err := r.nodes.replace(func(insert func(document) error) error {
		for _, name := range meta.Documents {
			if err := readDocuments(filepath.Join(dir, name), func(d document) error {
				if d.ID == rootID {
					sawRoot = true
				}
				_ = bar.Add(1)
				return insert(d)
			}); err != nil {
				return errors.Annotatef(err, "reading %s", name)
			}
		}
		return nil
	}, func() error {
		var err error
		previous, err = r.binaries.swapIn(staged)
		return err
	})
	if err != nil {
		if previous != "" {
			if perr := r.binaries.putBack(previous); perr != nil {
				log.WithError(perr).Error("reinstating binary store")
			}
		}
		return nil, err
	}
	_ = bar.Finish()
	if err := os.RemoveAll(previous); previous != "" && err != nil {
		log.WithError(err).WithField("path", previous).Warn("removing previous binary content")
	}

	if !sawRoot {
		problems.Errorf("backup in %s does not contain the root node", dir)
	}
	if err := r.nodes.ensureRoot(); err != nil {
		return nil, err
	}
	if restored != meta.Nodes {
		problems.Errorf("backup metadata lists %d nodes but %d were restored", meta.Nodes, restored)
	}

	if meta.IncludeBinaries {
		missing, err := r.missingBinaries()
		if err != nil {
			return nil, err
		}
		for _, m := range missing {
			problems.Errorf("binary %s referenced by %s@%s was not restored", m.Key, m.Path, m.Property)
		}
	}

	log.WithFields(logrus.Fields{
		"nodes":    restored,
		"size":     humanize.Bytes(uint64(size)),
		"problems": len(problems),
	}).Info("backup restored")
	return problems, nil
}

func readDocuments(path string, fn func(document) error) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Trace(err)
	}
	defer f.Close()
	zr, err := zstd.NewReader(f)
	if err != nil {
		return errors.Trace(err)
	}
	defer zr.Close()

	dec := json.NewDecoder(zr)
	for {
		var d document
		err := dec.Decode(&d)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.Trace(err)
		}
		if err := fn(d); err != nil {
			return err
		}
	}
}

// restoreBinaries copies every file under src into store. Content that does
// not match its key is reported on problems and skipped.
func (r *Repository) restoreBinaries(src string, store *binaryStore, problems *engine.Problems) (int64, error) {
	files := map[string]string{}
	err := filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == src {
				return filepath.SkipDir
			}
			return err
		}
		if !d.IsDir() {
			files[d.Name()] = path
		}
		return nil
	})
	if err != nil {
		return 0, errors.Annotate(err, "listing backup binaries")
	}
	keys := make([]string, 0, len(files))
	for key := range files {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	bar := progress.NewBar(r.progress, int64(len(keys)), "binaries")
	var (
		mu       sync.Mutex
		size     int64
		rejected = map[string]string{}
	)
	g := new(errgroup.Group)
	g.SetLimit(runtime.NumCPU())
	for _, key := range keys {
		key := key
		g.Go(func() error {
			if !validKey(key) {
				mu.Lock()
				rejected[key] = "not a content key"
				mu.Unlock()
				return nil
			}
			n, err := store.importFrom(files[key], key)
			if errors.Is(err, errChecksumMismatch) {
				mu.Lock()
				rejected[key] = err.Error()
				mu.Unlock()
				return nil
			}
			if err != nil {
				return err
			}
			mu.Lock()
			size += n
			mu.Unlock()
			_ = bar.Add(1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, errors.Annotate(err, "restoring binaries")
	}
	_ = bar.Finish()

	for _, key := range keys {
		if reason, ok := rejected[key]; ok {
			problems.Errorf("binary %s in backup rejected: %s", key, reason)
		}
	}
	return size, nil
}
