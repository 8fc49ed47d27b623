// Package ledger provides durable one-file-per-vector storage.
//
// Each vector lives at <root>/<namespace>/vectors/<id>.json. Ids may contain
// "/" which maps to subdirectories. Writes go through a temp file and rename,
// so a crash leaves either the old record or the new one, never a torn file.
// Corruption of one file affects only that record.
package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"strings"

	"github.com/hyperjump/embedstore/internal/models"
	"github.com/hyperjump/embedstore/pkg/utils"
)

const (
	vectorsDir   = "vectors"
	recordSuffix = ".json"
	dirPerm      = 0755
	filePerm     = 0644
)

var (
	// ErrInvalidID is returned for ids that are empty or escape the namespace directory.
	ErrInvalidID = errors.New("invalid vector id")
	// ErrInvalidNamespace is returned for namespace names that are not a single path element.
	ErrInvalidNamespace = errors.New("invalid namespace name")
)

// Ledger stores vectors as individual JSON files under a root directory.
// It is safe for concurrent use; callers serialize writes to the same id.
type Ledger struct {
	root string
}

// New returns a ledger rooted at root, creating the directory if needed.
func New(root string) (*Ledger, error) {
	if root == "" {
		return nil, fmt.Errorf("ledger root must not be empty")
	}
	if err := os.MkdirAll(root, dirPerm); err != nil {
		return nil, fmt.Errorf("create ledger root: %w", err)
	}
	return &Ledger{root: root}, nil
}

// Root returns the storage root directory.
func (l *Ledger) Root() string {
	return l.root
}

// NamespaceDir returns the directory holding everything for ns.
func (l *Ledger) NamespaceDir(ns string) string {
	return filepath.Join(l.root, ns)
}

// VectorsDir returns the directory holding the vector files for ns.
func (l *Ledger) VectorsDir(ns string) string {
	return filepath.Join(l.root, ns, vectorsDir)
}

// ValidateNamespace checks that ns is usable as a directory name.
func ValidateNamespace(ns string) error {
	if ns == "" || ns == "." || ns == ".." || strings.ContainsAny(ns, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidNamespace, ns)
	}
	return nil
}

// ValidateID checks that id is a relative, non-escaping slash path.
func ValidateID(id string) error {
	if id == "" || strings.HasPrefix(id, "/") || strings.HasSuffix(id, "/") || strings.Contains(id, `\`) {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	for _, part := range strings.Split(id, "/") {
		if part == "" || part == "." || part == ".." || strings.HasPrefix(part, utils.TempFilePrefix) {
			return fmt.Errorf("%w: %q", ErrInvalidID, id)
		}
	}
	return nil
}

func (l *Ledger) recordPath(ns, id string) (string, error) {
	if err := ValidateNamespace(ns); err != nil {
		return "", err
	}
	if err := ValidateID(id); err != nil {
		return "", err
	}
	return filepath.Join(l.VectorsDir(ns), filepath.FromSlash(id)+recordSuffix), nil
}

// Put writes or overwrites the vector for (ns, id).
func (l *Ledger) Put(ns, id string, values []float32) error {
	p, err := l.recordPath(ns, id)
	if err != nil {
		return err
	}
	data, err := json.Marshal(models.VectorRecord{ID: id, Namespace: ns, Values: values})
	if err != nil {
		return fmt.Errorf("marshal vector %s/%s: %w", ns, id, err)
	}
	dir := filepath.Dir(p)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return fmt.Errorf("create vector dir: %w", err)
	}
	return utils.WriteFileAtomic(p, data, filePerm)
}

// Get returns the vector for (ns, id). A missing record yields (nil, false, nil).
func (l *Ledger) Get(ns, id string) ([]float32, bool, error) {
	p, err := l.recordPath(ns, id)
	if err != nil {
		return nil, false, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read vector %s/%s: %w", ns, id, err)
	}
	var rec models.VectorRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, false, fmt.Errorf("decode vector %s/%s: %w", ns, id, err)
	}
	return rec.Values, true, nil
}

// Exists reports whether a record exists for (ns, id).
func (l *Ledger) Exists(ns, id string) bool {
	p, err := l.recordPath(ns, id)
	if err != nil {
		return false
	}
	info, err := os.Stat(p)
	return err == nil && info.Mode().IsRegular()
}

// Delete removes the record for (ns, id). Deleting a missing record returns false and no error.
// Directories emptied by the removal are pruned up to the vectors directory.
func (l *Ledger) Delete(ns, id string) (bool, error) {
	p, err := l.recordPath(ns, id)
	if err != nil {
		return false, err
	}
	if err := os.Remove(p); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("delete vector %s/%s: %w", ns, id, err)
	}
	l.pruneEmptyDirs(ns, filepath.Dir(p))
	return true, nil
}

func (l *Ledger) pruneEmptyDirs(ns, dir string) {
	stop := l.VectorsDir(ns)
	for dir != stop && strings.HasPrefix(dir, stop) {
		// os.Remove fails on non-empty directories, which ends the walk.
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}

// ListIDs returns a lazy sequence of ids stored in ns. Each iteration walks the
// directory tree afresh, so the sequence can be restarted. A walk error is
// yielded once and ends the sequence.
func (l *Ledger) ListIDs(ns string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if err := ValidateNamespace(ns); err != nil {
			yield("", err)
			return
		}
		base := l.VectorsDir(ns)
		stopped := false
		err := filepath.WalkDir(base, func(p string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				if p == base && errors.Is(walkErr, fs.ErrNotExist) {
					return fs.SkipAll
				}
				return walkErr
			}
			if d.IsDir() {
				return nil
			}
			name := d.Name()
			if strings.HasPrefix(name, utils.TempFilePrefix) || !strings.HasSuffix(name, recordSuffix) {
				return nil
			}
			rel, err := filepath.Rel(base, p)
			if err != nil {
				return err
			}
			id := strings.TrimSuffix(filepath.ToSlash(rel), recordSuffix)
			if !yield(id, nil) {
				stopped = true
				return fs.SkipAll
			}
			return nil
		})
		if err != nil && !stopped {
			yield("", fmt.Errorf("walk vectors of %s: %w", ns, err))
		}
	}
}

// Count returns the number of records in ns.
func (l *Ledger) Count(ns string) (int, error) {
	n := 0
	for _, err := range l.ListIDs(ns) {
		if err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// DropNamespace removes every vector record of ns.
func (l *Ledger) DropNamespace(ns string) error {
	if err := ValidateNamespace(ns); err != nil {
		return err
	}
	if err := os.RemoveAll(l.VectorsDir(ns)); err != nil {
		return fmt.Errorf("drop vectors of %s: %w", ns, err)
	}
	return nil
}

// NamespaceDirs lists namespace directories under the root that contain a vectors directory.
func (l *Ledger) NamespaceDirs() ([]string, error) {
	entries, err := os.ReadDir(l.root)
	if err != nil {
		return nil, fmt.Errorf("read ledger root: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() || ValidateNamespace(e.Name()) != nil {
			continue
		}
		info, err := os.Stat(l.VectorsDir(e.Name()))
		if err == nil && info.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// FirstRecordDimension returns the dimension of the first readable record in ns,
// or 0 when the namespace has none. Used to infer the dimension of unregistered namespaces.
func (l *Ledger) FirstRecordDimension(ns string) int {
	for id, err := range l.ListIDs(ns) {
		if err != nil {
			return 0
		}
		values, ok, err := l.Get(ns, id)
		if err == nil && ok && len(values) > 0 {
			return len(values)
		}
	}
	return 0
}
