package packfile

import (
	"path/filepath"
	"sort"
	"strconv"
	"sync"

	"github.com/ori-vcs/ori/oriinternals/oripath"
	"github.com/spf13/afero"
	"golang.org/x/xerrors"
)

// Manager allocates and tracks packfiles under a repository's objects
// directory, handing out a writable "current" packfile and rolling over
// to a new one once the current exceeds SoftCap (spec.md §4.3).
type Manager struct {
	mu      sync.Mutex
	fs      afero.Fs
	dir     string
	open    map[uint32]*Packfile
	nextID  uint32
	current *Packfile
}

// OpenManager scans dir for existing packfiles and returns a Manager
// whose first Current call allocates a new packfile after the highest
// existing id; existing packfiles are not reused as the writable target.
func OpenManager(fs afero.Fs, dir string) (*Manager, error) {
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, xerrors.Errorf("packfile: mkdir %s: %w", dir, err)
	}

	m := &Manager{
		fs:   fs,
		dir:  dir,
		open: make(map[uint32]*Packfile),
	}

	entries, err := afero.ReadDir(fs, dir)
	if err != nil {
		return nil, xerrors.Errorf("packfile: read dir %s: %w", dir, err)
	}

	var ids []uint32
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		id, ok := parsePackfileName(e.Name())
		if !ok {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		if id >= m.nextID {
			m.nextID = id + 1
		}
	}
	return m, nil
}

func parsePackfileName(name string) (uint32, bool) {
	if len(name) != len(oripath.PackfilePrefix)+8 {
		return 0, false
	}
	if name[:len(oripath.PackfilePrefix)] != oripath.PackfilePrefix {
		return 0, false
	}
	hexPart := name[len(oripath.PackfilePrefix):]
	v, err := strconv.ParseUint(hexPart, 16, 32)
	if err != nil {
		return 0, false
	}
	return uint32(v), true
}

func (m *Manager) path(id uint32) string {
	return filepath.Join(m.dir, oripath.PackfileName(id))
}

// Open returns the Packfile for id, opening it if not already held.
func (m *Manager) Open(id uint32) (*Packfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.openLocked(id)
}

func (m *Manager) openLocked(id uint32) (*Packfile, error) {
	if p, ok := m.open[id]; ok {
		return p, nil
	}
	p, err := Open(m.fs, m.path(id), id)
	if err != nil {
		return nil, err
	}
	m.open[id] = p
	return p, nil
}

// Current returns the writable packfile to target for new writes,
// allocating a fresh one if there is none yet or the existing one is
// full (spec.md §4.3).
func (m *Manager) Current() (*Packfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil {
		full, err := m.current.Full()
		if err != nil {
			return nil, err
		}
		if !full {
			return m.current, nil
		}
	}

	id := m.nextID
	m.nextID++
	p, err := m.openLocked(id)
	if err != nil {
		return nil, err
	}
	m.current = p
	return p, nil
}

// All returns every packfile id the manager knows about on disk,
// sorted ascending.
func (m *Manager) All() ([]uint32, error) {
	entries, err := afero.ReadDir(m.fs, m.dir)
	if err != nil {
		return nil, xerrors.Errorf("packfile: read dir %s: %w", m.dir, err)
	}
	var ids []uint32
	for _, e := range entries {
		if id, ok := parsePackfileName(e.Name()); ok {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// Close closes every packfile this manager has opened.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var firstErr error
	for _, p := range m.open {
		if err := p.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
