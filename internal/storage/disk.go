package storage

import (
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

const diskIndexFile = "store.index"

// DiskBackend stores one file per key under a directory, with a gob index
// mapping keys to files.
type DiskBackend struct {
	basePath string
	quota    int64

	mu    sync.RWMutex
	index map[string]*diskEntry
	size  int64
}

type diskEntry struct {
	Key      string
	FileName string
	Size     int64
	Modified time.Time
}

// NewDiskBackend opens the directory at basePath, creating it if needed.
// quota <= 0 disables the backend's own limit.
func NewDiskBackend(basePath string, quota int64) (*DiskBackend, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	d := &DiskBackend{
		basePath: basePath,
		quota:    quota,
		index:    make(map[string]*diskEntry),
	}
	if err := d.loadIndex(); err != nil {
		// Unreadable index: start empty, orphaned files are overwritten
		// as keys are rewritten.
		d.index = make(map[string]*diskEntry)
	}
	d.reconcile()
	return d, nil
}

func (d *DiskBackend) Get(key string) ([]byte, bool, error) {
	d.mu.RLock()
	entry, ok := d.index[key]
	d.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}

	data, err := os.ReadFile(d.path(entry.FileName))
	if os.IsNotExist(err) {
		d.mu.Lock()
		d.dropLocked(key)
		d.mu.Unlock()
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return data, true, nil
}

func (d *DiskBackend) Set(key string, value []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var existing int64
	if e, ok := d.index[key]; ok {
		existing = e.Size
	}
	next := d.size - existing + int64(len(value))
	if d.quota > 0 && next > d.quota {
		return fmt.Errorf("%w: %d of %d bytes", ErrQuotaExceeded, next, d.quota)
	}

	name := fileNameFor(key)
	if err := writeFileAtomic(d.path(name), value); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}

	d.index[key] = &diskEntry{
		Key:      key,
		FileName: name,
		Size:     int64(len(value)),
		Modified: time.Now(),
	}
	d.size = next
	return d.saveIndex()
}

func (d *DiskBackend) Delete(key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	entry, ok := d.index[key]
	if !ok {
		return nil
	}
	if err := os.Remove(d.path(entry.FileName)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove %s: %w", key, err)
	}
	d.dropLocked(key)
	return d.saveIndex()
}

func (d *DiskBackend) Keys() ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	keys := make([]string, 0, len(d.index))
	for k := range d.index {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (d *DiskBackend) Estimate() (Estimate, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return Estimate{Usage: d.size, Quota: d.quota}, nil
}

// Close saves the index.
func (d *DiskBackend) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.saveIndex()
}

func (d *DiskBackend) path(name string) string {
	return filepath.Join(d.basePath, name)
}

func (d *DiskBackend) dropLocked(key string) {
	if e, ok := d.index[key]; ok {
		d.size -= e.Size
		delete(d.index, key)
	}
}

// reconcile drops index entries whose files are gone and recomputes size.
func (d *DiskBackend) reconcile() {
	d.size = 0
	for key, e := range d.index {
		info, err := os.Stat(d.path(e.FileName))
		if err != nil {
			delete(d.index, key)
			continue
		}
		e.Size = info.Size()
		d.size += e.Size
	}
}

func fileNameFor(key string) string {
	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:16]) + ".item"
}

func writeFileAtomic(path string, data []byte) error {
	tempPath := path + ".tmp"

	file, err := os.Create(tempPath)
	if err != nil {
		return err
	}

	_, err = file.Write(data)
	closeErr := file.Close()

	if err != nil {
		os.Remove(tempPath)
		return err
	}
	if closeErr != nil {
		os.Remove(tempPath)
		return closeErr
	}

	return os.Rename(tempPath, path)
}

func (d *DiskBackend) loadIndex() error {
	file, err := os.Open(d.path(diskIndexFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer file.Close()

	return gob.NewDecoder(file).Decode(&d.index)
}

func (d *DiskBackend) saveIndex() error {
	indexPath := d.path(diskIndexFile)
	tempPath := indexPath + ".tmp"

	file, err := os.Create(tempPath)
	if err != nil {
		return err
	}

	err = gob.NewEncoder(file).Encode(d.index)
	closeErr := file.Close()

	if err != nil {
		os.Remove(tempPath)
		return err
	}
	if closeErr != nil {
		os.Remove(tempPath)
		return closeErr
	}

	return os.Rename(tempPath, indexPath)
}
