package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sync"
	"time"

	"github.com/banshee-data/pothole.report/internal/fsutil"
	"github.com/banshee-data/pothole.report/internal/hits"
	"github.com/banshee-data/pothole.report/internal/monitoring"
)

const (
	logFileName   = "hits.binpb"
	indexFileName = "hits.jsonl"
)

// FileStore keeps records in hour-partitioned append-only logs under
// base/YYYY/MM/DD/HH/. Each partition holds the primary length-prefixed
// log plus a jsonl index. Deletes rewrite the affected partitions without
// the removed ids; appends never rewrite in place otherwise.
type FileStore struct {
	mu      sync.Mutex
	fs      fsutil.FileSystem
	baseDir string
}

// NewFileStore creates a store rooted at baseDir on the given filesystem.
func NewFileStore(filesystem fsutil.FileSystem, baseDir string) (*FileStore, error) {
	if baseDir == "" {
		return nil, errors.New("storage base directory is required")
	}
	if err := filesystem.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir %s: %w", baseDir, err)
	}
	return &FileStore{fs: filesystem, baseDir: baseDir}, nil
}

// partitionDir returns the hour bucket for a server timestamp, derived from
// the UTC calendar hour.
func (s *FileStore) partitionDir(serverTimestampMS int64) string {
	t := time.UnixMilli(serverTimestampMS).UTC()
	return filepath.Join(s.baseDir,
		fmt.Sprintf("%04d", t.Year()),
		fmt.Sprintf("%02d", t.Month()),
		fmt.Sprintf("%02d", t.Day()),
		fmt.Sprintf("%02d", t.Hour()))
}

// Store appends one record to its partition's log and index.
func (s *FileStore) Store(rec *hits.ServerHitRecord) error {
	frame, err := EncodeRecord(rec)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dir := s.partitionDir(rec.ServerTimestampMS)
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create partition %s: %w", dir, err)
	}

	if err := s.appendFile(filepath.Join(dir, logFileName), frame); err != nil {
		return fmt.Errorf("append log: %w", err)
	}
	if err := s.appendFile(filepath.Join(dir, indexFileName), IndexLine(rec)); err != nil {
		return fmt.Errorf("append index: %w", err)
	}

	monitoring.Logf("hit written record_id=%d partition=%s", rec.RecordID, dir)
	return nil
}

// StoreBatch stores records one at a time; no atomicity across the batch.
func (s *FileStore) StoreBatch(recs []*hits.ServerHitRecord) error {
	for _, rec := range recs {
		if err := s.Store(rec); err != nil {
			return err
		}
	}
	return nil
}

// ReadAll decodes every partition's log. Order follows the directory walk,
// which callers must not rely on.
func (s *FileStore) ReadAll() ([]hits.ServerHitRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var all []hits.ServerHitRecord
	for _, dir := range s.partitions() {
		recs, err := s.readPartition(dir)
		if err != nil {
			return nil, err
		}
		all = append(all, recs...)
	}
	return all, nil
}

// Delete rewrites every partition containing a requested id, excluding the
// matched records, and returns how many were found. The store lock blocks
// concurrent appends for the duration.
func (s *FileStore) Delete(ids map[int64]bool) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for _, dir := range s.partitions() {
		recs, err := s.readPartition(dir)
		if err != nil {
			return deleted, err
		}

		kept := recs[:0]
		removed := 0
		for i := range recs {
			if ids[recs[i].RecordID] {
				removed++
				continue
			}
			kept = append(kept, recs[i])
		}
		if removed == 0 {
			continue
		}

		if err := s.rewritePartition(dir, kept); err != nil {
			return deleted, err
		}
		deleted += removed
	}
	return deleted, nil
}

// Close is a no-op for the file backend.
func (s *FileStore) Close() error { return nil }

// BaseDir returns the storage root, used by health reporting.
func (s *FileStore) BaseDir() string { return s.baseDir }

func (s *FileStore) appendFile(path string, data []byte) error {
	w, err := s.fs.Append(path)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

// partitions lists every hour directory under the base, sorted by the walk.
// Layout is fixed at four levels: year/month/day/hour.
func (s *FileStore) partitions() []string {
	var dirs []string
	var walk func(dir string, depth int)
	walk = func(dir string, depth int) {
		if depth == 4 {
			dirs = append(dirs, dir)
			return
		}
		entries, err := s.fs.ReadDir(dir)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				monitoring.Logf("read partition dir %s: %v", dir, err)
			}
			return
		}
		for _, e := range entries {
			if e.IsDir() {
				walk(filepath.Join(dir, e.Name()), depth+1)
			}
		}
	}
	walk(s.baseDir, 0)
	return dirs
}

func (s *FileStore) readPartition(dir string) ([]hits.ServerHitRecord, error) {
	data, err := s.fs.ReadFile(filepath.Join(dir, logFileName))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read partition %s: %w", dir, err)
	}
	recs, err := DecodeRecords(data)
	if err != nil {
		return nil, fmt.Errorf("decode partition %s: %w", dir, err)
	}
	return recs, nil
}

// rewritePartition replaces a partition's log and index with the kept
// records, or removes the files when nothing remains.
func (s *FileStore) rewritePartition(dir string, kept []hits.ServerHitRecord) error {
	logPath := filepath.Join(dir, logFileName)
	indexPath := filepath.Join(dir, indexFileName)

	if len(kept) == 0 {
		if err := s.fs.Remove(logPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove log %s: %w", logPath, err)
		}
		if err := s.fs.Remove(indexPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove index %s: %w", indexPath, err)
		}
		return nil
	}

	var logBuf, indexBuf []byte
	for i := range kept {
		frame, err := EncodeRecord(&kept[i])
		if err != nil {
			return err
		}
		logBuf = append(logBuf, frame...)
		indexBuf = append(indexBuf, IndexLine(&kept[i])...)
	}
	if err := s.fs.WriteFile(logPath, logBuf, 0o644); err != nil {
		return fmt.Errorf("rewrite log %s: %w", logPath, err)
	}
	if err := s.fs.WriteFile(indexPath, indexBuf, 0o644); err != nil {
		return fmt.Errorf("rewrite index %s: %w", indexPath, err)
	}
	return nil
}
