// Package logstore implements the append-only, daily-rotated event log
// described in spec.md §4.7: a global log plus one log per stream,
// age-based gzip compression, age-based deletion, and range reads.
//
// No library in the example corpus provides file-based log rotation;
// this package is built directly on compress/gzip and os, the same way
// the corpus reaches for the standard library for filesystem plumbing it
// doesn't otherwise depend on a package for.
package logstore

import (
	"bufio"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kvkushal/amagi-hls-monitor/internal/logging"
	"github.com/kvkushal/amagi-hls-monitor/internal/models"
)

const dateLayout = "2006-01-02"

// Store is the append-only per-stream and global log (spec.md §4.7).
type Store struct {
	root string
	log  logging.Logger

	mu        sync.Mutex
	fileLocks map[string]*sync.Mutex
}

// New returns a Store rooted at root (typically "<data_dir>/logs").
func New(root string, log logging.Logger) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("logstore: create root: %w", err)
	}
	return &Store{
		root:      root,
		log:       log,
		fileLocks: make(map[string]*sync.Mutex),
	}, nil
}

// Write appends evt to today's global log, and to today's per-stream log
// when evt.StreamID is set (spec.md §4.7: "every event is written twice").
func (s *Store) Write(evt models.Event) error {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	line, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("logstore: marshal event: %w", err)
	}
	line = append(line, '\n')

	day := evt.Timestamp.UTC().Format(dateLayout)

	if err := s.appendTo(s.globalLogPath(day), line); err != nil {
		return err
	}
	if evt.StreamID != "" {
		if err := s.appendTo(s.streamLogPath(evt.StreamID, day), line); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) globalLogPath(day string) string {
	return filepath.Join(s.root, day+".log")
}

func (s *Store) streamLogPath(streamID, day string) string {
	return filepath.Join(s.root, streamID, day+".log")
}

func (s *Store) lockFor(path string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.fileLocks[path]
	if !ok {
		l = &sync.Mutex{}
		s.fileLocks[path] = l
	}
	return l
}

func (s *Store) appendTo(path string, line []byte) error {
	lock := s.lockFor(path)
	lock.Lock()
	defer lock.Unlock()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("logstore: create dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("logstore: open %s: %w", path, err)
	}
	defer f.Close()

	_, err = f.Write(line)
	return err
}

// Rotate compresses logs older than compressAfter and deletes logs older
// than deleteAfter, relative to now. Intended to run hourly (spec.md
// §4.7). Empty stream directories are removed after their last log is
// deleted.
func (s *Store) Rotate(now time.Time, compressAfter, deleteAfter time.Duration) error {
	compressCutoff := now.Add(-compressAfter)
	deleteCutoff := now.Add(-deleteAfter)

	walkErr := filepath.WalkDir(s.root, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		day, compressed, ok := parseLogFilename(d.Name())
		if !ok {
			return nil
		}
		fileTime, err := time.ParseInLocation(dateLayout, day, time.UTC)
		if err != nil {
			return nil
		}

		switch {
		case fileTime.Before(deleteCutoff):
			s.lockFor(path).Lock()
			defer s.lockFor(path).Unlock()
			if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
				s.warn("delete old log", path, rmErr)
			}
		case !compressed && fileTime.Before(compressCutoff):
			if cErr := s.compress(path); cErr != nil {
				s.warn("compress log", path, cErr)
			}
		}
		return nil
	})
	if walkErr != nil {
		return walkErr
	}

	// Directory cleanup runs as a cheap second pass since WalkDir visits
	// files before there's any chance to know a directory emptied out
	// (spec.md §4.7: "empty stream directories are removed").
	if err := s.PruneEmptyStreamDirs(); err != nil {
		s.warn("prune empty stream dirs", s.root, err)
	}
	return nil
}

func (s *Store) warn(action, path string, err error) {
	if s.log == nil {
		return
	}
	s.log.WithFields(logging.Fields{"path": path, "error": err.Error()}).Warn(action + " failed")
}

func parseLogFilename(name string) (day string, compressed bool, ok bool) {
	switch {
	case strings.HasSuffix(name, ".log.gz"):
		return strings.TrimSuffix(name, ".log.gz"), true, true
	case strings.HasSuffix(name, ".log"):
		return strings.TrimSuffix(name, ".log"), false, true
	default:
		return "", false, false
	}
}

func (s *Store) compress(path string) error {
	lock := s.lockFor(path)
	lock.Lock()
	defer lock.Unlock()

	in, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer in.Close()

	outPath := path + ".gz"
	out, err := os.Create(outPath)
	if err != nil {
		return err
	}
	defer out.Close()

	gz := gzip.NewWriter(out)
	if _, err := io.Copy(gz, in); err != nil {
		gz.Close()
		return err
	}
	if err := gz.Close(); err != nil {
		return err
	}
	in.Close()
	return os.Remove(path)
}

// PruneEmptyStreamDirs removes stream subdirectories that no longer
// contain any log files (spec.md §4.7).
func (s *Store) PruneEmptyStreamDirs() error {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(s.root, e.Name())
		inner, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		if len(inner) == 0 {
			os.Remove(dir)
		}
	}
	return nil
}

// ReadEvents iterates days from start to end inclusive, opening plain or
// gzipped files as present, and returns events matching the optional
// streamID/eventType filters, up to limit (spec.md §4.7). Malformed lines
// are skipped.
func (s *Store) ReadEvents(start, end time.Time, streamID, eventType string, limit int) ([]models.Event, error) {
	var out []models.Event

	days := daysBetween(start.UTC(), end.UTC())
	for _, day := range days {
		if limit > 0 && len(out) >= limit {
			break
		}
		path := s.globalLogPath(day)
		if streamID != "" {
			path = s.streamLogPath(streamID, day)
		}

		events, err := s.readDayFile(path, eventType, limit-len(out))
		if err != nil {
			return out, err
		}
		out = append(out, events...)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (s *Store) readDayFile(path, eventType string, remaining int) ([]models.Event, error) {
	r, closer, err := s.openLog(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer closer()

	var out []models.Event
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	for scanner.Scan() {
		if remaining > 0 && len(out) >= remaining {
			break
		}
		var evt models.Event
		if err := json.Unmarshal(scanner.Bytes(), &evt); err != nil {
			continue // malformed line: skip (spec.md §4.7)
		}
		if eventType != "" && evt.Type != eventType {
			continue
		}
		out = append(out, evt)
	}
	return out, nil
}

func (s *Store) openLog(path string) (io.Reader, func(), error) {
	lock := s.lockFor(path)
	lock.Lock()

	if f, err := os.Open(path); err == nil {
		return f, func() { f.Close(); lock.Unlock() }, nil
	}

	gzPath := path + ".gz"
	f, err := os.Open(gzPath)
	if err != nil {
		lock.Unlock()
		return nil, func() {}, err
	}
	gz, err := gzip.NewReader(f)
	if err != nil {
		f.Close()
		lock.Unlock()
		return nil, func() {}, err
	}
	return gz, func() { gz.Close(); f.Close(); lock.Unlock() }, nil
}

func daysBetween(start, end time.Time) []string {
	var days []string
	cur := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
	last := time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, time.UTC)
	for !cur.After(last) {
		days = append(days, cur.Format(dateLayout))
		cur = cur.AddDate(0, 0, 1)
	}
	return days
}
