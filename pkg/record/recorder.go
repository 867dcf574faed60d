package record

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/newtron-network/newtorch/pkg/util"
)

// Recorder defines the interface for recording backends
type Recorder interface {
	Record(event *Event) error
	Query(filter Filter) ([]*Event, error)
	Close() error
}

// FileRecorder records events to a JSON-lines file
type FileRecorder struct {
	path     string
	file     *os.File
	encoder  *json.Encoder
	mu       sync.RWMutex
	rotation RotationConfig
}

// RotationConfig configures file rotation
type RotationConfig struct {
	MaxSize    int64 // Max file size in bytes before rotation
	MaxBackups int   // Max number of old files to retain
}

// NewFileRecorder creates a new file-based recorder
func NewFileRecorder(path string, rotation RotationConfig) (*FileRecorder, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating record directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening record file: %w", err)
	}

	return &FileRecorder{
		path:     path,
		file:     file,
		encoder:  json.NewEncoder(file),
		rotation: rotation,
	}, nil
}

// Record appends an event to the file
func (r *FileRecorder) Record(event *Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.rotation.MaxSize > 0 {
		if info, err := r.file.Stat(); err == nil {
			if info.Size() >= r.rotation.MaxSize {
				if err := r.rotate(); err != nil {
					return fmt.Errorf("rotating record file: %w", err)
				}
			}
		}
	}

	return r.encoder.Encode(event)
}

// Query searches the current file for events matching the filter
func (r *FileRecorder) Query(filter Filter) ([]*Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return queryFile(r.path, filter)
}

// QueryFile reads a record file that is not open for writing.
func QueryFile(path string, filter Filter) ([]*Event, error) {
	return queryFile(path, filter)
}

func queryFile(path string, filter Filter) ([]*Event, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []*Event{}, nil
		}
		return nil, err
	}
	defer file.Close()

	var events []*Event
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		var event Event
		if err := json.Unmarshal(scanner.Bytes(), &event); err != nil {
			util.Warnf("record: skipping malformed entry at line %d: %v", lineNum, err)
			continue
		}

		if matchesFilter(&event, filter) {
			events = append(events, &event)
		}
	}

	if filter.Offset > 0 {
		if filter.Offset >= len(events) {
			events = nil
		} else {
			events = events[filter.Offset:]
		}
	}
	if filter.Limit > 0 && filter.Limit < len(events) {
		events = events[:filter.Limit]
	}

	return events, scanner.Err()
}

// Close closes the record file
func (r *FileRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file != nil {
		return r.file.Close()
	}
	return nil
}

func matchesFilter(event *Event, filter Filter) bool {
	if filter.Op != "" && event.Op != filter.Op {
		return false
	}
	if filter.ObjectType != "" && event.ObjectType != filter.ObjectType {
		return false
	}
	if filter.ID != "" && event.ID != filter.ID {
		return false
	}
	if !filter.StartTime.IsZero() && event.Timestamp.Before(filter.StartTime) {
		return false
	}
	if !filter.EndTime.IsZero() && event.Timestamp.After(filter.EndTime) {
		return false
	}
	if filter.FailureOnly && event.Success() {
		return false
	}
	return true
}

func (r *FileRecorder) rotate() error {
	if err := r.file.Close(); err != nil {
		return err
	}

	timestamp := time.Now().Format("20060102-150405.000000")
	rotatedPath := r.path + "." + timestamp

	if err := os.Rename(r.path, rotatedPath); err != nil {
		return err
	}

	file, err := os.OpenFile(r.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}

	r.file = file
	r.encoder = json.NewEncoder(file)

	if r.rotation.MaxBackups > 0 {
		r.cleanupOldFiles()
	}

	return nil
}

func (r *FileRecorder) cleanupOldFiles() {
	matches, err := filepath.Glob(r.path + ".*")
	if err != nil {
		return
	}

	type fileInfo struct {
		path    string
		modTime time.Time
	}
	var files []fileInfo
	for _, path := range matches {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		files = append(files, fileInfo{path, info.ModTime()})
	}

	if len(files) > r.rotation.MaxBackups {
		sort.Slice(files, func(i, j int) bool {
			if files[i].modTime.Equal(files[j].modTime) {
				return files[i].path < files[j].path
			}
			return files[i].modTime.Before(files[j].modTime)
		})

		toRemove := len(files) - r.rotation.MaxBackups
		for i := 0; i < toRemove; i++ {
			os.Remove(files[i].path)
		}
	}
}

// Memory is a Recorder that keeps events in memory, for tests and
// `--dry-run` inspection.
type Memory struct {
	mu     sync.Mutex
	events []*Event
}

// Record implements Recorder.
func (m *Memory) Record(event *Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

// Query implements Recorder.
func (m *Memory) Query(filter Filter) ([]*Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Event
	for _, e := range m.events {
		if matchesFilter(e, filter) {
			out = append(out, e)
		}
	}
	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			out = nil
		} else {
			out = out[filter.Offset:]
		}
	}
	if filter.Limit > 0 && filter.Limit < len(out) {
		out = out[:filter.Limit]
	}
	return out, nil
}

// Close implements Recorder.
func (m *Memory) Close() error { return nil }
