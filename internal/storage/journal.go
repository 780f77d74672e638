// Package storage keeps a durable JSONL journal of restriction alerts.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dgnsrekt/restriction_watcher/internal/alert"
	"gopkg.in/natefinch/lumberjack.v2"
)

const journalFile = "alerts.jsonl"

// Journal writes alerts as JSON lines into date-organized directories:
// <baseDir>/<YYYY-MM-DD>/alerts.jsonl. Writes are queued and flushed by a
// single goroutine.
type Journal struct {
	baseDir   string
	maxSizeMB int
	now       func() time.Time

	writeCh chan alert.Alert
	done    chan struct{}
	wg      sync.WaitGroup

	closeMu sync.RWMutex
	closed  bool

	mu          sync.Mutex
	currentDate string
	logger      *lumberjack.Logger
}

// NewJournal starts a journal rooted at baseDir.
func NewJournal(baseDir string, bufferSize, maxSizeMB int) *Journal {
	if bufferSize < 1 {
		bufferSize = 64
	}
	if maxSizeMB < 1 {
		maxSizeMB = 25
	}
	j := &Journal{
		baseDir:   baseDir,
		maxSizeMB: maxSizeMB,
		now:       time.Now,
		writeCh:   make(chan alert.Alert, bufferSize),
		done:      make(chan struct{}),
	}
	j.wg.Add(1)
	go j.writeLoop()
	return j
}

func (j *Journal) Name() string { return "journal" }

// Deliver queues a for writing. It never blocks on disk.
// A nil return means the alert will be written, even if Close runs next.
func (j *Journal) Deliver(_ context.Context, a alert.Alert) error {
	j.closeMu.RLock()
	defer j.closeMu.RUnlock()
	if j.closed {
		return errors.New("journal is closed")
	}
	select {
	case j.writeCh <- a:
		return nil
	default:
		return errors.New("journal buffer full")
	}
}

// Close flushes queued alerts and closes the current file.
func (j *Journal) Close() error {
	j.closeMu.Lock()
	if j.closed {
		j.closeMu.Unlock()
		return nil
	}
	j.closed = true
	j.closeMu.Unlock()

	close(j.done)
	j.wg.Wait()

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.logger != nil {
		return j.logger.Close()
	}
	return nil
}

func (j *Journal) writeLoop() {
	defer j.wg.Done()
	for {
		select {
		case a := <-j.writeCh:
			j.write(a)
		case <-j.done:
			for {
				select {
				case a := <-j.writeCh:
					j.write(a)
				default:
					return
				}
			}
		}
	}
}

func (j *Journal) write(a alert.Alert) {
	data, err := json.Marshal(a)
	if err != nil {
		slog.Error("Failed to marshal alert", "alert_id", a.ID, "error", err)
		return
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	date := j.now().UTC().Format("2006-01-02")
	if date != j.currentDate || j.logger == nil {
		if err := j.rotateForDate(date); err != nil {
			slog.Error("Failed to open alert journal", "dir", j.baseDir, "error", err)
			return
		}
	}

	if _, err := j.logger.Write(append(data, '\n')); err != nil {
		slog.Error("Failed to write alert journal", "alert_id", a.ID, "error", err)
	}
}

func (j *Journal) rotateForDate(date string) error {
	if j.logger != nil {
		_ = j.logger.Close()
		j.logger = nil
	}

	dir := filepath.Join(j.baseDir, date)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create journal dir: %w", err)
	}

	filename := filepath.Join(dir, journalFile)
	j.logger = &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    j.maxSizeMB,
		MaxBackups: 100,
		MaxAge:     30,
		LocalTime:  false,
	}
	j.currentDate = date
	slog.Info("Opened alert journal", "file", filename)
	return nil
}

// ReadDay returns the alerts journaled on date (YYYY-MM-DD), oldest first.
func ReadDay(baseDir, date string) ([]alert.Alert, error) {
	data, err := os.ReadFile(filepath.Join(baseDir, date, journalFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var out []alert.Alert
	dec := json.NewDecoder(bytes.NewReader(data))
	for dec.More() {
		var a alert.Alert
		if err := dec.Decode(&a); err != nil {
			return out, fmt.Errorf("decode journal %s: %w", date, err)
		}
		out = append(out, a)
	}
	return out, nil
}
