package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	log "github.com/sirupsen/logrus"
)

var ErrLogLocked = errors.New("probe log locked by another process")

type LogWriterConfig struct {
	DrainInterval    time.Duration // fallback wake-up when no notification arrives
	MaxWriteFailures int           // consecutive failed cycles before Run gives up
}

func DefaultLogWriterConfig() LogWriterConfig {
	return LogWriterConfig{
		DrainInterval:    50 * time.Millisecond,
		MaxWriteFailures: 5,
	}
}

type logFile interface {
	io.Writer
	Sync() error
	Close() error
}

// LogWriter appends every record put on its queue to a single file, one line each,
// in queue order. Each line is synced before the next one is written.
type LogWriter[T fmt.Stringer] struct {
	path   string
	queue  *Queue[T]
	config LogWriterConfig

	lock *flock.Flock
	file logFile

	pending  []string // formatted lines, newline included; the head may be a partly written suffix
	failures int
	written  int64

	openFile func(path string) (logFile, error)
}

func NewLogWriter[T fmt.Stringer](path string, queue *Queue[T], config LogWriterConfig) *LogWriter[T] {
	def := DefaultLogWriterConfig()
	if config.DrainInterval <= 0 {
		config.DrainInterval = def.DrainInterval
	}
	if config.MaxWriteFailures <= 0 {
		config.MaxWriteFailures = def.MaxWriteFailures
	}
	return &LogWriter[T]{
		path:     path,
		queue:    queue,
		config:   config,
		openFile: openAppend,
	}
}

func openAppend(path string) (logFile, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
}

func (w *LogWriter[T]) Path() string {
	return w.path
}

// Written returns the number of lines persisted so far. Only meaningful once Run returned.
func (w *LogWriter[T]) Written() int64 {
	return w.written
}

// Open creates the probe log if needed and takes the exclusive lock guarding it.
// Run calls it when it has not been called yet.
func (w *LogWriter[T]) Open() error {
	if w.file != nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(w.path), 0755); err != nil {
		return fmt.Errorf("failed to create log dir for %s: %w", w.path, err)
	}

	lock := flock.New(w.path + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to lock %s: %w", w.path, err)
	}
	if !locked {
		return fmt.Errorf("%w: %s", ErrLogLocked, w.path)
	}

	f, err := w.openFile(w.path)
	if err != nil {
		_ = lock.Unlock()
		return fmt.Errorf("failed to open probe log %s: %w", w.path, err)
	}
	w.lock = lock
	w.file = f
	log.Infof("Logging to: %s", w.path)
	return nil
}

// Close releases the file and its lock. Run does this on return.
func (w *LogWriter[T]) Close() error {
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	if uerr := w.lock.Unlock(); uerr != nil {
		log.Warnf("failed to unlock probe log %s: %v", w.path, uerr)
	}
	w.file = nil
	w.lock = nil
	return err
}

// Run holds the file open until the queue is closed and fully drained, or ctx is canceled.
// On ctx cancellation whatever is already queued is still written before returning.
func (w *LogWriter[T]) Run(ctx context.Context) error {
	if err := w.Open(); err != nil {
		return err
	}
	defer w.Close()

	ticker := time.NewTicker(w.config.DrainInterval)
	defer ticker.Stop()

	for {
		closed := w.queue.Closed()
		if err := w.drain(); err != nil {
			return err
		}
		if closed && len(w.pending) == 0 && w.queue.Len() == 0 {
			log.Infof("probe log drained, %d lines written to %s", w.written, w.path)
			return nil
		}

		select {
		case <-ctx.Done():
			if err := w.drain(); err != nil {
				return err
			}
			if len(w.pending) > 0 {
				log.Warnf("dropping %d unwritten probe records on shutdown", len(w.pending))
			}
			return nil
		case <-w.queue.Notify():
		case <-ticker.C:
		}
	}
}

// drain moves queued items behind any pending ones and writes them in order.
// A write error keeps the unwritten tail pending for the next cycle, starting with
// whatever part of the current line did not reach the file.
func (w *LogWriter[T]) drain() error {
	for _, item := range w.queue.DequeueAll() {
		w.pending = append(w.pending, item.String()+"\n")
	}
	for len(w.pending) > 0 {
		n, err := writeLine(w.file, w.pending[0])
		if err != nil {
			w.pending[0] = w.pending[0][n:]
			w.failures++
			if w.failures >= w.config.MaxWriteFailures {
				return fmt.Errorf("failed to write probe log %s after %d attempts: %w", w.path, w.failures, err)
			}
			log.Warnf("probe log write failed (%d/%d), %d records pending: %v",
				w.failures, w.config.MaxWriteFailures, len(w.pending), err)
			return nil
		}
		w.failures = 0
		w.written++
		w.pending = w.pending[1:]
	}
	w.pending = nil
	return nil
}

// writeLine returns how many bytes of line reached f, even when it fails.
func writeLine(f logFile, line string) (int, error) {
	n, err := io.WriteString(f, line)
	if err != nil {
		return n, err
	}
	return n, f.Sync()
}
