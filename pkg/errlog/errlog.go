package errlog

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/projectdiscovery/utils/batcher"
	envutil "github.com/projectdiscovery/utils/env"
	"gopkg.in/natefinch/lumberjack.v2"
)

const DefaultFileName = "sessionhunt-errors.log"

var (
	// Default number of entries buffered before a write
	DefaultBatchSize = 100
	// Default interval after which buffered entries are written
	DefaultFlushInterval = 5 * time.Second
)

const (
	batchSizeEnv     = "SESSIONHUNT_ERRLOG_BATCH_SIZE"
	flushIntervalEnv = "SESSIONHUNT_ERRLOG_FLUSH_INTERVAL"
)

// positiveEnv reads key as an int or a duration such as 10s, falling back
// to def when the variable is unset, malformed or not positive
func positiveEnv[T int | time.Duration](key string, def T) T {
	if value := envutil.GetEnvOrDefault(key, def); value > 0 {
		return value
	}
	return def
}

// Entry is a single error log line
type Entry struct {
	Time    time.Time
	Message string
}

func (e Entry) String() string {
	return e.Time.UTC().Format(time.RFC3339) + " " + strings.TrimSpace(e.Message)
}

// Logger appends timestamped error messages to a writer in batches
type Logger struct {
	out     io.Writer
	batcher *batcher.Batcher[Entry]
	now     func() time.Time

	// state guards closed against concurrent LogError calls
	state  sync.RWMutex
	closed bool

	mu       sync.Mutex
	writeErr error
}

// New returns a logger writing to out. The logger must be closed to flush
// buffered entries.
func New(out io.Writer) *Logger {
	l := &Logger{out: out, now: time.Now}
	l.batcher = batcher.New(
		batcher.WithMaxCapacity[Entry](positiveEnv(batchSizeEnv, DefaultBatchSize)),
		batcher.WithFlushInterval[Entry](positiveEnv(flushIntervalEnv, DefaultFlushInterval)),
		batcher.WithFlushCallback[Entry](l.flush),
	)
	go l.batcher.Run()
	return l
}

// OpenFile returns a size-rotated log file writer for filename
func OpenFile(filename string, maxSizeMB, maxBackups int) io.WriteCloser {
	if filename == "" {
		filename = DefaultFileName
	}
	return &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		LocalTime:  true,
	}
}

// LogError queues message for writing. Messages logged after Close are dropped.
func (l *Logger) LogError(message string) {
	message = strings.TrimSpace(message)
	if message == "" {
		return
	}
	l.state.RLock()
	defer l.state.RUnlock()
	if l.closed {
		return
	}
	// multi-line messages keep one timestamped line each
	now := l.now()
	for _, line := range strings.Split(message, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			l.batcher.Append(Entry{Time: now, Message: line})
		}
	}
}

func (l *Logger) flush(entries []Entry) {
	if len(entries) == 0 {
		return
	}
	var sb strings.Builder
	for _, entry := range entries {
		sb.WriteString(entry.String())
		sb.WriteByte('\n')
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := io.WriteString(l.out, sb.String()); err != nil && l.writeErr == nil {
		l.writeErr = fmt.Errorf("could not write error log: %w", err)
	}
}

// Close flushes pending entries and returns the first write error, if any
func (l *Logger) Close() error {
	l.state.Lock()
	if l.closed {
		l.state.Unlock()
		l.mu.Lock()
		defer l.mu.Unlock()
		return l.writeErr
	}
	l.closed = true
	l.state.Unlock()

	l.batcher.Stop()
	l.batcher.WaitDone()

	l.mu.Lock()
	defer l.mu.Unlock()
	if closer, ok := l.out.(io.Closer); ok {
		if err := closer.Close(); err != nil && l.writeErr == nil {
			l.writeErr = err
		}
	}
	return l.writeErr
}
