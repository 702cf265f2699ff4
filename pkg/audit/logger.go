package audit

import (
	"context"
	"sync"
	"time"
)

// LoggerConfig configures the audit logger.
type LoggerConfig struct {
	// BufferSize is the capacity of the async queue; default 1000.
	BufferSize int
	// OnError is called when a sink write fails. Optional.
	OnError func(error)
}

// Logger accepts entries from request paths and writes them to its appenders
// from a background goroutine, so a slow sink never stalls an access check.
// When the queue is full the entry is written synchronously instead of being
// dropped.
type Logger struct {
	appender Appender
	cfg      LoggerConfig

	ch        chan *Entry
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewLogger starts a logger writing to the given appenders.
func NewLogger(cfg LoggerConfig, appenders ...Appender) *Logger {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1000
	}
	l := &Logger{
		appender: NewMultiAppender(appenders...),
		cfg:      cfg,
		ch:       make(chan *Entry, cfg.BufferSize),
		done:     make(chan struct{}),
	}
	l.wg.Add(1)
	go l.run()
	return l
}

// Record queues the entry, filling in ID and timestamp if unset.
func (l *Logger) Record(entry *Entry) {
	if entry == nil {
		return
	}
	if entry.ID == "" {
		entry.ID = generateID()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	select {
	case l.ch <- entry:
	case <-l.done:
	default:
		// Queue full: write in the caller rather than drop the record.
		l.write(entry)
	}
}

func (l *Logger) run() {
	defer l.wg.Done()
	for {
		select {
		case entry := <-l.ch:
			l.write(entry)
		case <-l.done:
			for {
				select {
				case entry := <-l.ch:
					l.write(entry)
				default:
					return
				}
			}
		}
	}
}

func (l *Logger) write(entry *Entry) {
	if err := l.appender.Append(context.Background(), entry); err != nil && l.cfg.OnError != nil {
		l.cfg.OnError(err)
	}
}

// Close drains the queue and closes the appenders.
func (l *Logger) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.done)
		l.wg.Wait()
		err = l.appender.Close()
	})
	return err
}
