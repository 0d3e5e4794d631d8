package logx

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

type Config struct {
	Level   string
	Console bool
	File    FileConfig
	Chat    ChatConfig
}

type FileConfig struct {
	Enabled bool
	Path    string
}

// ChatConfig controls the operator chat sink.
type ChatConfig struct {
	Enabled    bool
	ThreadID   int
	MinLevel   string
	RatePerSec int
}

const (
	defaultLogPath = "./allybot.log"
	chatQueueSize  = 256
)

// Sender delivers one plain-text log line to a chat.
type Sender interface {
	SendLog(ctx context.Context, chatID int64, threadID int, text string) error
}

// Service owns the sinks. Loggers it hands out write through whatever
// Apply installed last.
type Service struct {
	zl     atomic.Pointer[zerolog.Logger]
	sender Sender
	queue  chan chatLine

	mu       sync.Mutex
	file     *os.File
	chatID   int64
	threadID int
	limiter  *rate.Limiter
	minLevel zerolog.Level

	worker sync.Once
	stop   context.CancelFunc
	done   chan struct{}
}

type chatLine struct {
	chatID   int64
	threadID int
	text     string
}

// New builds the service from cfg and returns it with its root Logger.
func New(cfg Config, sender Sender) (*Service, Logger) {
	zerolog.ErrorFieldName = "err"
	zerolog.TimeFieldFormat = consoleTimeFormat

	s := &Service{sender: sender, queue: make(chan chatLine, chatQueueSize)}
	s.Apply(cfg)
	return s, s.Logger()
}

func (s *Service) current() zerolog.Logger {
	if zl := s.zl.Load(); zl != nil {
		return *zl
	}
	return zerolog.Nop()
}

func (s *Service) Logger() Logger { return Logger{src: s} }

// SetChatTarget sets where the chat sink posts. chatID 0 disables posting;
// threadID 0 keeps the configured thread.
func (s *Service) SetChatTarget(chatID int64, threadID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chatID = chatID
	if threadID != 0 {
		s.threadID = threadID
	}
}

// Apply swaps sinks and levels. Loggers already handed out follow along.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.minLevel = parseLevel(cfg.Chat.MinLevel, zerolog.WarnLevel)
	rps := max(1, cfg.Chat.RatePerSec)
	s.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	if cfg.Chat.ThreadID != 0 {
		s.threadID = cfg.Chat.ThreadID
	}

	var sinks []io.Writer
	if cfg.Console {
		sinks = append(sinks, newConsoleWriter(Stdout()))
	}
	if w := s.reopenFile(cfg.File); w != nil {
		sinks = append(sinks, w)
	}
	if cfg.Chat.Enabled {
		s.startChatWorker()
		sinks = append(sinks, &chatWriter{svc: s})
		if s.chatID == 0 {
			fmt.Fprintln(Stderr(), "logx: chat logging enabled but telegram.group_log is not set")
		}
	}
	if len(sinks) == 0 {
		sinks = append(sinks, newConsoleWriter(Stdout()))
	}

	zl := zerolog.New(zerolog.MultiLevelWriter(sinks...)).
		Level(parseLevel(cfg.Level, zerolog.InfoLevel)).
		With().Timestamp().Logger()
	s.zl.Store(&zl)
}

// reopenFile closes the current log file and opens fc's, if enabled.
// Callers hold s.mu.
func (s *Service) reopenFile(fc FileConfig) io.Writer {
	if s.file != nil {
		_ = s.file.Close()
		s.file = nil
	}
	if !fc.Enabled {
		return nil
	}
	path := strings.TrimSpace(fc.Path)
	if path == "" {
		path = defaultLogPath
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		fmt.Fprintf(Stderr(), "logx: open log file %q: %v\n", path, err)
		return nil
	}
	s.file = f
	return zerolog.SyncWriter(f)
}

func (s *Service) startChatWorker() {
	s.worker.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		s.stop, s.done = cancel, make(chan struct{})
		go func() {
			defer close(s.done)
			for {
				select {
				case <-ctx.Done():
					return
				case ln := <-s.queue:
					if s.sender != nil {
						_ = s.sender.SendLog(ctx, ln.chatID, ln.threadID, ln.text)
					}
				}
			}
		}()
	})
}

// Close stops the chat worker and closes the log file. Queued chat lines
// are discarded.
func (s *Service) Close() error {
	s.mu.Lock()
	f, stop, done := s.file, s.stop, s.done
	s.file, s.stop = nil, nil
	s.mu.Unlock()

	if stop != nil {
		stop()
		<-done
	}
	if f != nil {
		return f.Close()
	}
	return nil
}

func newConsoleWriter(w io.Writer) io.Writer {
	return zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: consoleTimeFormat,
		FormatCaller: func(i any) string {
			s, _ := i.(string)
			return s
		},
	}
}

// parseLevel accepts zerolog level names plus "warning"; anything else is def.
func parseLevel(s string, def zerolog.Level) zerolog.Level {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "warning" {
		s = "warn"
	}
	switch lvl, err := zerolog.ParseLevel(s); {
	case s == "" || err != nil || lvl == zerolog.NoLevel:
		return def
	default:
		return lvl
	}
}

func Stdout() io.Writer { return os.Stdout }

func Stderr() io.Writer { return os.Stderr }
