// Package logger implements the structured logger every other package
// calls into: a colorized, async console/file writer whose file is named by
// the date it was opened at startup (it is not switched when the day
// changes), extended with a syslog branch and TTY-aware color detection driven by
// the log.{console,syslog,syslog_socket,facility,filter} configuration
// keys.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"log/syslog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"golang.org/x/term"

	"github.com/pathfinderd/pathfinder/internal/config"
)

const (
	LevelFatal slog.Level = 12
)

// AsyncHandler writes formatted log lines to a channel drained by one
// background worker, so a slow console or disk never blocks a
// connection-handling goroutine.
type AsyncHandler struct {
	ch          chan []byte
	writer      io.Writer
	syslogW     *syslog.Writer
	color       bool
	attrs       []slog.Attr
	currentDay  int
	currentFile *os.File
	basePath    string
	group       string
	logLevel    slog.Level
	wg          sync.WaitGroup
}

// Options configures one AsyncHandler.
type Options struct {
	Level       slog.Level
	Console     bool
	FileDir     string // empty disables file logging
	Syslog      bool
	SyslogAddr  string // network:addr pair for syslog.Dial; empty dials the local daemon
	SyslogFacility string
}

func NewAsyncHandler(opts Options) *AsyncHandler {
	h := &AsyncHandler{
		ch:       make(chan []byte, 1024),
		logLevel: opts.Level,
		basePath: opts.FileDir,
	}

	var writers []io.Writer
	if opts.Console {
		writers = append(writers, os.Stdout)
		h.color = term.IsTerminal(int(os.Stdout.Fd()))
	}
	if opts.FileDir != "" {
		_ = h.rotateIfNeeded()
		if h.currentFile != nil {
			writers = append(writers, h.currentFile)
		}
	}
	switch len(writers) {
	case 0:
		h.writer = io.Discard
	case 1:
		h.writer = writers[0]
	default:
		h.writer = io.MultiWriter(writers...)
	}

	if opts.Syslog {
		if w, err := dialSyslog(opts.SyslogAddr, opts.SyslogFacility); err == nil {
			h.syslogW = w
		}
	}

	h.wg.Add(1)
	go h.startWorker()
	return h
}

// dialSyslog connects to the local daemon (addr == "") or a remote
// syslog listener ("network:host:port", e.g. "udp:127.0.0.1:514") as named
// by the log.syslog_socket configuration key.
func dialSyslog(addr, facility string) (*syslog.Writer, error) {
	priority := syslogFacility(facility) | syslog.LOG_INFO
	if addr == "" {
		return syslog.New(priority, "pathfinderd")
	}
	parts := strings.SplitN(addr, ":", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("malformed syslog socket %q, want network:address", addr)
	}
	return syslog.Dial(parts[0], parts[1], priority, "pathfinderd")
}

func syslogFacility(name string) syslog.Priority {
	switch strings.ToLower(name) {
	case "daemon", "":
		return syslog.LOG_DAEMON
	case "local0":
		return syslog.LOG_LOCAL0
	case "local1":
		return syslog.LOG_LOCAL1
	case "local2":
		return syslog.LOG_LOCAL2
	case "local3":
		return syslog.LOG_LOCAL3
	case "local4":
		return syslog.LOG_LOCAL4
	case "local5":
		return syslog.LOG_LOCAL5
	case "local6":
		return syslog.LOG_LOCAL6
	case "local7":
		return syslog.LOG_LOCAL7
	case "user":
		return syslog.LOG_USER
	default:
		return syslog.LOG_DAEMON
	}
}

func (h *AsyncHandler) cleanOldLogs() {
	files, _ := filepath.Glob(h.basePath + "/*.log")
	now := time.Now()
	for _, f := range files {
		fi, err := os.Stat(f)
		if err == nil && now.Sub(fi.ModTime()) > 30*24*time.Hour {
			_ = os.Remove(f)
		}
	}
}

// rotateIfNeeded opens the current day's log file unless it is already the
// open one. NewAsyncHandler is its only caller, so a running handler keeps
// writing to the file opened at construction.
func (h *AsyncHandler) rotateIfNeeded() error {
	now := time.Now()
	day := now.YearDay()
	if day == h.currentDay && h.currentFile != nil {
		return nil
	}
	if h.currentFile != nil {
		if err := h.currentFile.Close(); err != nil {
			return fmt.Errorf("closing log file: %w", err)
		}
	}

	logPath := h.logPath()
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return fmt.Errorf("creating log directory: %w", err)
	}
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}

	h.currentFile = f
	h.currentDay = day
	h.cleanOldLogs()
	return nil
}

func (h *AsyncHandler) logPath() string {
	return fmt.Sprintf("%s/%s.log", h.basePath, time.Now().Format("2006-01-02"))
}

func (h *AsyncHandler) startWorker() {
	defer h.wg.Done()
	for data := range h.ch {
		_, _ = h.writer.Write(data)
	}
}

func (h *AsyncHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.logLevel
}

func (h *AsyncHandler) Handle(_ context.Context, r slog.Record) error {
	level := r.Level.String()
	if r.Level == LevelFatal {
		level = "FATAL"
	}
	if h.color {
		level = colorForLevel(r.Level, level)
	}

	line := fmt.Sprintf("%s | %-5s | %s", r.Time.Format("2006-01-02T15:04:05"), level, r.Message)
	for _, attr := range h.attrs {
		line += fmt.Sprintf(" %s=%v", attr.Key, attr.Value)
	}
	r.Attrs(func(attr slog.Attr) bool {
		line += fmt.Sprintf(" %s=%v", attr.Key, attr.Value)
		return true
	})
	line += "\n"

	h.Write([]byte(line))
	h.writeSyslog(r.Level, r.Message)
	return nil
}

func colorForLevel(level slog.Level, s string) string {
	switch level {
	case slog.LevelDebug:
		return color.MagentaString(s)
	case slog.LevelInfo:
		return color.BlueString(s)
	case slog.LevelWarn:
		return color.YellowString(s)
	case slog.LevelError:
		return color.RedString(s)
	case LevelFatal:
		return color.HiRedString(s)
	default:
		return s
	}
}

func (h *AsyncHandler) writeSyslog(level slog.Level, msg string) {
	if h.syslogW == nil {
		return
	}
	switch level {
	case slog.LevelDebug:
		_ = h.syslogW.Debug(msg)
	case slog.LevelInfo:
		_ = h.syslogW.Info(msg)
	case slog.LevelWarn:
		_ = h.syslogW.Warning(msg)
	case slog.LevelError:
		_ = h.syslogW.Err(msg)
	case LevelFatal:
		_ = h.syslogW.Crit(msg)
	}
}

func (h *AsyncHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	newAttrs = append(newAttrs, h.attrs...)
	newAttrs = append(newAttrs, attrs...)
	return &AsyncHandler{writer: h.writer, syslogW: h.syslogW, color: h.color, attrs: newAttrs, group: h.group, logLevel: h.logLevel}
}

func (h *AsyncHandler) WithGroup(name string) slog.Handler {
	return &AsyncHandler{writer: h.writer, syslogW: h.syslogW, color: h.color, attrs: h.attrs, group: name, logLevel: h.logLevel}
}

func (h *AsyncHandler) Write(p []byte) {
	pb := make([]byte, len(p))
	copy(pb, p)
	h.ch <- pb
}

func (h *AsyncHandler) Close() error {
	close(h.ch)
	h.wg.Wait()
	if h.currentFile != nil {
		_ = h.currentFile.Sync()
		_ = h.currentFile.Close()
	}
	if h.syslogW != nil {
		_ = h.syslogW.Close()
	}
	return nil
}

type ShutdownCallback struct {
	handler *AsyncHandler
}

func (lc *ShutdownCallback) Invoke(ctx context.Context) error {
	return lc.handler.Close()
}

func levelFromFilter(filter string) slog.Level {
	switch strings.ToLower(filter) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Init builds the process-wide slog logger from the top-level log
// configuration and installs it as slog's default.
func Init(cfg config.LogConfig) *ShutdownCallback {
	handler := NewAsyncHandler(Options{
		Level:          levelFromFilter(cfg.Filter),
		Console:        cfg.Console,
		FileDir:        "logs",
		Syslog:         cfg.Syslog,
		SyslogAddr:     cfg.SyslogSocket,
		SyslogFacility: cfg.Facility,
	})
	slog.SetDefault(slog.New(handler))
	slog.Debug("Logger initialized")
	return &ShutdownCallback{handler: handler}
}

func Debug(msg string, v ...interface{})  { slog.Debug(msg, v...) }
func DebugF(msg string, v ...interface{}) { slog.Debug(fmt.Sprintf(msg, v...)) }
func Info(msg string, v ...interface{})   { slog.Info(msg, v...) }
func InfoF(msg string, v ...interface{})  { slog.Info(fmt.Sprintf(msg, v...)) }
func Warn(msg string, v ...interface{})   { slog.Warn(msg, v...) }
func WarnF(msg string, v ...interface{})  { slog.Warn(fmt.Sprintf(msg, v...)) }
func Error(msg string, v ...interface{})  { slog.Error(msg, v...) }
func ErrorF(msg string, v ...interface{}) { slog.Error(fmt.Sprintf(msg, v...)) }

func Fatal(msg string, v ...interface{})  { slog.Log(context.Background(), LevelFatal, msg, v...) }
func FatalF(msg string, v ...interface{}) {
	slog.Log(context.Background(), LevelFatal, fmt.Sprintf(msg, v...))
}
