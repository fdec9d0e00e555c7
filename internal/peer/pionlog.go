package peer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pion/logging"
)

const levelTrace = slog.LevelDebug - 4

// PionLog routes pion's internal logging into slog.
type PionLog struct {
	log   *slog.Logger
	level slog.Level
}

func NewPionLogger(root *slog.Logger, level string) *PionLog {
	return &PionLog{log: root.With(slog.String("component", "pion")), level: parseLevel(level)}
}

func (p *PionLog) NewLogger(scope string) logging.LeveledLogger {
	return &PionLog{log: p.log.With(slog.String("mod", scope)), level: p.level}
}

func (p *PionLog) emit(level slog.Level, msg string) {
	if level < p.level {
		return
	}
	p.log.Log(context.Background(), level, msg)
}

func (p *PionLog) Trace(msg string) { p.emit(levelTrace, msg) }
func (p *PionLog) Tracef(format string, args ...any) {
	p.emit(levelTrace, fmt.Sprintf(format, args...))
}
func (p *PionLog) Debug(msg string) { p.emit(slog.LevelDebug, msg) }
func (p *PionLog) Debugf(format string, args ...any) {
	p.emit(slog.LevelDebug, fmt.Sprintf(format, args...))
}
func (p *PionLog) Info(msg string) { p.emit(slog.LevelInfo, msg) }
func (p *PionLog) Infof(format string, args ...any) {
	p.emit(slog.LevelInfo, fmt.Sprintf(format, args...))
}
func (p *PionLog) Warn(msg string) { p.emit(slog.LevelWarn, msg) }
func (p *PionLog) Warnf(format string, args ...any) {
	p.emit(slog.LevelWarn, fmt.Sprintf(format, args...))
}
func (p *PionLog) Error(msg string) { p.emit(slog.LevelError, msg) }
func (p *PionLog) Errorf(format string, args ...any) {
	p.emit(slog.LevelError, fmt.Sprintf(format, args...))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "trace":
		return levelTrace
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "error":
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}
