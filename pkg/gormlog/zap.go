package gormlog

import (
	"context"
	"errors"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"
	"gorm.io/gorm/utils"

	"github.com/fatflowers/settle/pkg/logctx"
)

// ZapLogger implements gorm.io/gorm/logger.Interface on top of the request
// scoped logger, so SQL lines carry trace_id and intent_reference. Customer
// emails bound into statements are masked before logging.
type ZapLogger struct {
	base   *zap.SugaredLogger
	config gormlogger.Config
}

// Options tunes the adapter. Zero values fall back to a 500ms slow threshold at Info level.
type Options struct {
	SlowThreshold time.Duration
	LogLevel      gormlogger.LogLevel
}

func New(base *zap.SugaredLogger, opts ...Options) *ZapLogger {
	cfg := gormlogger.Config{
		SlowThreshold:             500 * time.Millisecond,
		LogLevel:                  gormlogger.Info,
		IgnoreRecordNotFoundError: true,
	}
	for _, o := range opts {
		if o.SlowThreshold > 0 {
			cfg.SlowThreshold = o.SlowThreshold
		}
		if o.LogLevel != 0 {
			cfg.LogLevel = o.LogLevel
		}
	}
	return &ZapLogger{base: base, config: cfg}
}

func (z *ZapLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	cfg := z.config
	cfg.LogLevel = level
	return &ZapLogger{base: z.base, config: cfg}
}

func (z *ZapLogger) Info(ctx context.Context, msg string, data ...interface{}) {
	if z.config.LogLevel >= gormlogger.Info {
		logctx.FromCtx(ctx, z.base).Infow(msg, "args", data)
	}
}

func (z *ZapLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	if z.config.LogLevel >= gormlogger.Warn {
		logctx.FromCtx(ctx, z.base).Warnw(msg, "args", data)
	}
}

func (z *ZapLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	if z.config.LogLevel >= gormlogger.Error {
		logctx.FromCtx(ctx, z.base).Errorw(msg, "args", data)
	}
}

func (z *ZapLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	level := z.config.LogLevel
	if level == gormlogger.Silent {
		return
	}
	elapsed := time.Since(begin)
	notFound := errors.Is(err, gormlogger.ErrRecordNotFound)
	slow := z.config.SlowThreshold > 0 && elapsed > z.config.SlowThreshold

	var msg string
	switch {
	case err != nil && !(notFound && z.config.IgnoreRecordNotFoundError):
		msg = "gorm_trace"
	case slow && level >= gormlogger.Warn:
		msg = "gorm_slow"
	case level >= gormlogger.Info:
		msg = "gorm"
	default:
		return
	}

	sql, rows := fc()
	fields := []interface{}{
		"table", tableOf(sql),
		"rows", rows,
		"elapsed_ms", elapsed.Milliseconds(),
		"caller", shortCaller(utils.FileWithLineNum()),
		"sql", MaskSQL(sql),
	}
	lg := logctx.FromCtx(ctx, z.base)
	switch msg {
	case "gorm_trace":
		lg.Errorw(msg, append(fields, "err", err)...)
	case "gorm_slow":
		lg.Warnw(msg, fields...)
	default:
		lg.Infow(msg, fields...)
	}
}

var emailLiteral = regexp.MustCompile(`'([^'@\s]{1,64})@([^'\s]+)'`)

// MaskSQL keeps the first character and the domain of quoted email literals.
func MaskSQL(sql string) string {
	return emailLiteral.ReplaceAllStringFunc(sql, func(m string) string {
		parts := emailLiteral.FindStringSubmatch(m)
		return "'" + parts[1][:1] + "***@" + parts[2] + "'"
	})
}

var tableRef = regexp.MustCompile(`(?i)\b(?:from|into|update|join)\s+["` + "`" + `]?([a-z_][a-z0-9_]*)`)

// tableOf returns the first table a statement names, or "" when none is found.
func tableOf(sql string) string {
	if m := tableRef.FindStringSubmatch(sql); m != nil {
		return strings.ToLower(m[1])
	}
	return ""
}

// shortCaller trims an absolute source path to its repo-relative form, for
// example /home/ci/settle/internal/app/service/journey/store_gorm.go:88 becomes
// internal/app/service/journey/store_gorm.go:88.
func shortCaller(s string) string {
	if s == "" {
		return s
	}
	path, line := s, ""
	if i := strings.LastIndex(s, ":"); i >= 0 {
		path, line = s[:i], s[i:]
	}
	path = filepath.ToSlash(path)
	for _, marker := range []string{"/internal/", "/pkg/", "/cmd/"} {
		if i := strings.Index(path, marker); i >= 0 {
			return path[i+1:] + line
		}
	}
	parts := strings.Split(strings.TrimPrefix(path, "/"), "/")
	if len(parts) > 3 {
		parts = parts[len(parts)-3:]
	}
	return strings.Join(parts, "/") + line
}
