package logger

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	appCtx "github.com/baechuer/real-time-ressys/services/feed-ranker/internal/pkg/context"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
)

var Logger zerolog.Logger

func Init() {
	InitWithWriter(os.Stdout)
}

func InitWithWriter(w io.Writer) {
	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}
	level, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}

	format := os.Getenv("LOG_FORMAT") // "json" or "console"
	if format == "" {
		format = "console"
	}

	var l zerolog.Logger
	if format == "json" {
		l = zerolog.New(w).Level(level)
	} else {
		l = zerolog.New(zerolog.ConsoleWriter{
			Out:        w,
			TimeFormat: time.RFC3339,
		}).Level(level)
	}

	c := l.With().Timestamp().Str("service", "feed-ranker")
	switch strings.ToLower(os.Getenv("LOG_CALLER")) {
	case "1", "true", "yes":
		c = c.Caller()
	}
	Logger = c.Logger()

	// set global
	zlog.Logger = Logger
}

// WithCtx returns a logger carrying the request id, if any.
func WithCtx(ctx context.Context) *zerolog.Logger {
	if rid := appCtx.GetRequestID(ctx); rid != "" {
		l := Logger.With().Str("request_id", rid).Logger()
		return &l
	}
	return &Logger
}

// Component returns a sub-logger tagged with the component name.
func Component(name string) zerolog.Logger {
	return Logger.With().Str("component", name).Logger()
}
