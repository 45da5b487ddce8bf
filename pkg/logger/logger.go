package logger

import (
	"io"
	"os"

	"log/slog"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Log is usable before Init; it falls back to the process default logger.
var Log = slog.Default()

// Level maps the -v/-q verbosity count onto a slog level.
func Level(verbosity int) slog.Level {
	switch {
	case verbosity <= 0:
		return slog.LevelWarn
	case verbosity == 1:
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}

func Init(logFilePath string, verbosity int) {
	var writer io.Writer = os.Stdout
	if logFilePath != "" {
		rotator := &lumberjack.Logger{
			Filename:   logFilePath,
			MaxSize:    10, // MB
			MaxBackups: 0,  // only one file
			MaxAge:     0,  // ignore age
			Compress:   false,
		}
		writer = io.MultiWriter(os.Stdout, rotator)
	}
	Log = slog.New(slog.NewJSONHandler(writer, &slog.HandlerOptions{Level: Level(verbosity)}))
	slog.SetDefault(Log)
}
