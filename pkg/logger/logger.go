package logger

import (
	"log/slog"
	"os"
	"sync"
)

var (
	log      *slog.Logger
	initOnce sync.Once
)

// Init sets up the global JSON logger. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	})
}

func Info(event string, fields map[string]interface{}) {
	Init()
	log.Info(event, attrs(fields)...)
}

func Warn(event string, fields map[string]interface{}) {
	Init()
	log.Warn(event, attrs(fields)...)
}

func Error(event string, fields map[string]interface{}) {
	Init()
	log.Error(event, attrs(fields)...)
}

func InfoWithUser(userID, event string, fields map[string]interface{}) {
	Init()
	log.Info(event, append(attrs(fields), slog.String("user_id", userID))...)
}

func WarnWithUser(userID, event string, fields map[string]interface{}) {
	Init()
	log.Warn(event, append(attrs(fields), slog.String("user_id", userID))...)
}

func attrs(fields map[string]interface{}) []any {
	out := make([]any, 0, len(fields))
	for key, value := range fields {
		out = append(out, slog.Any(key, value))
	}
	return out
}
