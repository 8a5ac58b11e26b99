package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New - APP_ENV 기준으로 zerolog 로거 생성
// development: 콘솔 출력 + debug 레벨, 그 외: JSON + info 레벨
func New(appEnv string) zerolog.Logger {
	level := zerolog.InfoLevel
	if appEnv == "development" {
		level = zerolog.DebugLevel
	}

	logger := zerolog.New(os.Stdout).
		Level(level).
		With().
		Timestamp().
		Logger()

	if appEnv == "development" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}

	return logger
}

// Nop - 테스트용 로거 (출력 없음)
func Nop() zerolog.Logger {
	return zerolog.New(io.Discard)
}
