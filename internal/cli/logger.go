package cli

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/term"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/cubtools/cub/internal/constants"
	"github.com/cubtools/cub/internal/logging"
)

// InitLogger builds the CLI logger. Console output goes to stderr as a
// human console writer on a TTY, JSON otherwise. A rotating file copy is
// kept under {project}/.cub/logs/ with sensitive values redacted; if the
// file cannot be created the logger continues console-only.
func InitLogger(projectDir string, verbose, quiet bool) zerolog.Logger {
	writer := selectOutput()
	if fw, err := newLogFileWriter(projectDir); err == nil {
		writer = zerolog.MultiLevelWriter(writer, fw)
	}

	logger := zerolog.New(writer).
		Level(selectLevel(verbose, quiet)).
		Hook(logging.NewRedactionHook()).
		With().Timestamp().Logger()
	log.Logger = logger
	return logger
}

// InitLoggerWithWriter builds a logger over a custom writer, for tests.
func InitLoggerWithWriter(verbose, quiet bool, w io.Writer) zerolog.Logger {
	return zerolog.New(w).
		Level(selectLevel(verbose, quiet)).
		Hook(logging.NewRedactionHook()).
		With().Timestamp().Logger()
}

func selectLevel(verbose, quiet bool) zerolog.Level {
	switch {
	case verbose || os.Getenv(constants.EnvDebug) != "":
		return zerolog.DebugLevel
	case quiet:
		return zerolog.WarnLevel
	default:
		return zerolog.InfoLevel
	}
}

func selectOutput() io.Writer {
	if term.IsTerminal(int(os.Stderr.Fd())) && os.Getenv("NO_COLOR") == "" {
		return zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.Kitchen,
		}
	}
	return os.Stderr
}

// newLogFileWriter creates the rotating diagnostic log, wrapped so that
// sensitive values never reach disk.
func newLogFileWriter(projectDir string) (io.Writer, error) {
	logDir := filepath.Join(projectDir, constants.CubDir, constants.LogsDir)
	if err := os.MkdirAll(logDir, constants.DirPerm); err != nil {
		return nil, err
	}

	lj := &lumberjack.Logger{
		Filename:   filepath.Join(logDir, constants.CLILogFileName),
		MaxSize:    constants.LogMaxSizeMB,
		MaxBackups: constants.LogMaxBackups,
		MaxAge:     constants.LogMaxAgeDays,
		Compress:   constants.LogCompress,
	}
	return logging.NewFilteringWriter(lj), nil
}
