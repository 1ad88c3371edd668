package internal

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

var (
	DefaultAppName    = "s2s"
	DefaultConfigPath = filepath.Join(getHomeDir(), ".config", DefaultAppName)
	DefaultCacheDir   = filepath.Join(DefaultConfigPath, ".cache")
	DefaultStorePath  = filepath.Join(DefaultCacheDir, "samples.db")

	// Default encoding settings
	DefaultMaxSourceLength = 464
	DefaultMaxTargetLength = 48
	DefaultMaskKind        = "short"
	DefaultTokenizerKind   = "vocab"
	DefaultWorkers         = 1

	// ProgressEvery is how many examples pass between progress log lines.
	ProgressEvery = 20000
)

// LogLevelEnv names the variable that sets the minimum log level
// (trace, debug, info, warn, error).
const LogLevelEnv = "S2S_LOG_LEVEL"

// getHomeDir falls back to the working directory, then /tmp.
func getHomeDir() string {
	home, err := os.UserHomeDir()
	if err == nil {
		return home
	}
	logger := newLogger(os.Stderr)
	if cwd, cwdErr := os.Getwd(); cwdErr == nil {
		logger.Warn().Err(err).Str("fallback", cwd).Msg("No home directory, using working directory")
		return cwd
	}
	logger.Warn().Err(err).Str("fallback", "/tmp").Msg("No home or working directory")
	return "/tmp"
}

// GetLogger returns the timestamped stderr logger shared by the commands.
func GetLogger() zerolog.Logger {
	return newLogger(os.Stderr)
}

func newLogger(w io.Writer) zerolog.Logger {
	logger := zerolog.New(w).With().Timestamp().Str("app", DefaultAppName).Logger()
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(os.Getenv(LogLevelEnv))))
	if err == nil && level != zerolog.NoLevel {
		logger = logger.Level(level)
	}
	return logger
}
