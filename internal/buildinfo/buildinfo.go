// Package buildinfo carries version metadata injected with -ldflags -X.
package buildinfo

import "go.uber.org/zap"

var (
	BuildVersion string
	BuildDate    string
	BuildCommit  string
)

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}

// Info returns the build metadata; unset values read "N/A".
func Info() map[string]string {
	return map[string]string{
		"version": orNA(BuildVersion),
		"date":    orNA(BuildDate),
		"commit":  orNA(BuildCommit),
	}
}

// Log writes the build metadata as one log line.
func Log(logger *zap.SugaredLogger) {
	logger.Infow("build info",
		"version", orNA(BuildVersion),
		"date", orNA(BuildDate),
		"commit", orNA(BuildCommit),
	)
}
