package util

import (
	"os"

	"github.com/charmbracelet/log"
)

// SetupLogging configures the package-level logger.
func SetupLogging(conf *AppConfig) {
	log.SetOutput(os.Stderr)
	log.SetPrefix(Name)
	log.SetReportTimestamp(true)

	level, err := log.ParseLevel(conf.Conf.LogLevel)
	if err != nil {
		log.Warn("unknown log level, using info", "level", conf.Conf.LogLevel)
		level = log.InfoLevel
	}
	log.SetLevel(level)

	if !conf.IsDevelopment() {
		log.SetFormatter(log.LogfmtFormatter)
	}
}
