package testutil

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
)

var (
	logFile   = ""
	logLevel  = "debug"
	logStderr = false
)

func init() {
	flag.StringVar(&logFile, "log-file", logFile, "`file` to use for logging")
	flag.StringVar(&logLevel, "log-level", logLevel,
		"log level: trace, debug, info, warn, error, fatal, or panic")
	flag.BoolVar(&logStderr, "log-stderr", logStderr, "log to standard error")
}

// SetupLogger sends logging for the tests to file, unless overridden by the -log-file or
// -log-stderr flags, and returns the standard logger.
func SetupLogger(file string) *log.Logger {
	if !logStderr {
		if logFile != "" {
			file = logFile
		}

		os.MkdirAll(filepath.Dir(file), 0755)
		w, err := os.OpenFile(file, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0666)
		if err != nil {
			panic(err)
		}
		fmt.Fprintln(w)
		log.SetOutput(w)
	}

	ll, err := log.ParseLevel(logLevel)
	if err != nil {
		panic(err)
	}
	log.SetLevel(ll)

	log.WithField("pid", os.Getpid()).Info("relbox tests starting")
	return log.StandardLogger()
}
