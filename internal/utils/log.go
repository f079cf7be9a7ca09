// Package utils
package utils

import (
	"log"
	"os"
	"sync"
)

var (
	logger  *log.Logger
	logPath = "flipbot.log"
	once    sync.Once
)

// SetLogFile overrides the log file path. It must be called before the
// first GetLogger.
func SetLogFile(path string) {
	if path != "" {
		logPath = path
	}
}

func GetLogger() *log.Logger {
	once.Do(func() {
		file, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			log.Fatal(err)
		}
		logger = log.New(file, "Flipbot: ", log.LstdFlags)
	})
	return logger
}
