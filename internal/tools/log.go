package tools

import (
	"io"
	"log"
	"os"
)

// Mirror everything we log into lightmeter.log so a headless Pi keeps a
// trail across reboots.
func init() {
	logFile, err := os.OpenFile("lightmeter.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		log.Fatalf("error opening log file: %v", err)
	}
	log.SetOutput(io.MultiWriter(logFile, os.Stdout))
}
