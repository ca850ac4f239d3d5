package pdfquiz

import (
	"errors"
	"log"
	"os"

	"github.com/joho/godotenv"
)

// Global verbose flag, gated by the -verbose flag of the binaries.
var verboseMode bool

// SetVerbose sets the global verbose mode.
func SetVerbose(verbose bool) {
	verboseMode = verbose
}

// VerboseLog logs only when verbose mode is enabled.
func VerboseLog(format string, v ...interface{}) {
	if verboseMode {
		log.Printf(format, v...)
	}
}

// LoadAPIKey reads OPENAI_API_KEY from the environment, loading a .env
// file first if one is present. An absent key is an error: the binaries
// fail fast at startup rather than failing on the first API call.
func LoadAPIKey() (string, error) {
	_ = godotenv.Load()

	key := os.Getenv("OPENAI_API_KEY")
	if key == "" {
		return "", errors.New("OPENAI_API_KEY environment variable is required")
	}
	return key, nil
}
