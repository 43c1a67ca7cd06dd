package utils

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// EnvFileVar names a single .env file to load instead of the defaults.
const EnvFileVar = "TASKWATCH_ENV_FILE"

// LoadEnvironment loads .env files and returns the paths it loaded. With
// TASKWATCH_ENV_FILE set only that file is read, and a missing file is an
// error. Otherwise .env in the working directory and next to the executable
// are read when present. Variables already in the environment are kept.
//
// It runs before the logger is set up, so callers log the outcome.
func LoadEnvironment() ([]string, error) {
	if path := os.Getenv(EnvFileVar); path != "" {
		if err := godotenv.Load(path); err != nil {
			return nil, err
		}
		return []string{path}, nil
	}

	candidates := []string{".env"}
	if execPath, err := os.Executable(); err == nil {
		if p := filepath.Join(filepath.Dir(execPath), ".env"); !sameFile(p, ".env") {
			candidates = append(candidates, p)
		}
	}

	var loaded []string
	for _, path := range candidates {
		err := godotenv.Load(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return loaded, err
		}
		loaded = append(loaded, path)
	}
	return loaded, nil
}

func sameFile(a, b string) bool {
	sa, err := os.Stat(a)
	if err != nil {
		return false
	}
	sb, err := os.Stat(b)
	if err != nil {
		return false
	}
	return os.SameFile(sa, sb)
}
