package confkit

import (
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/joho/godotenv"
)

// maxAscend bounds the upward directory walk when looking for the module
// root. Checkouts nested deeper than this simply stop searching.
const maxAscend = 8

var dotenvOnce sync.Once

// LoadDotenvOnce applies a .env file to the process environment exactly
// once; later calls are no-ops. NO_DOTENV=1 disables loading, ENV_FILE
// names an explicit file, and DOTENV_OVERLOAD=1 lets .env values replace
// variables that are already set. Without ENV_FILE the search starts at
// this source file and walks up until it reaches the module root.
func LoadDotenvOnce() {
	dotenvOnce.Do(loadDotenv)
}

func loadDotenv() {
	if os.Getenv("NO_DOTENV") == "1" {
		return
	}

	apply := godotenv.Load
	if os.Getenv("DOTENV_OVERLOAD") == "1" {
		apply = godotenv.Overload
	}

	if explicit := os.Getenv("ENV_FILE"); explicit != "" {
		_ = apply(explicit)
		return
	}

	dir := callerDir()
	if dir == "" {
		_ = apply(".env")
		return
	}
	for i := 0; i < maxAscend; i++ {
		_ = apply(filepath.Join(dir, ".env"))
		if isModuleRoot(dir) {
			return
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return
		}
		dir = parent
	}
}

func callerDir() string {
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		return ""
	}
	return filepath.Dir(file)
}

func isModuleRoot(dir string) bool {
	for _, marker := range []string{"go.mod", ".git"} {
		if _, err := os.Stat(filepath.Join(dir, marker)); err == nil {
			return true
		}
	}
	return false
}
