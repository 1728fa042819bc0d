// Package confkit holds the configuration plumbing shared by the service
// binary and the package-level loaders: hydrating sections from companion
// files and one-shot .env loading.
package confkit

import (
	"os"
	"path/filepath"
)

// ResolvePath expands environment variables in file and anchors relative
// paths at base. Absolute paths come back unchanged apart from expansion.
func ResolvePath(base, file string) string {
	file = os.ExpandEnv(file)
	if filepath.IsAbs(file) {
		return file
	}
	return filepath.Join(base, file)
}

// Section points at an optional companion configuration file. Value stays
// nil until Hydrate runs with a non-empty File.
type Section[T any] struct {
	File  string `json:",optional"`
	Value *T     `json:"-"`
}

// Hydrate resolves File against base and feeds it through loader. File is
// rewritten to the resolved path so diagnostics show where the section was
// actually read from. A Section with no File is left untouched.
func (s *Section[T]) Hydrate(base string, loader func(string) (*T, error)) error {
	if s.File == "" {
		return nil
	}
	path := ResolvePath(base, s.File)
	value, err := loader(path)
	if err != nil {
		return err
	}
	s.File = path
	s.Value = value
	return nil
}
