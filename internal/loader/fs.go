package loader

import (
	"context"
	stderrors "errors"
	"fmt"
	"io/fs"
	"os"

	"kumascript/internal/common/errors"
	"kumascript/internal/script"
)

// FS reads macros from a directory tree. A name maps to name.js or
// name.tmpl, lower-cased, whichever exists first.
type FS struct {
	fsys fs.FS
}

// NewFS creates a store over fsys
func NewFS(fsys fs.FS) *FS {
	return &FS{fsys: fsys}
}

// NewDir creates a store over the directory dir
func NewDir(dir string) (*FS, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, errors.ConfigError(fmt.Sprintf("template directory %s: %v", dir, err))
	}
	if !info.IsDir() {
		return nil, errors.ConfigError(fmt.Sprintf("template directory %s is not a directory", dir))
	}
	return NewFS(os.DirFS(dir)), nil
}

// Fetch implements Store
func (f *FS) Fetch(ctx context.Context, name string) (Source, error) {
	key, err := normalize(name)
	if err != nil {
		return Source{}, err
	}

	for _, ext := range script.Extensions {
		path := key + ext.Extension
		if !fs.ValidPath(path) {
			return Source{}, errors.ValidationError(fmt.Sprintf("invalid template name %q", name))
		}

		data, err := fs.ReadFile(f.fsys, path)
		if stderrors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return Source{}, errors.InternalError("failed to read "+path, err)
		}
		return Source{Name: name, Kind: ext.Kind, Text: string(data)}, nil
	}

	return Source{}, errors.NotFoundError(fmt.Sprintf("template %q", name))
}
