package scripthost

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// Loader reads named assets fully into memory.
type Loader interface {
	Load(path string) ([]byte, error)
}

// FileLoader reads assets from the filesystem. Relative paths resolve
// against Root, or the working directory when Root is empty.
type FileLoader struct {
	Root string
}

func (l FileLoader) resolve(path string) string {
	if l.Root == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(l.Root, path)
}

// Load returns the full contents of path. A short read fails the whole call.
func (l FileLoader) Load(path string) ([]byte, error) {
	full := l.resolve(path)

	f, err := os.Open(full)
	if err != nil {
		return nil, ioError(path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, ioError(path, err)
	}
	if info.IsDir() {
		e := ioError(path, fmt.Errorf("is a directory"))
		e.Reason = ReasonRead
		return nil, e
	}

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, ioError(path, err)
	}
	if info.Mode().IsRegular() && int64(len(data)) < info.Size() {
		e := ioError(path, io.ErrUnexpectedEOF)
		e.Reason = ReasonTruncatedRead
		e.Detail = fmt.Sprintf("read %d of %d bytes", len(data), info.Size())
		return nil, e
	}

	return data, nil
}

func ioError(path string, err error) *Error {
	e := newError(KindIO, "load", err)
	e.Path = path
	switch {
	case errors.Is(err, fs.ErrNotExist):
		e.Reason = ReasonNotFound
	case errors.Is(err, fs.ErrPermission):
		e.Reason = ReasonPermission
	case errors.Is(err, io.ErrUnexpectedEOF):
		e.Reason = ReasonTruncatedRead
	default:
		e.Reason = ReasonRead
	}
	return e
}
