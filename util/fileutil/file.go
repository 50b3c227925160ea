package fileutil

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path"
	"path/filepath"
	"strings"

	"github.com/viant/afs"
	"github.com/viant/afs/option"
	"github.com/viant/afs/storage"
	_ "github.com/viant/afsc/s3"
)

var fileSystem = afs.New()

// ReadFileBytesContext reads a whole local or s3:// object into memory.
func ReadFileBytesContext(ctx context.Context, filename string) (data []byte, err error) {
	file, err := fileSystem.OpenURL(ctx, filename)
	if err != nil {
		return nil, err
	}
	defer func(file io.Closer) {
		err = errors.Join(err, CloseFile(file))
	}(file)

	buf := &bytes.Buffer{}
	_, readErr := io.Copy(buf, file)
	if readErr != nil {
		return nil, readErr
	}
	return buf.Bytes(), nil
}

func CloseFile(file io.Closer) error {
	return file.Close()
}

func GetPathType(path string) string {
	if strings.HasPrefix(path, "s3://") {
		return "S3"
	}
	return "os"
}

func OpenFile(filename string) (io.ReadCloser, error) {
	return fileSystem.OpenURL(context.Background(), filename)
}

// PathJoinSafe joins path elements. An s3:// base keeps its scheme and is joined with
// forward slashes, anything else goes through filepath.Join.
func PathJoinSafe(elem ...string) string {
	if GetPathType(elem[0]) != "S3" {
		return filepath.Join(elem...)
	}
	return strings.TrimSuffix(elem[0], "/") + "/" + path.Join(elem[1:]...)
}

func WalkDir() func(ctx context.Context, URL string, handler storage.OnVisit, options ...storage.Option) error {
	return fileSystem.Walk
}

func FileExists(filename string) (bool, error) {
	return fileSystem.Exists(context.Background(), filename)
}

// IsDir reports whether filename exists and is a directory.
func IsDir(filename string) (bool, error) {
	object, err := fileSystem.Object(context.Background(), filename)
	if err != nil {
		exists, existsErr := FileExists(filename)
		if existsErr == nil && !exists {
			return false, nil
		}
		return false, err
	}
	return object.IsDir(), nil
}

func NewFileWriter(filename string) (io.WriteCloser, error) {
	exists, err := FileExists(filename)
	if err != nil {
		return nil, err
	}
	if exists {
		err = fileSystem.Delete(context.Background(), filename)
		if err != nil {
			return nil, err
		}
	}
	return fileSystem.NewWriter(context.Background(), filename, 0o644, option.NewSkipChecksum(true))
}
