// A very simple file based file store for fetched artifacts. Paths
// are sanitized so an agent supplied locator can not escape the store
// directory.
package file_store

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	errors "github.com/pkg/errors"
	"www.velocidex.com/golang/memflow/config"
)

type WriteSeekCloser interface {
	io.WriteSeeker
	io.Closer
}

type ReadSeekCloser interface {
	io.ReadSeeker
	io.Closer
}

type FileStore interface {
	ReadFile(filename string) (ReadSeekCloser, error)
	WriteFile(filename string) (WriteSeekCloser, error)
	StatFile(filename string) (os.FileInfo, error)
}

type DirectoryFileStore struct {
	config_obj *config.Config
}

func (self *DirectoryFileStore) ReadFile(filename string) (
	ReadSeekCloser, error) {
	file_path, err := self.FilenameToFileStorePath(filename)
	if err != nil {
		return nil, err
	}
	return os.Open(file_path)
}

func (self *DirectoryFileStore) StatFile(filename string) (
	os.FileInfo, error) {
	file_path, err := self.FilenameToFileStorePath(filename)
	if err != nil {
		return nil, err
	}
	return os.Stat(file_path)
}

func (self *DirectoryFileStore) WriteFile(filename string) (
	WriteSeekCloser, error) {
	file_path, err := self.FilenameToFileStorePath(filename)
	if err != nil {
		return nil, err
	}

	err = os.MkdirAll(filepath.Dir(file_path), 0700)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	file, err := os.OpenFile(file_path,
		os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	return file, nil
}

func (self *DirectoryFileStore) FilenameToFileStorePath(
	filename string) (string, error) {
	if self.config_obj.Datastore.FilestoreDirectory == "" {
		return "", errors.New("no configured file store directory")
	}

	components := []string{self.config_obj.Datastore.FilestoreDirectory}
	for _, component := range strings.Split(filename, "/") {
		components = append(components, sanitizeComponent(component))
	}

	return filepath.Join(components...), nil
}

// Remove path components which could climb out of the store.
func sanitizeComponent(component string) string {
	switch component {
	case "", ".", "..":
		return "_"
	}

	return strings.Map(func(r rune) rune {
		switch r {
		case ':', '\\', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, component)
}

func GetFileStore(config_obj *config.Config) FileStore {
	return &DirectoryFileStore{config_obj}
}
