// Package persistence holds the file primitives the record store is built on.
package persistence

import (
	"errors"
	"io/fs"
	"os"

	"github.com/kjk/common/atomicfile"
	"github.com/kjk/common/u"
)

// WriteFile replaces path with data. The content is written to a temporary
// file in the same directory and renamed over path, so readers never observe
// a partially written file.
func WriteFile(path string, data []byte) error {
	f, err := atomicfile.New(path)
	if err != nil {
		return err
	}
	defer f.RemoveIfNotClosed()
	if _, err := f.Write(data); err != nil {
		return err
	}
	return f.Close()
}

// Exists reports whether path exists. Errors other than "not exist" are returned.
func Exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// Copy copies src over dst, creating dst's directory if needed.
func Copy(dst, src string) error {
	return u.CopyFile(dst, src)
}

// Digest returns the hex SHA-1 of data.
func Digest(data []byte) string {
	return u.DataSha1Hex(data)
}
