package utils

import (
	"context"
	"io"
	"mime/multipart"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

// LocalStore keeps cosmetic assets on disk when no bucket is configured. Files
// are served by the app under URLPrefix.
type LocalStore struct {
	Root      string
	URLPrefix string
}

func NewLocalStore(root, urlPrefix string) (*LocalStore, error) {
	if err := os.MkdirAll(root, os.ModePerm); err != nil {
		return nil, eris.Wrapf(err, "create upload dir %s", root)
	}
	return &LocalStore{Root: root, URLPrefix: strings.TrimRight(urlPrefix, "/")}, nil
}

// PublicURL is the address the app serves key from.
func (s *LocalStore) PublicURL(key string) string {
	return s.URLPrefix + "/" + key
}

// UploadFile saves the multipart file under key and returns its URL.
func (s *LocalStore) UploadFile(_ context.Context, fileHeader *multipart.FileHeader, key string) (string, error) {
	destPath, err := s.pathFor(key)
	if err != nil {
		return "", err
	}
	if err := SaveFile(fileHeader, destPath); err != nil {
		return "", eris.Wrapf(err, "save %s", key)
	}
	return s.PublicURL(key), nil
}

// pathFor maps key into Root, refusing keys that would escape it.
func (s *LocalStore) pathFor(key string) (string, error) {
	clean := path.Clean("/" + key)
	if clean == "/" {
		return "", eris.Errorf("invalid asset key %q", key)
	}
	return filepath.Join(s.Root, filepath.FromSlash(strings.TrimPrefix(clean, "/"))), nil
}

// SaveFile saves the uploaded file to the given destination path
func SaveFile(fileHeader *multipart.FileHeader, destPath string) error {
	if err := os.MkdirAll(filepath.Dir(destPath), os.ModePerm); err != nil {
		return err
	}

	file, err := fileHeader.Open()
	if err != nil {
		return err
	}
	defer file.Close()

	dst, err := os.Create(destPath)
	if err != nil {
		return err
	}
	defer dst.Close()

	_, err = io.Copy(dst, file)
	return err
}
