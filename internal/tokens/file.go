package tokens

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/bissquit/bagwatch/internal/domain"
)

// FileStore keeps credentials in a single file readable only by the owner.
type FileStore struct {
	path  string
	codec *Codec
}

// NewFileStore returns a store writing to path.
func NewFileStore(path string, codec *Codec) (*FileStore, error) {
	if path == "" {
		return nil, domain.NewConfigurationError("tokens", "path is required for the file backend")
	}
	if codec == nil {
		codec = NewCodec("")
	}
	return &FileStore{path: path, codec: codec}, nil
}

// Load reads the file; a missing or empty file means nothing stored.
func (s *FileStore) Load(_ context.Context) (domain.Credentials, bool, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) || (err == nil && len(data) == 0) {
		return domain.Credentials{}, false, nil
	}
	if err != nil {
		return domain.Credentials{}, false, fmt.Errorf("read token file: %w", err)
	}

	creds, err := s.codec.Decode(data)
	if err != nil {
		return domain.Credentials{}, false, err
	}
	return creds, true, nil
}

// Save replaces the file atomically.
func (s *FileStore) Save(_ context.Context, creds domain.Credentials) error {
	data, err := s.codec.Encode(creds)
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create token dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tokens-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write token file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close token file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		return fmt.Errorf("chmod token file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace token file: %w", err)
	}
	return nil
}

// Close does nothing; the file is not held open.
func (s *FileStore) Close() error { return nil }
