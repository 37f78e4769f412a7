package auth

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"

	"golang.org/x/oauth2"
)

// ErrNoCredentials indicates that no token file was found.
var ErrNoCredentials = errors.New("auth: no credentials found, run `vai-journal auth login` first")

// DefaultTokenPath is the token file location relative to the user config dir.
const DefaultTokenPath = "vai-journal/google-token.json"

// TokenStore persists the OAuth token between runs.
type TokenStore interface {
	Load() (*oauth2.Token, error)
	Save(tok *oauth2.Token) error
	Path() string
}

// FileTokenStore implements TokenStore using a JSON file.
type FileTokenStore struct {
	path string
}

// NewFileTokenStore creates a file-based token store. An empty path uses
// DefaultTokenFilePath.
func NewFileTokenStore(path string) *FileTokenStore {
	if path == "" {
		path = DefaultTokenFilePath()
	}
	return &FileTokenStore{path: path}
}

// DefaultTokenFilePath returns the default token file path.
func DefaultTokenFilePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return DefaultTokenPath
	}
	return filepath.Join(dir, DefaultTokenPath)
}

func (s *FileTokenStore) Path() string {
	return s.path
}

// Load reads the token file. A missing file is ErrNoCredentials.
func (s *FileTokenStore) Load() (*oauth2.Token, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoCredentials
		}
		return nil, err
	}

	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, err
	}
	return &tok, nil
}

// Save writes the token file with owner-only permissions.
func (s *FileTokenStore) Save(tok *oauth2.Token) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(tok, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0o600)
}
