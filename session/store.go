package session

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
)

// DefaultFile is the session file name under the home directory
const DefaultFile = ".killerwiki_session.json"

// FilePersister keeps the session in a JSON file readable only by the owner
type FilePersister struct {
	Path string
}

// NewFilePersister returns a persister at path, or ~/.killerwiki_session.json
func NewFilePersister(path string) (*FilePersister, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		path = filepath.Join(home, DefaultFile)
	}
	return &FilePersister{Path: path}, nil
}

// Load returns an empty state when no file exists yet
func (f *FilePersister) Load() (State, error) {
	var st State
	b, err := os.ReadFile(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return st, nil
	}
	if err != nil {
		return st, err
	}
	if err := json.Unmarshal(b, &st); err != nil {
		return State{}, err
	}
	return st, nil
}

func (f *FilePersister) Save(st State) error {
	b, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(f.Path), 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.Path), ".session-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), f.Path)
}
