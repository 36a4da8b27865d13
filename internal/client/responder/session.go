package responder

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/BurntSushi/toml"
)

// SessionStore persists the conversation identifier between runs.
type SessionStore interface {
	Get() (string, error)
	Set(id string) error
}

// MemorySessionStore keeps the identifier for the lifetime of the process.
type MemorySessionStore struct {
	mu sync.Mutex
	id string
}

// NewMemorySessionStore returns a store seeded with id, which may be empty.
func NewMemorySessionStore(id string) *MemorySessionStore {
	return &MemorySessionStore{id: id}
}

func (s *MemorySessionStore) Get() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id, nil
}

func (s *MemorySessionStore) Set(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.id = id
	return nil
}

type sessionFile struct {
	SessionID string `toml:"session_id"`
}

// FileSessionStore stores the identifier in a TOML file.
type FileSessionStore struct {
	path string
}

// NewFileSessionStore 创建基于TOML文件的会话存储
func NewFileSessionStore(path string) *FileSessionStore {
	return &FileSessionStore{path: path}
}

// Path returns the backing file.
func (s *FileSessionStore) Path() string { return s.path }

// Get returns an empty id when the file does not exist yet.
func (s *FileSessionStore) Get() (string, error) {
	var data sessionFile
	if _, err := toml.DecodeFile(s.path, &data); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("decode %s: %w", s.path, err)
	}
	return data.SessionID, nil
}

func (s *FileSessionStore) Set(id string) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".session-*.toml")
	if err != nil {
		return fmt.Errorf("create temp session file: %w", err)
	}
	tmpName := tmp.Name()

	if err := toml.NewEncoder(tmp).Encode(sessionFile{SessionID: id}); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("encode session file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close session file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace session file: %w", err)
	}
	return nil
}
