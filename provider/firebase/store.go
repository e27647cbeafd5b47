package firebase

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

// StoredSession is the persisted form of a signed in account.
type StoredSession struct {
	UserID       string    `json:"user_id"`
	Email        string    `json:"email,omitempty"`
	DisplayName  string    `json:"display_name,omitempty"`
	PhotoURL     string    `json:"photo_url,omitempty"`
	Providers    []string  `json:"providers,omitempty"`
	IDToken      string    `json:"id_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// TokenStore persists the signed in account between runs. Load returns
// nil, nil when nothing is stored.
type TokenStore interface {
	Load(ctx context.Context) (*StoredSession, error)
	Save(ctx context.Context, session *StoredSession) error
	Clear(ctx context.Context) error
}

// MemoryTokenStore keeps the session in process memory.
type MemoryTokenStore struct {
	mu      sync.Mutex
	session *StoredSession
}

// NewMemoryTokenStore returns an empty in-memory store.
func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{}
}

func (s *MemoryTokenStore) Load(context.Context) (*StoredSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return nil, nil
	}
	c := *s.session
	c.Providers = append([]string(nil), s.session.Providers...)
	return &c, nil
}

func (s *MemoryTokenStore) Save(_ context.Context, session *StoredSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if session == nil {
		s.session = nil
		return nil
	}
	c := *session
	c.Providers = append([]string(nil), session.Providers...)
	s.session = &c
	return nil
}

func (s *MemoryTokenStore) Clear(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = nil
	return nil
}

// FileTokenStore keeps the session as a JSON file readable only by the
// owner.
type FileTokenStore struct {
	path string
	mu   sync.Mutex
}

// NewFileTokenStore returns a store backed by path.
func NewFileTokenStore(path string) *FileTokenStore {
	return &FileTokenStore{path: path}
}

// Path returns the backing file path.
func (s *FileTokenStore) Path() string {
	return s.path
}

func (s *FileTokenStore) Load(context.Context) (*StoredSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to read session file").
			WithMetadata(map[string]any{"path": s.path})
	}

	var session StoredSession
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "session file is corrupt").
			WithMetadata(map[string]any{"path": s.path})
	}
	if session.UserID == "" || session.RefreshToken == "" {
		return nil, nil
	}
	return &session, nil
}

func (s *FileTokenStore) Save(_ context.Context, session *StoredSession) error {
	if session == nil {
		return s.Clear(context.Background())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to encode session")
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create session directory").
			WithMetadata(map[string]any{"path": s.path})
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".session-*")
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to write session file").
			WithMetadata(map[string]any{"path": s.path})
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to write session file")
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to write session file")
	}
	if err := tmp.Close(); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to write session file")
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to replace session file").
			WithMetadata(map[string]any{"path": s.path})
	}
	return nil
}

func (s *FileTokenStore) Clear(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to remove session file").
			WithMetadata(map[string]any{"path": s.path})
	}
	return nil
}
