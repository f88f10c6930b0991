package credstore

import (
	"crypto/cipher"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// StoreName is the key the credential is persisted under.
const StoreName = "auth-storage"

// Persister loads and saves the credential across process restarts. An
// empty token means "no credential".
type Persister interface {
	Load() (string, error)
	Save(token string) error
}

type persistedState struct {
	Token  string `json:"token"`
	Sealed bool   `json:"sealed,omitempty"`
}

type persistedEntry struct {
	State   persistedState `json:"state"`
	Version int            `json:"version"`
}

// FilePersister keeps the credential in a JSON file:
//
//	{"auth-storage":{"state":{"token":"..."},"version":0}}
//
// When AEAD is set the token is sealed with it at rest.
type FilePersister struct {
	Path string
	AEAD cipher.AEAD
}

// Load returns the persisted token. A missing file yields "".
func (p *FilePersister) Load() (string, error) {
	data, err := os.ReadFile(p.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("read %s: %w", p.Path, err)
	}

	var doc map[string]persistedEntry
	if err := json.Unmarshal(data, &doc); err != nil {
		return "", fmt.Errorf("decode %s: %w", p.Path, err)
	}
	entry, ok := doc[StoreName]
	if !ok || entry.State.Token == "" {
		return "", nil
	}
	if !entry.State.Sealed {
		return entry.State.Token, nil
	}
	if p.AEAD == nil {
		return "", errors.New("token is sealed but no key is configured")
	}
	return open(p.AEAD, entry.State.Token)
}

// Save writes token atomically through a temporary file in the same
// directory.
func (p *FilePersister) Save(token string) error {
	state := persistedState{Token: token}
	if p.AEAD != nil && token != "" {
		sealed, err := seal(p.AEAD, token)
		if err != nil {
			return err
		}
		state = persistedState{Token: sealed, Sealed: true}
	}

	data, err := json.Marshal(map[string]persistedEntry{StoreName: {State: state}})
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	dir := filepath.Dir(p.Path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".auth-storage-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), p.Path); err != nil {
		return fmt.Errorf("replace %s: %w", p.Path, err)
	}
	return nil
}

// MemoryPersister keeps the credential in memory only.
type MemoryPersister struct {
	mu    sync.Mutex
	token string
	saves int
}

// Load returns the last saved token.
func (p *MemoryPersister) Load() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.token, nil
}

// Save records token.
func (p *MemoryPersister) Save(token string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.token = token
	p.saves++
	return nil
}

// Saves reports how many times Save was called.
func (p *MemoryPersister) Saves() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.saves
}
