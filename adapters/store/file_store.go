package store

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/layer-3/parlor/core"
	"github.com/layer-3/parlor/ports"
)

const (
	fileStorePerm    = 0o600
	fileStoreDirPerm = 0o700
)

// persistedCredential is the on-disk layout. Expiry is kept in epoch
// milliseconds to match the backend's wire representation.
type persistedCredential struct {
	Token     string `json:"token"`
	Wallet    string `json:"wallet"`
	ExpiresAt int64  `json:"expires_at"`
}

// FileStore persists the credential as a JSON file so a session survives
// process restarts. Every disk failure degrades to memory-only operation:
// the in-memory cache is authoritative and mutations never return errors.
type FileStore struct {
	mu   sync.RWMutex
	path string
	log  *slog.Logger
	cred core.Credential
	has  bool
}

// NewFileStore creates a file-backed credential store at path.
func NewFileStore(path string, log *slog.Logger) *FileStore {
	if log == nil {
		log = slog.Default()
	}
	return &FileStore{path: path, log: log}
}

var _ ports.CredentialStore = (*FileStore)(nil)

// Save atomically overwrites the stored credential in memory and on disk.
// The file is written to a temp path and renamed so readers never observe a
// partial write.
func (s *FileStore) Save(cred core.Credential) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cred = cred
	s.has = true

	data, err := json.Marshal(persistedCredential{
		Token:     cred.Token,
		Wallet:    cred.Wallet,
		ExpiresAt: cred.ExpiresAt.UnixMilli(),
	})
	if err != nil {
		s.log.Warn("credstore.marshal.fail", "err", err)
		return
	}

	if err := os.MkdirAll(filepath.Dir(s.path), fileStoreDirPerm); err != nil {
		s.log.Warn("credstore.mkdir.fail", "err", err, "path", s.path)
		return
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, fileStorePerm); err != nil {
		s.log.Warn("credstore.write.fail", "err", err, "path", tmp)
		return
	}
	if err := os.Rename(tmp, s.path); err != nil {
		s.log.Warn("credstore.rename.fail", "err", err, "path", s.path)
	}
}

// Load reads the durable credential at startup. An entry that is already
// expired is treated as absent and purged from disk.
func (s *FileStore) Load() {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Warn("credstore.read.fail", "err", err, "path", s.path)
		}
		return
	}

	var p persistedCredential
	if err := json.Unmarshal(data, &p); err != nil {
		s.log.Warn("credstore.corrupt", "err", err, "path", s.path)
		s.removeLocked()
		return
	}

	cred := core.Credential{
		Token:     p.Token,
		Wallet:    p.Wallet,
		ExpiresAt: time.UnixMilli(p.ExpiresAt),
	}
	if cred.IsExpired() {
		s.log.Info("credstore.expired.purge", "wallet", cred.Wallet)
		s.removeLocked()
		return
	}

	s.cred = cred
	s.has = true
}

// Status returns the current session view from the in-memory cache.
func (s *FileStore) Status() core.SessionStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return statusOf(s.cred, s.has)
}

// Token returns the raw bearer token, or "" when none is stored.
func (s *FileStore) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.has {
		return ""
	}
	return s.cred.Token
}

// Clear removes the credential from memory and disk.
func (s *FileStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cred = core.Credential{}
	s.has = false
	s.removeLocked()
}

func (s *FileStore) removeLocked() {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		s.log.Warn("credstore.remove.fail", "err", err, "path", s.path)
	}
}
