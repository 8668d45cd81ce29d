package store

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// Prefs are local, non-security-sensitive user settings. They share the
// credential store's durable mechanism but live in a separate file.
type Prefs struct {
	OnboardingComplete bool    `json:"onboarding_complete"`
	MusicEnabled       bool    `json:"music_enabled"`
	MusicVolume        float64 `json:"music_volume"`
}

// PrefsStore persists Prefs to a JSON file, best-effort.
type PrefsStore struct {
	mu    sync.RWMutex
	path  string
	log   *slog.Logger
	prefs Prefs
}

// NewPrefsStore creates a file-backed preferences store with defaults applied.
func NewPrefsStore(path string, log *slog.Logger) *PrefsStore {
	if log == nil {
		log = slog.Default()
	}
	return &PrefsStore{
		path: path,
		log:  log,
		prefs: Prefs{
			MusicEnabled: true,
			MusicVolume:  0.5,
		},
	}
}

// Load reads preferences from disk, keeping defaults on any failure.
func (s *PrefsStore) Load() {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Warn("prefs.read.fail", "err", err, "path", s.path)
		}
		return
	}

	var p Prefs
	if err := json.Unmarshal(data, &p); err != nil {
		s.log.Warn("prefs.corrupt", "err", err, "path", s.path)
		return
	}
	s.prefs = p
}

// Get returns the current preferences.
func (s *PrefsStore) Get() Prefs {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.prefs
}

// Set overwrites the preferences and persists them.
func (s *PrefsStore) Set(p Prefs) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.prefs = p

	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		s.log.Warn("prefs.marshal.fail", "err", err)
		return
	}
	if err := os.MkdirAll(filepath.Dir(s.path), fileStoreDirPerm); err != nil {
		s.log.Warn("prefs.mkdir.fail", "err", err, "path", s.path)
		return
	}
	if err := os.WriteFile(s.path, data, fileStorePerm); err != nil {
		s.log.Warn("prefs.write.fail", "err", err, "path", s.path)
	}
}
