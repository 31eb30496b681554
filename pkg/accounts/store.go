package accounts

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// storeFile is the on-disk layout of the YAML account store.
type storeFile struct {
	Accounts []*Account `yaml:"accounts"`
}

// FileStore persists accounts to a YAML file. Writes are atomic (write to
// a temp file, then rename) so a crash never leaves a half-written store.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore creates a store backed by the given path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the store's file path.
func (s *FileStore) Path() string {
	return s.path
}

// Load reads all accounts from the store. A missing file is not an error;
// it yields an empty account list so a fresh deployment can start from
// environment-supplied accounts alone.
func (s *FileStore) Load() ([]*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read account store %q: %w", s.path, err)
	}

	var file storeFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse account store %q: %w", s.path, err)
	}

	for _, account := range file.Accounts {
		account.Source = SourceFile
	}
	return file.Accounts, nil
}

// Save writes accounts to the store atomically. Env-sourced accounts are
// skipped; their credentials belong to the environment, not the file.
func (s *FileStore) Save(accounts []*Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	persisted := make([]*Account, 0, len(accounts))
	for _, account := range accounts {
		if account.Source == SourceEnv {
			continue
		}
		persisted = append(persisted, account)
	}

	data, err := yaml.Marshal(storeFile{Accounts: persisted})
	if err != nil {
		return fmt.Errorf("failed to marshal account store: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create store directory %q: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".accounts-*.yaml")
	if err != nil {
		return fmt.Errorf("failed to create temp store file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write temp store file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp store file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to set store file mode: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace account store: %w", err)
	}

	return nil
}

// Saver coalesces bursts of account state changes into debounced saves.
// Request handling mutates account state constantly; writing the store on
// every change would thrash the disk and the file watcher.
type Saver struct {
	store    *FileStore
	debounce time.Duration

	mu      sync.Mutex
	timer   *time.Timer
	pending func() []*Account
	stopped bool
}

// NewSaver creates a debounced saver for the store.
func NewSaver(store *FileStore, debounce time.Duration) *Saver {
	if debounce <= 0 {
		debounce = 2 * time.Second
	}
	return &Saver{store: store, debounce: debounce}
}

// Schedule queues a save. The snapshot function is called when the save
// actually fires so the freshest state is written.
func (s *Saver) Schedule(snapshot func() []*Account) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}
	s.pending = snapshot

	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.debounce, s.flush)
}

// flush performs the pending save.
func (s *Saver) flush() {
	s.mu.Lock()
	snapshot := s.pending
	s.pending = nil
	s.mu.Unlock()

	if snapshot == nil {
		return
	}
	// Best effort: the store is a cache of credential state, and the next
	// change reschedules the write.
	_ = s.store.Save(snapshot())
}

// Close flushes any pending save and stops the saver.
func (s *Saver) Close() {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.stopped = true
	s.mu.Unlock()

	s.flush()
}

// Environment variable names for account bootstrap.
const (
	// EnvAccounts holds a JSON array of account objects:
	// [{"email":"a@example.com","refresh_token":"...","project_id":"..."}]
	EnvAccounts = "CALLISTO_ACCOUNTS"

	// EnvRefreshToken holds a single refresh token for a one-account setup.
	EnvRefreshToken = "CALLISTO_REFRESH_TOKEN"
)

// envAccount is the JSON layout accepted by EnvAccounts.
type envAccount struct {
	Email        string `json:"email"`
	RefreshToken string `json:"refresh_token"`
	ProjectID    string `json:"project_id"`
}

// FromEnv builds accounts from the environment. CALLISTO_ACCOUNTS takes
// precedence; CALLISTO_REFRESH_TOKEN is consulted only when the former is
// unset. Returns an empty slice when neither is set.
func FromEnv() ([]*Account, error) {
	if raw := os.Getenv(EnvAccounts); raw != "" {
		var entries []envAccount
		if err := json.Unmarshal([]byte(raw), &entries); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", EnvAccounts, err)
		}

		accounts := make([]*Account, 0, len(entries))
		for i, entry := range entries {
			if entry.RefreshToken == "" {
				return nil, fmt.Errorf("%s entry %d is missing refresh_token", EnvAccounts, i)
			}
			email := entry.Email
			if email == "" {
				email = fmt.Sprintf("env-account-%d", i)
			}
			accounts = append(accounts, &Account{
				Email:        email,
				RefreshToken: entry.RefreshToken,
				ProjectID:    entry.ProjectID,
				Enabled:      true,
				Source:       SourceEnv,
			})
		}
		return accounts, nil
	}

	if token := os.Getenv(EnvRefreshToken); token != "" {
		return []*Account{{
			Email:        "env-account-0",
			RefreshToken: token,
			Enabled:      true,
			Source:       SourceEnv,
		}}, nil
	}

	return nil, nil
}
