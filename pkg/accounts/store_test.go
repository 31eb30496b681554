package accounts

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accounts.yaml")
	store := NewFileStore(path)

	remaining := 0.8
	in := []*Account{
		{
			Email:        "a@example.com",
			Label:        "primary",
			RefreshToken: "rt-a",
			ProjectID:    "project-a",
			Enabled:      true,
			Quota: map[string]ModelQuota{
				"gemini-3-pro": {RemainingFraction: &remaining},
			},
		},
		{
			Email:         "b@example.com",
			RefreshToken:  "rt-b",
			Enabled:       false,
			Invalid:       true,
			InvalidReason: "refresh token rejected",
		},
	}

	if err := store.Save(in); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}

	out, err := store.Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("Expected 2 accounts, got %d", len(out))
	}

	a := out[0]
	if a.Email != "a@example.com" || a.RefreshToken != "rt-a" || a.ProjectID != "project-a" {
		t.Errorf("First account did not round-trip: %+v", a)
	}
	if a.Source != SourceFile {
		t.Errorf("Expected loaded account source %q, got %q", SourceFile, a.Source)
	}
	if q, ok := a.Quota["gemini-3-pro"]; !ok || q.RemainingFraction == nil || *q.RemainingFraction != 0.8 {
		t.Errorf("Quota snapshot did not round-trip: %+v", a.Quota)
	}

	b := out[1]
	if !b.Invalid || b.InvalidReason != "refresh token rejected" {
		t.Errorf("Invalid flags did not round-trip: %+v", b)
	}
}

func TestFileStoreLoadMissingFile(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "absent.yaml"))

	out, err := store.Load()
	if err != nil {
		t.Fatalf("Expected no error for missing file, got %v", err)
	}
	if len(out) != 0 {
		t.Errorf("Expected empty account list, got %d", len(out))
	}
}

func TestFileStoreLoadMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accounts.yaml")
	if err := os.WriteFile(path, []byte("accounts: [broken"), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := NewFileStore(path).Load(); err == nil {
		t.Error("Expected error for malformed store")
	}
}

func TestFileStoreSkipsEnvAccounts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accounts.yaml")
	store := NewFileStore(path)

	in := []*Account{
		{Email: "file@example.com", RefreshToken: "rt", Enabled: true, Source: SourceFile},
		{Email: "env@example.com", RefreshToken: "rt", Enabled: true, Source: SourceEnv},
	}
	if err := store.Save(in); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}

	out, err := store.Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if len(out) != 1 || out[0].Email != "file@example.com" {
		t.Errorf("Expected only the file-sourced account, got %+v", out)
	}
}

func TestFromEnvJSON(t *testing.T) {
	t.Setenv(EnvAccounts, `[
		{"email":"a@example.com","refresh_token":"rt-a","project_id":"p-a"},
		{"refresh_token":"rt-b"}
	]`)
	t.Setenv(EnvRefreshToken, "ignored")

	out, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv returned error: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("Expected 2 accounts, got %d", len(out))
	}
	if out[0].Email != "a@example.com" || out[0].ProjectID != "p-a" {
		t.Errorf("First env account wrong: %+v", out[0])
	}
	if out[1].Email != "env-account-1" {
		t.Errorf("Expected synthesized email for second account, got %q", out[1].Email)
	}
	for _, a := range out {
		if a.Source != SourceEnv || !a.Enabled {
			t.Errorf("Expected enabled env-sourced account, got %+v", a)
		}
	}
}

func TestFromEnvSingleToken(t *testing.T) {
	t.Setenv(EnvAccounts, "")
	t.Setenv(EnvRefreshToken, "rt-single")

	out, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv returned error: %v", err)
	}
	if len(out) != 1 || out[0].RefreshToken != "rt-single" {
		t.Errorf("Expected single env account, got %+v", out)
	}
}

func TestFromEnvRejectsMissingToken(t *testing.T) {
	t.Setenv(EnvAccounts, `[{"email":"a@example.com"}]`)

	if _, err := FromEnv(); err == nil {
		t.Error("Expected error for entry without refresh_token")
	}
}

func TestFromEnvEmpty(t *testing.T) {
	t.Setenv(EnvAccounts, "")
	t.Setenv(EnvRefreshToken, "")

	out, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv returned error: %v", err)
	}
	if len(out) != 0 {
		t.Errorf("Expected no accounts, got %d", len(out))
	}
}

func TestSaverDebounces(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accounts.yaml")
	store := NewFileStore(path)
	saver := NewSaver(store, 50*time.Millisecond)
	defer saver.Close()

	snapshot := func() []*Account {
		return []*Account{{Email: "a@example.com", RefreshToken: "rt", Enabled: true}}
	}

	saver.Schedule(snapshot)
	saver.Schedule(snapshot)

	// Before the debounce window nothing is written.
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("Expected no store file before debounce elapses")
	}

	time.Sleep(150 * time.Millisecond)
	if _, err := os.Stat(path); err != nil {
		t.Errorf("Expected store file after debounce, got %v", err)
	}
}

func TestSaverCloseFlushesPending(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accounts.yaml")
	store := NewFileStore(path)
	saver := NewSaver(store, time.Hour)

	saver.Schedule(func() []*Account {
		return []*Account{{Email: "a@example.com", RefreshToken: "rt", Enabled: true}}
	})
	saver.Close()

	if _, err := os.Stat(path); err != nil {
		t.Errorf("Expected Close to flush pending save, got %v", err)
	}
}
