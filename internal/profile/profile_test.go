package profile

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/golang-jwt/jwt/v5"
)

func TestDir(t *testing.T) {
	home, _ := os.UserHomeDir()
	t.Setenv(HomeEnv, "")
	got := Dir("main")
	want := filepath.Join(home, ".taptoon", "profiles", "main")
	if got != want {
		t.Errorf("Dir(main) = %q, want %q", got, want)
	}
}

func TestHomeOverride(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv(HomeEnv, tmpDir)
	if got := ConfigPath(); got != filepath.Join(tmpDir, "config.toml") {
		t.Errorf("ConfigPath() = %q", got)
	}
	if got := CachePath("w"); got != filepath.Join(tmpDir, "profiles", "w", "cache.db") {
		t.Errorf("CachePath(w) = %q", got)
	}
}

func TestSocketAndLockPaths(t *testing.T) {
	if got := SocketPath("test"); !strings.HasSuffix(got, filepath.Join("profiles", "test", "daemon.sock")) {
		t.Errorf("SocketPath(test) = %q, want suffix profiles/test/daemon.sock", got)
	}
	if got := LockPath("test"); !strings.HasSuffix(got, filepath.Join("profiles", "test", "LOCK")) {
		t.Errorf("LockPath(test) = %q, want suffix profiles/test/LOCK", got)
	}
}

func TestEnsureDir(t *testing.T) {
	t.Setenv(HomeEnv, t.TempDir())

	if err := EnsureDir("test"); err != nil {
		t.Fatalf("EnsureDir() error = %v", err)
	}

	info, err := os.Stat(LogDir("test"))
	if err != nil {
		t.Fatalf("log dir not created: %v", err)
	}
	if !info.IsDir() {
		t.Error("log dir is not a directory")
	}
	if perm := info.Mode().Perm(); perm != 0700 {
		t.Errorf("log dir permission = %o, want 0700", perm)
	}
}

func TestValidateName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"valid simple", "main", false},
		{"valid with numbers", "work123", false},
		{"valid with hyphen", "my-profile", false},
		{"valid with underscore", "my_profile", false},
		{"valid max length", strings.Repeat("a", 64), false},
		{"empty", "", true},
		{"uppercase", "Main", true},
		{"space", "my profile", true},
		{"dot", "my.profile", true},
		{"too long", strings.Repeat("a", 65), true},
		{"slash", "my/profile", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateName(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateName(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestResolve(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv(HomeEnv, tmpDir)

	if got := Resolve("flag"); got != "flag" {
		t.Errorf("Resolve(flag) = %q", got)
	}
	if got := Resolve(""); got != DefaultName {
		t.Errorf("Resolve() without config = %q, want %q", got, DefaultName)
	}

	if err := os.WriteFile(ConfigPath(), []byte("default_profile = \"work\"\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if got := Resolve(""); got != "work" {
		t.Errorf("Resolve() with config = %q, want work", got)
	}
}

func testToken(t *testing.T, sub string) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": sub}).SignedString([]byte("k"))
	if err != nil {
		t.Fatal(err)
	}
	return tok
}

func TestTokenRoundTrip(t *testing.T) {
	t.Setenv(HomeEnv, t.TempDir())
	t.Setenv(TokenEnv, "")
	tok := testToken(t, "7")

	if _, err := LoadToken("main"); !errors.Is(err, ErrNoToken) {
		t.Fatalf("LoadToken() before login error = %v, want ErrNoToken", err)
	}
	if err := SaveToken("main", "Bearer "+tok); err != nil {
		t.Fatalf("SaveToken() error = %v", err)
	}

	info, err := os.Stat(TokenPath("main"))
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("token permission = %o, want 0600", perm)
	}

	id, err := LoadIdentity("main")
	if err != nil {
		t.Fatalf("LoadIdentity() error = %v", err)
	}
	if id.UserID != "7" || id.Token != tok {
		t.Errorf("identity = %+v", id)
	}
}

func TestTokenEnvWins(t *testing.T) {
	t.Setenv(HomeEnv, t.TempDir())
	if err := SaveToken("main", testToken(t, "7")); err != nil {
		t.Fatal(err)
	}
	envTok := testToken(t, "9")
	t.Setenv(TokenEnv, envTok)

	got, err := LoadToken("main")
	if err != nil {
		t.Fatal(err)
	}
	if got != envTok {
		t.Error("LoadToken() ignored TAPTOON_ACCESS_TOKEN")
	}
}

func TestSaveEmptyToken(t *testing.T) {
	t.Setenv(HomeEnv, t.TempDir())
	if err := SaveToken("main", "Bearer  "); err == nil {
		t.Error("SaveToken() expected error for empty token")
	}
}
