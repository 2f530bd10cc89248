package credentials

import (
	"os"
	"path/filepath"
	"testing"
)

func writePasswd(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".passwd-versfs")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("Failed to create test passwd file: %v", err)
	}
	return path
}

func TestLoadFromPasswdFile(t *testing.T) {
	cred := NewCredentials()
	err := cred.LoadFromPasswdFile(writePasswd(t, "TEST_ACCESS_KEY:TEST_SECRET_KEY\n"))
	if err != nil {
		t.Fatalf("Failed to load credentials: %v", err)
	}

	if cred.AccessKeyID != "TEST_ACCESS_KEY" {
		t.Errorf("Expected AccessKeyID 'TEST_ACCESS_KEY', got '%s'", cred.AccessKeyID)
	}
	if cred.SecretAccessKey != "TEST_SECRET_KEY" {
		t.Errorf("Expected SecretAccessKey 'TEST_SECRET_KEY', got '%s'", cred.SecretAccessKey)
	}
}

func TestLoadFromPasswdFileSkipsComments(t *testing.T) {
	cred := NewCredentials()
	err := cred.LoadFromPasswdFile(writePasswd(t, "# credentials for testing\n\nKEY:SECRET\n"))
	if err != nil {
		t.Fatalf("Failed to load credentials: %v", err)
	}
	if cred.AccessKeyID != "KEY" || cred.SecretAccessKey != "SECRET" {
		t.Errorf("Got %q:%q, want KEY:SECRET", cred.AccessKeyID, cred.SecretAccessKey)
	}
}

func TestLoadFromPasswdFileInvalidFormat(t *testing.T) {
	cred := NewCredentials()
	if err := cred.LoadFromPasswdFile(writePasswd(t, "INVALID_FORMAT")); err == nil {
		t.Error("Expected error for invalid format, got nil")
	}
}

func TestLoadFromPasswdFileEmpty(t *testing.T) {
	cred := NewCredentials()
	if err := cred.LoadFromPasswdFile(writePasswd(t, "# only a comment\n")); err == nil {
		t.Error("Expected error for empty passwd file, got nil")
	}
}

func TestLoadFromPasswdFileNotFound(t *testing.T) {
	cred := NewCredentials()
	if err := cred.LoadFromPasswdFile("/nonexistent/file"); err == nil {
		t.Error("Expected error for nonexistent file, got nil")
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("AWS_ACCESS_KEY_ID", "ENV_ACCESS_KEY")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "ENV_SECRET_KEY")

	cred := NewCredentials()
	if err := cred.LoadFromEnvironment(); err != nil {
		t.Fatalf("Failed to load credentials from environment: %v", err)
	}

	if cred.AccessKeyID != "ENV_ACCESS_KEY" {
		t.Errorf("Expected AccessKeyID 'ENV_ACCESS_KEY', got '%s'", cred.AccessKeyID)
	}
	if cred.SecretAccessKey != "ENV_SECRET_KEY" {
		t.Errorf("Expected SecretAccessKey 'ENV_SECRET_KEY', got '%s'", cred.SecretAccessKey)
	}
}

func TestIsValid(t *testing.T) {
	cred := NewCredentials()
	if cred.IsValid() {
		t.Error("Expected invalid credentials for empty cred, got valid")
	}

	cred.AccessKeyID = "TEST_KEY"
	cred.SecretAccessKey = "TEST_SECRET"
	if !cred.IsValid() {
		t.Error("Expected valid credentials, got invalid")
	}
}
