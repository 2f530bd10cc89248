package main

import "testing"

func TestValidateDirs(t *testing.T) {
	cases := []struct {
		name       string
		storageDir string
		mountDir   string
		wantErr    bool
	}{
		{"both absolute", "/var/data", "/mnt/versfs", false},
		{"empty storage", "", "/mnt/versfs", true},
		{"empty mount", "/var/data", "", true},
		{"relative storage", "data", "/mnt/versfs", true},
		{"relative mount", "/var/data", "mnt", true},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := validateDirs(c.storageDir, c.mountDir)
			if c.wantErr && err == nil {
				t.Error("Expected error, got nil")
			}
			if !c.wantErr && err != nil {
				t.Errorf("Expected no error, got %v", err)
			}
		})
	}
}
