// Package credentials loads S3 access keys for the s3 storage backend,
// either from a passwd file or from the standard AWS environment variables.
package credentials

import (
	"fmt"
	"os"
	"strings"
)

// Credentials holds S3 access keys
type Credentials struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
}

// NewCredentials creates an empty credentials instance
func NewCredentials() *Credentials {
	return &Credentials{}
}

// LoadFromPasswdFile loads credentials from a passwd file. The file holds
// one ACCESS_KEY:SECRET_KEY line; blank lines and #-comments are ignored.
func (c *Credentials) LoadFromPasswdFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read passwd file: %w", err)
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return fmt.Errorf("invalid passwd file format, expected ACCESS_KEY:SECRET_KEY")
		}
		c.AccessKeyID = strings.TrimSpace(parts[0])
		c.SecretAccessKey = strings.TrimSpace(parts[1])
		return nil
	}
	return fmt.Errorf("no credentials found in passwd file")
}

// LoadFromEnvironment loads credentials from AWS environment variables
func (c *Credentials) LoadFromEnvironment() error {
	accessKey := os.Getenv("AWS_ACCESS_KEY_ID")
	secretKey := os.Getenv("AWS_SECRET_ACCESS_KEY")

	if accessKey == "" || secretKey == "" {
		return fmt.Errorf("AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY must be set")
	}

	c.AccessKeyID = accessKey
	c.SecretAccessKey = secretKey
	c.SessionToken = os.Getenv("AWS_SESSION_TOKEN")

	return nil
}

// IsValid reports whether both the access key and the secret are set
func (c *Credentials) IsValid() bool {
	return c.AccessKeyID != "" && c.SecretAccessKey != ""
}
