package config

import (
	"fmt"
	"os"
	"strings"
)

// ResolveSecret reads a credential using the *_FILE convention used for
// broker and database passwords: if envName+"_FILE" is set, the secret is
// read from that file (trimmed); otherwise the value of envName itself is
// used. Returns empty string when neither is set and an error only when
// the referenced file cannot be read.
func ResolveSecret(envName string) (string, error) {
	fileEnv := envName + "_FILE"
	if path := os.Getenv(fileEnv); path != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("read secret %s=%s: %w", fileEnv, path, err)
		}
		return strings.TrimSpace(string(content)), nil
	}
	return os.Getenv(envName), nil
}
