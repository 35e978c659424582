package common

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
)

var (
	// ErrCredentialMissing is returned when neither a token file nor YTCOMMENTS_API_KEY is available.
	ErrCredentialMissing = errors.New("no API credential found")
	// ErrCredentialEmpty is returned when the token file holds only whitespace.
	ErrCredentialEmpty = errors.New("API credential file is empty")
)

// LoadCredential reads an API key or access token from path, trimming
// surrounding whitespace.
func LoadCredential(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: no token file at %s; put your YouTube Data API key in it", ErrCredentialMissing, path)
		}
		return "", fmt.Errorf("failed to read token file %s: %w", path, err)
	}

	credential := strings.TrimSpace(string(data))
	if credential == "" {
		return "", fmt.Errorf("%w: %s", ErrCredentialEmpty, path)
	}
	return credential, nil
}

// ResolveCredential prefers the token file and falls back to YTCOMMENTS_API_KEY
// when the file does not exist. An existing but empty file is an error.
func ResolveCredential(config *Config) (string, error) {
	credential, err := LoadCredential(config.API.TokenFile)
	if err == nil {
		return credential, nil
	}
	if errors.Is(err, ErrCredentialMissing) && config.API.APIKey != "" {
		return config.API.APIKey, nil
	}
	return "", err
}
