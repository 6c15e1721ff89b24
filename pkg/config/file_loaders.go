package config

import (
	"fmt"
	"os"
	"strings"
)

const secretFileSuffix = "File"

// resolveSecretFiles replaces properties such as passwordFile or
// client_secretFile with the trimmed content of the named file, stored under
// the key without the suffix. An explicit value for that key wins.
func (c *Config) resolveSecretFiles() error {
	if err := loadPropertyFiles(c.Grant.Properties); err != nil {
		return fmt.Errorf("grant: %w", err)
	}
	if err := loadPropertyFiles(c.Packages.Properties); err != nil {
		return fmt.Errorf("packages: %w", err)
	}
	if path := os.Getenv(EnvPrefix + "_BUS_REDIS_PASSWORD_FILE"); path != "" && c.Bus.Redis.Password == "" {
		secret, err := readSecret(path)
		if err != nil {
			return fmt.Errorf("bus.redis: %w", err)
		}
		c.Bus.Redis.Password = secret
	}
	return nil
}

func loadPropertyFiles(properties map[string]string) error {
	for key, path := range properties {
		if !strings.HasSuffix(key, secretFileSuffix) || len(key) == len(secretFileSuffix) {
			continue
		}
		name := strings.TrimSuffix(key, secretFileSuffix)
		delete(properties, key)
		if properties[name] != "" {
			continue
		}
		secret, err := readSecret(path)
		if err != nil {
			return fmt.Errorf("property %s: %w", key, err)
		}
		properties[name] = secret
	}
	return nil
}

func readSecret(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read secret file: %w", err)
	}
	secret := strings.TrimSpace(string(data))
	if secret == "" {
		return "", fmt.Errorf("secret file %s is empty", path)
	}
	return secret, nil
}
