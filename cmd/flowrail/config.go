package main

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/okonma/flowrail/internal/secrets"
	"github.com/okonma/flowrail/internal/store"
)

// Config holds all flowrail configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	DBPath       string `json:"db_path"`
	LogLevel     string `json:"log_level"`
	WorkflowsDir string `json:"workflows_dir"`
	AgentCommand string `json:"agent_command"`
}

func defaultConfig() Config {
	return Config{
		DBPath:       filepath.Join(flowrailDir(), "flowrail.db"),
		LogLevel:     "info",
		WorkflowsDir: filepath.Join(flowrailDir(), "workflows"),
	}
}

func flowrailDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".flowrail"
	}
	return filepath.Join(home, ".flowrail")
}

func settingsPath() string {
	return filepath.Join(flowrailDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := os.Getenv("FLOWRAIL_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("FLOWRAIL_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("FLOWRAIL_WORKFLOWS_DIR"); v != "" {
		cfg.WorkflowsDir = v
	}
	if v := os.Getenv("FLOWRAIL_AGENT_COMMAND"); v != "" {
		cfg.AgentCommand = v
	}

	return cfg
}

// buildVault creates the secret vault from FLOWRAIL_MASTER_KEY (hex, 32
// bytes) or FLOWRAIL_VAULT_PASSPHRASE with a salt persisted next to the
// database. Returns nil when neither is configured: runs without secret
// placeholders do not need a vault.
func buildVault(s *store.LibSQLStore) (secrets.Vault, error) {
	if keyHex := os.Getenv("FLOWRAIL_MASTER_KEY"); keyHex != "" {
		key, err := hex.DecodeString(keyHex)
		if err != nil {
			return nil, fmt.Errorf("FLOWRAIL_MASTER_KEY is not valid hex: %w", err)
		}
		return secrets.NewAESVault(s, secrets.VaultConfig{MasterKey: key})
	}

	passphrase := os.Getenv("FLOWRAIL_VAULT_PASSPHRASE")
	if passphrase == "" {
		return nil, nil
	}
	salt, err := loadOrCreateSalt()
	if err != nil {
		return nil, err
	}
	return secrets.NewAESVault(s, secrets.VaultConfig{Passphrase: passphrase, Salt: salt})
}

func loadOrCreateSalt() ([]byte, error) {
	path := filepath.Join(flowrailDir(), "vault.salt")
	if data, err := os.ReadFile(path); err == nil && len(data) > 0 {
		return data, nil
	}

	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	if err := os.MkdirAll(flowrailDir(), 0o700); err != nil {
		return nil, fmt.Errorf("create config dir: %w", err)
	}
	if err := os.WriteFile(path, salt, 0o600); err != nil {
		return nil, fmt.Errorf("persist salt: %w", err)
	}
	return salt, nil
}
