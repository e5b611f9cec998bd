package config

import (
	"fmt"

	"github.com/hashicorp/vault/api"
)

// applyVaultOverlay replaces sensitive values with secrets read from Vault
// KV v2. Missing keys are left as configured; a missing secret path is an
// error because the operator opted in by setting VAULT_ADDR.
func applyVaultOverlay(cfg *Config) error {
	vc := api.DefaultConfig()
	vc.Address = cfg.Vault.Addr

	client, err := api.NewClient(vc)
	if err != nil {
		return fmt.Errorf("vault client: %w", err)
	}
	client.SetToken(cfg.Vault.Token)

	secret, err := client.Logical().Read(cfg.Vault.SecretPath)
	if err != nil {
		return fmt.Errorf("read %s: %w", cfg.Vault.SecretPath, err)
	}
	if secret == nil || secret.Data == nil {
		return fmt.Errorf("no secret at %s", cfg.Vault.SecretPath)
	}

	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return fmt.Errorf("unexpected secret shape at %s", cfg.Vault.SecretPath)
	}

	if v, ok := data["secret_key"].(string); ok && v != "" {
		cfg.JWT.Secret = v
	}
	if v, ok := data["laravel_api_key"].(string); ok && v != "" {
		cfg.Backoffice.APIKey = v
	}
	if v, ok := data["database_url"].(string); ok && v != "" {
		cfg.Database.URL = v
	}

	return nil
}
