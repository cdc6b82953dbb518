package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DB_DSN", "")
	t.Setenv("PROMPT_TIMEOUT", "")
	t.Setenv("CHANNEL_DELETE_GRACE", "")
	t.Setenv("PANEL_SWEEP_INTERVAL", "")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.DBDsn == "" {
		t.Errorf("expected default dsn, got empty")
	}
	if cfg.PromptTimeout != 15*time.Second {
		t.Errorf("PromptTimeout = %v, want 15s", cfg.PromptTimeout)
	}
	if cfg.DeleteGrace != time.Second {
		t.Errorf("DeleteGrace = %v, want 1s", cfg.DeleteGrace)
	}
	if cfg.PanelSweepInterval != 3*time.Second {
		t.Errorf("PanelSweepInterval = %v, want 3s", cfg.PanelSweepInterval)
	}
}

func TestPanelChannelFallsBackToTrigger(t *testing.T) {
	t.Setenv("VOICE_TRIGGER_CHANNEL_ID", "111")
	t.Setenv("PANEL_CHANNEL_ID", "")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.PanelChannelID != "111" {
		t.Errorf("PanelChannelID = %q, want trigger channel id", cfg.PanelChannelID)
	}
}

func TestAdminRoleParsing(t *testing.T) {
	t.Setenv("ADMIN_ROLE_IDS", "1, 2 ,3,")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if len(cfg.AdminRoleIDs) != 3 {
		t.Fatalf("AdminRoleIDs = %v, want 3 entries", cfg.AdminRoleIDs)
	}
	if !cfg.IsAdminRole([]string{"9", "2"}) {
		t.Errorf("expected role 2 to be recognized as admin")
	}
	if cfg.IsAdminRole([]string{"9"}) {
		t.Errorf("role 9 should not be admin")
	}
}

func TestInvalidDuration(t *testing.T) {
	t.Setenv("PROMPT_TIMEOUT", "sometimes")
	if _, err := Load(); err == nil {
		t.Errorf("expected error for invalid PROMPT_TIMEOUT")
	}
	t.Setenv("PROMPT_TIMEOUT", "-5s")
	if _, err := Load(); err == nil {
		t.Errorf("expected error for non-positive PROMPT_TIMEOUT")
	}
}

func TestValidateBotReady(t *testing.T) {
	t.Setenv("DISCORD_TOKEN", "tok")
	t.Setenv("DISCORD_GUILD_ID", "g1")
	t.Setenv("VOICE_TRIGGER_CHANNEL_ID", "c1")
	t.Setenv("VOICE_CATEGORY_ID", "cat1")
	cfg, _ := Load()
	if err := cfg.ValidateBotReady(); err != nil {
		t.Errorf("expected valid bot config, got %v", err)
	}
	if err := os.Unsetenv("DISCORD_TOKEN"); err != nil {
		t.Fatalf("failed to unset DISCORD_TOKEN: %v", err)
	}
	cfg, _ = Load()
	if err := cfg.ValidateBotReady(); err == nil {
		t.Errorf("expected error when missing discord envs")
	}
}
