package config

import "testing"

func TestLoad_DefaultsToDevelopment(t *testing.T) {
	t.Setenv("FIGHTCORE_ENV", "")
	t.Setenv("FIGHTCORE_PIPELINE_CONFIG", "")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Env != Development {
		t.Errorf("Env = %v, want development", cfg.Env)
	}
	if !cfg.IsDevelopment() {
		t.Errorf("IsDevelopment() = false, want true")
	}
}

func TestLoad_RejectsUnknownEnvironment(t *testing.T) {
	t.Setenv("FIGHTCORE_ENV", "staging-nope")
	if _, err := Load(); err == nil {
		t.Errorf("expected error for unrecognised FIGHTCORE_ENV")
	}
}

func TestLoad_ReadsPortsFromEnv(t *testing.T) {
	t.Setenv("FIGHTCORE_ENV", "testing")
	t.Setenv("HTTP_PORT", "9000")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.HTTPPort != 9000 {
		t.Errorf("HTTPPort = %d, want 9000", cfg.HTTPPort)
	}
}

func TestConfig_Validate_RejectsBadPort(t *testing.T) {
	cfg := &Config{HTTPPort: 80, MetricsPort: 9090, Pipeline: DefaultPipelineConfig()}
	if err := cfg.Validate(); err == nil {
		t.Errorf("expected error for port below 1024")
	}
}
