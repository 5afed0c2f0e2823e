package internal

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/starford/deepnote/internal/vault"
	pkgconfig "github.com/starford/deepnote/pkg/config"
)

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := NewDefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if cfg.Pipeline.Policy() != vault.PolicySkip {
		t.Errorf("policy = %q", cfg.Pipeline.Policy())
	}
}

func TestPipelineConfig_EmptyPolicyDefaultsSkip(t *testing.T) {
	cfg := PipelineConfig{}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("empty policy should default to skip: %v", err)
	}
	if cfg.CollisionPolicy != string(vault.PolicySkip) {
		t.Errorf("policy = %q", cfg.CollisionPolicy)
	}
}

func TestPipelineConfig_UnknownPolicy(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Pipeline.CollisionPolicy = "merge"
	if err := cfg.Validate(); err == nil {
		t.Fatal("unknown policy should fail validation")
	}
}

func TestOpenAIConfig_Validation(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.OpenAI.BaseURL = "not a url"
	if err := cfg.Validate(); err == nil {
		t.Error("bad base url should fail")
	}

	cfg = NewDefaultConfig()
	cfg.OpenAI.Timeout = 10 * time.Millisecond
	if err := cfg.Validate(); err == nil {
		t.Error("sub-second timeout should fail")
	}
}

func TestOpenAIConfig_CheckAPIKey(t *testing.T) {
	tests := []struct {
		key     string
		wantErr string
	}{
		{"", "not set"},
		{PlaceholderAPIKey, "placeholder"},
		{"sk-real", ""},
	}
	for _, tt := range tests {
		c := OpenAIConfig{APIKey: tt.key}
		err := c.CheckAPIKey()
		if tt.wantErr == "" {
			if err != nil {
				t.Errorf("key %q: unexpected error %v", tt.key, err)
			}
			continue
		}
		if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
			t.Errorf("key %q: err = %v, want %q", tt.key, err, tt.wantErr)
		}
	}
}

func TestLoadFromFile_ExpandsEnv(t *testing.T) {
	t.Setenv("DEEPNOTE_TEST_KEY", "sk-from-env")
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `app:
  log_level: debug
vault:
  path: /tmp/notes
openai:
  api_key: ${DEEPNOTE_TEST_KEY}
  timeout: 30s
pipeline:
  collision_policy: version
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := NewDefaultConfig()
	if err := pkgconfig.Load(path, cfg); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.OpenAI.APIKey != "sk-from-env" {
		t.Errorf("api key = %q", cfg.OpenAI.APIKey)
	}
	if cfg.OpenAI.Timeout != 30*time.Second {
		t.Errorf("timeout = %v", cfg.OpenAI.Timeout)
	}
	if cfg.Pipeline.Policy() != vault.PolicyVersion {
		t.Errorf("policy = %q", cfg.Pipeline.Policy())
	}
	if cfg.Queue.Path != "./queue.txt" {
		t.Errorf("queue path default lost: %q", cfg.Queue.Path)
	}
	if cfg.Vault.Path != "/tmp/notes" {
		t.Errorf("vault path = %q", cfg.Vault.Path)
	}
}
