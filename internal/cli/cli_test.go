package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"

	"github.com/ppiankov/uhmm/internal/broadcast"
	"github.com/ppiankov/uhmm/internal/model"
)

// isolate points HOME at an empty directory so a developer's own
// ~/.uhmm/config.yaml never leaks into the test
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	for _, key := range []string{"GROQ_API_KEY", "OPENAI_API_KEY", "ANTHROPIC_API_KEY", "EXA_API_KEY", "BRAVE_API_KEY"} {
		t.Setenv(key, "")
	}
	return home
}

func TestLoadConfig_Defaults(t *testing.T) {
	isolate(t)

	cfg, err := loadConfig(viper.New(), "")
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}

	def := model.DefaultConfig()
	if cfg.Server.Addr != def.Server.Addr {
		t.Errorf("Expected addr %s, got %s", def.Server.Addr, cfg.Server.Addr)
	}
	if cfg.Aggregator.MinWords != 6 {
		t.Errorf("Expected min_words 6, got %d", cfg.Aggregator.MinWords)
	}
	if cfg.Extraction.Timeout != 2*time.Second {
		t.Errorf("Expected extraction timeout 2s, got %v", cfg.Extraction.Timeout)
	}
	if cfg.Verification.InFlightPolicy != model.InFlightWait {
		t.Errorf("Expected wait policy, got %s", cfg.Verification.InFlightPolicy)
	}
	if len(cfg.Search.AllowedDomains) != len(model.DefaultAllowedDomains) {
		t.Errorf("Expected %d allowed domains, got %v", len(model.DefaultAllowedDomains), cfg.Search.AllowedDomains)
	}
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("UHMM_SERVER_ADDR", ":9999")
	t.Setenv("UHMM_AGGREGATOR_MIN_WORDS", "3")
	t.Setenv("UHMM_CACHE_TTL", "5m")
	t.Setenv("UHMM_VERIFICATION_IN_FLIGHT_POLICY", "skip")
	t.Setenv("UHMM_SEARCH_API_KEY", "exa-from-uhmm")
	t.Setenv("GROQ_API_KEY", "gsk-test")

	cfg, err := loadConfig(viper.New(), "")
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}

	if cfg.Server.Addr != ":9999" {
		t.Errorf("Expected env addr, got %s", cfg.Server.Addr)
	}
	if cfg.Aggregator.MinWords != 3 {
		t.Errorf("Expected min_words 3, got %d", cfg.Aggregator.MinWords)
	}
	if cfg.Cache.TTL != 5*time.Minute {
		t.Errorf("Expected cache ttl 5m, got %v", cfg.Cache.TTL)
	}
	if cfg.Verification.InFlightPolicy != model.InFlightSkip {
		t.Errorf("Expected skip policy, got %s", cfg.Verification.InFlightPolicy)
	}
	if cfg.Search.APIKey != "exa-from-uhmm" {
		t.Errorf("Expected search key from UHMM_SEARCH_API_KEY, got %q", cfg.Search.APIKey)
	}
	if cfg.LLM.APIKey != "gsk-test" {
		t.Errorf("Expected groq key fallback, got %q", cfg.LLM.APIKey)
	}
}

func TestLoadConfig_File(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
search:
  provider: brave
  allowed_domains:
    - nist.gov
broadcast:
  overflow_policy: drop_newest
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("BRAVE_API_KEY", "brave-key")

	cfg, err := loadConfig(viper.New(), path)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}

	if cfg.Search.Provider != "brave" || cfg.Search.APIKey != "brave-key" {
		t.Errorf("Expected brave with env key, got %s/%q", cfg.Search.Provider, cfg.Search.APIKey)
	}
	if len(cfg.Search.AllowedDomains) != 1 || cfg.Search.AllowedDomains[0] != "nist.gov" {
		t.Errorf("Expected file domains, got %v", cfg.Search.AllowedDomains)
	}
	if cfg.Search.NumResults != model.DefaultConfig().Search.NumResults {
		t.Errorf("Expected unset keys to keep defaults, got num_results %d", cfg.Search.NumResults)
	}
	if cfg.Broadcast.OverflowPolicy != model.DropNewest {
		t.Errorf("Expected drop_newest, got %s", cfg.Broadcast.OverflowPolicy)
	}
}

func TestLoadConfig_HomeFile(t *testing.T) {
	home := isolate(t)
	if err := os.MkdirAll(filepath.Join(home, ".uhmm"), 0o755); err != nil {
		t.Fatal(err)
	}
	content := "workers:\n  size: 3\n"
	if err := os.WriteFile(filepath.Join(home, ".uhmm", "config.yaml"), []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := loadConfig(viper.New(), "")
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Workers.Size != 3 {
		t.Errorf("Expected workers from home config, got %d", cfg.Workers.Size)
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	isolate(t)
	t.Setenv("UHMM_BROADCAST_OVERFLOW_POLICY", "drop_everything")

	if _, err := loadConfig(viper.New(), ""); err == nil {
		t.Fatal("Expected validation error")
	}

	if _, err := loadConfig(viper.New(), filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("Expected error for a missing explicit config file")
	}
}

func TestInitConfigFile(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), ".uhmm", "config.yaml")

	if err := initConfigFile(path); err != nil {
		t.Fatalf("initConfigFile: %v", err)
	}
	if err := initConfigFile(path); err == nil {
		t.Error("Expected error when the file already exists")
	}

	cfg, err := loadConfig(viper.New(), path)
	if err != nil {
		t.Fatalf("generated config does not load: %v", err)
	}
	if cfg.Server.PingInterval != 30*time.Second {
		t.Errorf("Expected ping interval 30s, got %v", cfg.Server.PingInterval)
	}
}

func TestRedact(t *testing.T) {
	cfg := model.DefaultConfig()
	cfg.LLM.APIKey = "gsk-secret"
	cfg.Search.APIKey = "exa-secret"

	var buf bytes.Buffer
	if err := writeConfig(&buf, redact(cfg)); err != nil {
		t.Fatalf("writeConfig: %v", err)
	}
	if strings.Contains(buf.String(), "secret") {
		t.Errorf("Expected keys to be redacted:\n%s", buf.String())
	}
	if cfg.LLM.APIKey != "gsk-secret" {
		t.Error("redact must not modify the caller's config")
	}
}

func TestWriterTransport(t *testing.T) {
	var buf bytes.Buffer
	b := broadcast.New(broadcast.Options{}, nil)
	if _, err := b.Subscribe(newWriterTransport(&buf)); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := b.Publish(broadcast.TranscriptEvent{Text: "hello", IsFinal: true, Timestamp: time.Now()}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	b.Close(ctx)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("Expected ack and transcript lines, got %q", buf.String())
	}
	if !strings.Contains(lines[0], `"type":"connection"`) || !strings.Contains(lines[1], `"type":"transcript"`) {
		t.Errorf("Unexpected lines %q", lines)
	}
}

func TestLoadConfig_ServiceRates(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
rate_limiting:
  requests_per_second: 0
  services:
    search:
      requests_per_second: 0.01
      burst_size: 1
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := loadConfig(viper.New(), path)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if r, ok := cfg.RateLimiting.Services["search"]; !ok || r.RequestsPerSecond != 0.01 || r.BurstSize != 1 {
		t.Fatalf("Expected search override, got %+v", cfg.RateLimiting.Services)
	}

	limiter := newLimiter(cfg.RateLimiting)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := limiter.Wait(ctx, "search"); err != nil {
		t.Fatalf("first search call should pass: %v", err)
	}
	if err := limiter.Wait(ctx, "search"); err == nil {
		t.Error("Expected the search override to throttle the second call")
	}
	for i := 0; i < 20; i++ {
		if err := limiter.Wait(ctx, "verification"); err != nil {
			t.Fatalf("Expected unlimited default for verification: %v", err)
		}
	}
}
