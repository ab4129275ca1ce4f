package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"runbox/internal/execution/sandbox"

	"github.com/segmentio/kafka-go"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "exec_service.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadAppConfigDefaults(t *testing.T) {
	cfg, err := loadAppConfig(writeConfig(t, "logger:\n  level: debug\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != defaultHTTPAddr || cfg.Server.MetricsPath != "/metrics" {
		t.Fatalf("server defaults not applied: %+v", cfg.Server)
	}
	if cfg.Sandbox.Supervisor != supervisorLocal || cfg.Sandbox.Isolation != sandbox.IsolationShared {
		t.Fatalf("sandbox defaults not applied: %+v", cfg.Sandbox)
	}
	if cfg.Sandbox.Engine.ExitCodes.Timeout != 124 || cfg.Sandbox.Engine.ExitCodes.Memory != 137 {
		t.Fatalf("exit codes not defaulted: %+v", cfg.Sandbox.Engine.ExitCodes)
	}
	if cfg.Redis.Enabled() || cfg.Kafka.Enabled() {
		t.Fatal("redis and kafka must be off unless configured")
	}
	if cfg.Status.TTL != defaultStatusTTL || cfg.Kafka.RequestTopic != defaultRequestTopic {
		t.Fatalf("status defaults not applied: %+v %+v", cfg.Status, cfg.Kafka)
	}
}

func TestLoadSampleConfig(t *testing.T) {
	cfg, err := loadAppConfig(filepath.Join("..", "..", "configs", "exec_service.yaml"))
	if err != nil {
		t.Fatalf("load sample: %v", err)
	}
	if !cfg.Redis.Enabled() || !cfg.Kafka.Enabled() {
		t.Fatal("sample enables redis and kafka")
	}
	if cfg.Sandbox.Engine.PollInterval != 20*time.Millisecond || cfg.Sandbox.Engine.GracePeriod != 500*time.Millisecond {
		t.Fatalf("inline engine config not decoded: %+v", cfg.Sandbox.Engine)
	}
	if cfg.Sandbox.WorkRoot != "/var/lib/runbox/work" || cfg.Sandbox.MaxSessions != 4 {
		t.Fatalf("unexpected sandbox %+v", cfg.Sandbox)
	}
	if cfg.Limits.MaxTestCases != 20 || cfg.Compile.TimeMs != 10000 {
		t.Fatalf("unexpected limits %+v %+v", cfg.Limits, cfg.Compile)
	}
	if len(cfg.Languages) != 1 || cfg.Languages[0].ID != "ruby" {
		t.Fatalf("extra languages not decoded: %+v", cfg.Languages)
	}
	if cfg.Kafka.toMQConfig().Compression != kafka.Zstd {
		t.Fatal("compression not mapped")
	}
	opts := cfg.Kafka.subscribeOptions(nil)
	if opts.MaxRetries != 2 || opts.DeadLetterTopic != "runbox.requests.dlq" || opts.Concurrency != 4 {
		t.Fatalf("unexpected subscribe options %+v", opts)
	}
}

func TestLoadAppConfigRejects(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{"unknown supervisor", "sandbox:\n  supervisor: docker\n", "supervisor"},
		{"unknown isolation", "sandbox:\n  isolation: none\n", "isolation"},
		{"clashing exit codes", "sandbox:\n  exitCodes:\n    timeout: 137\n    memory: 137\n", "exit_codes"},
		{"kafka without redis", "kafka:\n  brokers: [\"k:9092\"]\n", "redis"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := loadAppConfig(writeConfig(t, tc.body))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error mentioning %q, got %v", tc.want, err)
			}
		})
	}
}

func TestLoadAppConfigMissingFile(t *testing.T) {
	if _, err := loadAppConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestBuildEngines(t *testing.T) {
	for _, supervisor := range []string{supervisorLocal, supervisorDelegated} {
		factory, err := buildEngines(SandboxConfig{Supervisor: supervisor})
		if err != nil || factory == nil {
			t.Fatalf("%s: %v", supervisor, err)
		}
	}
}
