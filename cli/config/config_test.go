package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pithecene-io/tranche/runtime"
)

func TestLoad_FullConfig(t *testing.T) {
	t.Setenv("SF_TOKEN", "tok-123")
	yaml := `connection:
  instance_url: https://acme.my.salesforce.com
  api_version: "58.0"
  access_token: ${SF_TOKEN}
  requests_per_second: 5
  burst: 2
  timeout: 2m

query:
  check_interval: 30s
  time_limit: 1h
  batch_count: 10
  grace_period: 15m
  max_restarts: 2
  parallelism: 4
  date_field: SystemModstamp
  single_batch: true
  filename_prefix: nightly_

storage:
  backend: s3
  path: my-bucket/exports
  region: us-east-1
  endpoint: http://localhost:9000
  s3_path_style: true

adapter:
  type: webhook
  url: https://hooks.example.com/tranche
  headers:
    Authorization: Bearer hook
  timeout: 10s
  retries: 3

log:
  level: warn
`
	cfg, err := Load(writeTemp(t, yaml))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	assertEqual(t, "connection.instance_url", cfg.Connection.InstanceURL, "https://acme.my.salesforce.com")
	assertEqual(t, "connection.api_version", cfg.Connection.APIVersion, "58.0")
	assertEqual(t, "connection.access_token", cfg.Connection.AccessToken, "tok-123")
	if cfg.Connection.RequestsPerSecond != 5 || cfg.Connection.Burst != 2 || cfg.Connection.Timeout.Duration != 2*time.Minute {
		t.Errorf("connection = %+v", cfg.Connection)
	}

	rc := cfg.RuntimeConfig()
	if rc.CheckInterval != 30*time.Second || rc.TimeLimit != time.Hour || rc.GracePeriod != 15*time.Minute {
		t.Errorf("durations = %s %s %s", rc.CheckInterval, rc.TimeLimit, rc.GracePeriod)
	}
	if rc.BatchCount != 10 || rc.MaxRestarts != 2 || rc.Parallelism != 4 || !rc.SingleBatch {
		t.Errorf("runtime config = %+v", rc)
	}
	assertEqual(t, "query.date_field", rc.DateField, "SystemModstamp")
	assertEqual(t, "query.filename_prefix", cfg.Query.FilenamePrefix, "nightly_")

	assertEqual(t, "storage.backend", cfg.Storage.Backend, "s3")
	assertEqual(t, "storage.path", cfg.Storage.Path, "my-bucket/exports")
	assertEqual(t, "storage.region", cfg.Storage.Region, "us-east-1")
	if !cfg.Storage.S3PathStyle {
		t.Error("storage.s3_path_style: expected true")
	}

	assertEqual(t, "adapter.type", cfg.Adapter.Type, "webhook")
	assertEqual(t, "adapter.headers", cfg.Adapter.Headers["Authorization"], "Bearer hook")
	if cfg.Adapter.Retries == nil || *cfg.Adapter.Retries != 3 {
		t.Errorf("adapter.retries = %v", cfg.Adapter.Retries)
	}
	assertEqual(t, "log.level", cfg.Log.Level, "warn")
}

func TestLoad_EmptyFileUsesRuntimeDefaults(t *testing.T) {
	cfg, err := Load(writeTemp(t, ""))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if rc := cfg.RuntimeConfig(); rc != (runtime.Config{}) {
		t.Errorf("expected zero runtime config, got %+v", rc)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"bad duration", "query:\n  check_interval: soon\n", "invalid duration"},
		{"bad yaml", "query: [\n", "invalid YAML"},
		{"unknown backend", "storage:\n  backend: ftp\n", "storage.backend"},
		{"unknown adapter", "adapter:\n  type: kafka\n  url: x\n", "adapter.type"},
		{"adapter without url", "adapter:\n  type: redis\n", "adapter.url"},
		{"negative retries", "adapter:\n  type: webhook\n  url: http://x\n  retries: -1\n", "adapter.retries"},
		{"negative batch count", "query:\n  batch_count: -2\n", "batch count"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeTemp(t, tt.content))
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("err = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err == nil || !strings.Contains(err.Error(), "config file not found") {
		t.Errorf("err = %v", err)
	}
}

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tranche.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	return path
}

func assertEqual(t *testing.T, field, got, want string) {
	t.Helper()
	if got != want {
		t.Errorf("%s: got %q, want %q", field, got, want)
	}
}
