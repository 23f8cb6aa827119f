package infra

import (
	"testing"
	"time"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://example")
	t.Setenv("JWT_SECRET", "test-secret")
}

func TestParseConfigDefaults(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("PORT", "")
	t.Setenv("STORAGE_BASE_URL", "")

	cfg, err := ParseConfig()
	if err != nil {
		t.Fatalf("ParseConfig returned error: %v", err)
	}
	if cfg.QueueName != "image-generation" {
		t.Fatalf("QueueName mismatch: %q", cfg.QueueName)
	}
	if cfg.QueueStalledInterval != 24*time.Hour {
		t.Fatalf("QueueStalledInterval mismatch: %s", cfg.QueueStalledInterval)
	}
	if cfg.WorkerConcurrency != 1 {
		t.Fatalf("WorkerConcurrency mismatch: %d", cfg.WorkerConcurrency)
	}
	if cfg.AlwaysOn() {
		t.Fatalf("default policy should be on demand")
	}
	if cfg.StorageBaseURL != "http://localhost:8080/static" {
		t.Fatalf("StorageBaseURL mismatch: %q", cfg.StorageBaseURL)
	}
}

func TestParseConfigInheritsPortInStorageBaseURL(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("PORT", "1919")
	t.Setenv("STORAGE_BASE_URL", "")

	cfg, err := ParseConfig()
	if err != nil {
		t.Fatalf("ParseConfig returned error: %v", err)
	}
	expected := "http://localhost:1919/static"
	if cfg.StorageBaseURL != expected {
		t.Fatalf("StorageBaseURL mismatch: got %q want %q", cfg.StorageBaseURL, expected)
	}
}

func TestParseConfigRequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("JWT_SECRET", "test-secret")
	if _, err := ParseConfig(); err == nil {
		t.Fatalf("expected error when DATABASE_URL is empty")
	}
}

func TestParseConfigRejectsUnknownPolicy(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("WORKER_POLICY", "sometimes")
	if _, err := ParseConfig(); err == nil {
		t.Fatalf("expected error for unknown worker policy")
	}
}

func TestParseConfigCloudinaryNeedsCredentials(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("UPLOAD_PROVIDER", "cloudinary")
	t.Setenv("CLOUDINARY_CLOUD_NAME", "demo")
	if _, err := ParseConfig(); err == nil {
		t.Fatalf("expected error when cloudinary credentials are missing")
	}
	t.Setenv("CLOUDINARY_API_KEY", "key")
	t.Setenv("CLOUDINARY_API_SECRET", "secret")
	cfg, err := ParseConfig()
	if err != nil {
		t.Fatalf("ParseConfig returned error: %v", err)
	}
	if cfg.UploadProvider != UploadProviderCloudinary {
		t.Fatalf("UploadProvider mismatch: %q", cfg.UploadProvider)
	}
}

func TestParseConfigAlwaysPolicyAndOrigins(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("WORKER_POLICY", "ALWAYS")
	t.Setenv("WORKER_CONCURRENCY", "0")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example,https://b.example")

	cfg, err := ParseConfig()
	if err != nil {
		t.Fatalf("ParseConfig returned error: %v", err)
	}
	if !cfg.AlwaysOn() {
		t.Fatalf("expected always-on policy")
	}
	if cfg.WorkerConcurrency != 1 {
		t.Fatalf("non-positive concurrency should clamp to 1, got %d", cfg.WorkerConcurrency)
	}
	if len(cfg.CORSAllowedOrigins) != 2 || cfg.CORSAllowedOrigins[1] != "https://b.example" {
		t.Fatalf("CORSAllowedOrigins mismatch: %#v", cfg.CORSAllowedOrigins)
	}
}
