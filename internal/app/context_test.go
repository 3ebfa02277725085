package app

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/datallboy/mediagrab/internal/infra/config"
	"github.com/datallboy/mediagrab/internal/infra/logger"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{}
	cfg.Download.OutDir = filepath.Join(dir, "media")
	cfg.Download.Workers = 2
	cfg.Store.Driver = "sqlite"
	cfg.Store.SQLitePath = filepath.Join(dir, "mediagrab.db")
	cfg.Publish.BucketURL = "mem://"
	return cfg
}

func TestBuildWiresPipeline(t *testing.T) {
	a := NewContext(testConfig(t), logger.Nop())
	if err := a.Build(context.Background(), BuildOptions{}); err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer a.Close()

	if a.Store == nil || a.Client == nil || a.Runner == nil || a.Jobs == nil {
		t.Fatalf("pipeline not wired: %+v", a)
	}
	if a.Publisher == nil {
		t.Error("Expected publisher for configured bucket")
	}

	jobs, err := a.Jobs.List(context.Background(), 5)
	if err != nil || len(jobs) != 0 {
		t.Errorf("Expected empty history, got %v %v", jobs, err)
	}
}

func TestBuildRejectsBadStore(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store.Driver = "cassandra"

	a := NewContext(cfg, logger.Nop())
	if err := a.Build(context.Background(), BuildOptions{}); err == nil {
		t.Error("Expected error for unknown store driver")
	}
	if err := a.Close(); err != nil {
		t.Errorf("Close after failed build: %v", err)
	}
}
