package feeders

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type poolSection struct {
	Workers   int    `yaml:"workers" toml:"workers" env:"WORKERS"`
	QueueName string `yaml:"queueName" toml:"queue_name" env:"QUEUE_NAME"`
}

type appConfig struct {
	Name    string        `yaml:"name" toml:"name" env:"NAME"`
	Debug   bool          `yaml:"debug" toml:"debug" env:"DEBUG"`
	Timeout time.Duration `yaml:"timeout" toml:"timeout" env:"TIMEOUT"`
	Pool    poolSection   `yaml:"pool" toml:"pool" env:"POOL"`
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestYamlFeeder(t *testing.T) {
	path := writeFile(t, "app.yaml", `
name: worker-service
debug: true
pool:
  workers: 12
  queueName: jobs
`)

	var cfg appConfig
	require.NoError(t, NewYamlFeeder(path).Feed(&cfg))

	assert.Equal(t, "worker-service", cfg.Name)
	assert.True(t, cfg.Debug)
	assert.Equal(t, 12, cfg.Pool.Workers)
	assert.Equal(t, "jobs", cfg.Pool.QueueName)
}

func TestYamlFeederMissingFile(t *testing.T) {
	var cfg appConfig
	err := NewYamlFeeder(filepath.Join(t.TempDir(), "absent.yaml")).Feed(&cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read yaml file")
}

func TestYamlFeederMalformed(t *testing.T) {
	path := writeFile(t, "bad.yaml", "name: [unclosed")

	var cfg appConfig
	err := NewYamlFeeder(path).Feed(&cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse yaml file")
}

func TestTomlFeeder(t *testing.T) {
	path := writeFile(t, "app.toml", `
name = "worker-service"
debug = true

[pool]
workers = 6
queue_name = "jobs"
`)

	var cfg appConfig
	require.NoError(t, NewTomlFeeder(path).Feed(&cfg))

	assert.Equal(t, "worker-service", cfg.Name)
	assert.True(t, cfg.Debug)
	assert.Equal(t, 6, cfg.Pool.Workers)
	assert.Equal(t, "jobs", cfg.Pool.QueueName)
}

func TestTomlFeederMalformed(t *testing.T) {
	path := writeFile(t, "bad.toml", "name = ")

	var cfg appConfig
	err := NewTomlFeeder(path).Feed(&cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse toml file")
}

func TestEnvFeeder(t *testing.T) {
	t.Setenv("APP_NAME", "env-service")
	t.Setenv("APP_DEBUG", "true")
	t.Setenv("APP_TIMEOUT", "1m30s")
	t.Setenv("APP_POOL_WORKERS", "9")
	t.Setenv("APP_POOL_QUEUE_NAME", "env-jobs")

	var cfg appConfig
	require.NoError(t, NewEnvFeeder("app").Feed(&cfg))

	assert.Equal(t, "env-service", cfg.Name)
	assert.True(t, cfg.Debug)
	assert.Equal(t, 90*time.Second, cfg.Timeout)
	assert.Equal(t, 9, cfg.Pool.Workers)
	assert.Equal(t, "env-jobs", cfg.Pool.QueueName)
}

func TestEnvFeederUnsetVariablesKeepValues(t *testing.T) {
	cfg := appConfig{Name: "preset", Pool: poolSection{Workers: 3}}
	require.NoError(t, NewEnvFeeder("veld_feeder_test_unset").Feed(&cfg))

	assert.Equal(t, "preset", cfg.Name)
	assert.Equal(t, 3, cfg.Pool.Workers)
}

func TestEnvFeederInvalidDuration(t *testing.T) {
	t.Setenv("APP_TIMEOUT", "soon")

	var cfg appConfig
	err := NewEnvFeeder("app").Feed(&cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot parse duration")
}

func TestEnvFeederRejectsNonPointer(t *testing.T) {
	var cfg appConfig
	assert.ErrorIs(t, NewEnvFeeder("app").Feed(cfg), ErrEnvInvalidStructure)
	assert.ErrorIs(t, NewEnvFeeder("app").Feed(nil), ErrEnvInvalidStructure)
}
