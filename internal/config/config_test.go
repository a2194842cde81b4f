package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leafsii/rediscmd/pkg/kv"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "redis.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadCluster(t *testing.T) {
	path := writeConfig(t, `
nodes = ["redis://10.0.0.1:7000", "10.0.0.2:7001"]
password = "secret"

[worker]
stream = "jobs"
group = "resizers"
consumer = "w1"
claim_min_idle = "2m"
claim_interval = "10s"
delete_on_ack = true
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"redis://10.0.0.1:7000", "10.0.0.2:7001"}, cfg.Nodes)
	assert.Equal(t, "secret", cfg.Password)
	assert.Equal(t, "redis", cfg.Backend)
	assert.Equal(t, "dev", cfg.Env)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, 5*time.Second, cfg.Pool.DialTimeout)

	assert.Equal(t, "jobs", cfg.Worker.Stream)
	assert.Equal(t, "resizers", cfg.Worker.Group)
	assert.Equal(t, "w1", cfg.Worker.Consumer)
	assert.Equal(t, 2*time.Minute, cfg.Worker.ClaimMinIdle)
	assert.Equal(t, 10*time.Second, cfg.Worker.ClaimInterval)
	assert.True(t, cfg.Worker.DeleteOnAck)

	kvCfg := cfg.KV(nil, nil)
	mode, err := kvCfg.ResolveMode()
	require.NoError(t, err)
	assert.Equal(t, kv.ModeCluster, mode)
	assert.Equal(t, kv.BackendRedis, kvCfg.Backend)
}

func TestLoadSingle(t *testing.T) {
	path := writeConfig(t, `
node = "redis://localhost:6379/0"
pool_size = 16
read_timeout = "2s"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "redis://localhost:6379/0", cfg.Node)
	assert.Empty(t, cfg.Nodes)
	assert.Equal(t, 16, cfg.Pool.PoolSize)
	assert.Equal(t, 2*time.Second, cfg.Pool.ReadTimeout)
	assert.Equal(t, "events", cfg.Worker.Stream)
	assert.Equal(t, 60*time.Second, cfg.Worker.ClaimMinIdle)
	assert.NotEmpty(t, cfg.Worker.Consumer)

	mode, err := cfg.KV(nil, nil).ResolveMode()
	require.NoError(t, err)
	assert.Equal(t, kv.ModeSingle, mode)
}

func TestLoadEnvOverride(t *testing.T) {
	path := writeConfig(t, `
node = "redis://localhost:6379/0"

[worker]
stream = "from-file"
`)
	t.Setenv("REDISCMD_NODE", "redis://override:6379/1")
	t.Setenv("REDISCMD_WORKER_STREAM", "from-env")
	t.Setenv("REDISCMD_HTTP_ADDR", ":9090")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "redis://override:6379/1", cfg.Node)
	assert.Equal(t, "from-env", cfg.Worker.Stream)
	assert.Equal(t, ":9090", cfg.HTTPAddr)
}

func TestLoadEnvNodesList(t *testing.T) {
	path := writeConfig(t, `backend = "redis"`)
	t.Setenv("REDISCMD_NODES", "10.0.0.1:7000, 10.0.0.2:7001")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.1:7000", "10.0.0.2:7001"}, cfg.Nodes)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	assert.Error(t, err)

	_, err = Load("")
	assert.Error(t, err)
}

func TestLoadMalformedFile(t *testing.T) {
	path := writeConfig(t, `nodes = [unterminated`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestMustLoadPanics(t *testing.T) {
	assert.Panics(t, func() {
		MustLoad(filepath.Join(t.TempDir(), "absent.toml"))
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{"redis without addresses", `backend = "redis"`, true},
		{"memory without addresses", `backend = "memory"`, false},
		{"unknown backend", `backend = "etcd"`, true},
		{"unknown mode", "node = \"localhost:6379\"\nmode = \"sentinel\"", true},
		{"cluster mode without nodes", "node = \"localhost:6379\"\nmode = \"cluster\"", true},
		{"single mode with node", "node = \"localhost:6379\"\nmode = \"single\"", false},
		{"negative pool", "node = \"localhost:6379\"\npool_size = -1", true},
		{"zero claim interval", "node = \"localhost:6379\"\n[worker]\nclaim_interval = \"0s\"", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDotEnvNextToConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "redis.toml")
	require.NoError(t, os.WriteFile(path, []byte(`backend = "memory"`), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("REDISCMD_ENV=prod\n"), 0o600))

	// Register cleanup of the variable gotenv is about to set
	t.Setenv("REDISCMD_ENV", "")
	os.Unsetenv("REDISCMD_ENV")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.True(t, cfg.IsProd())
}
