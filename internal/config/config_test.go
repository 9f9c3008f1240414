package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":5000", cfg.Server.Addr)
	assert.Equal(t, "bsub make", cfg.Scheduler.SubmitCommand)
	assert.Equal(t, "bjobs -a", cfg.Scheduler.ListCommand)
	assert.Equal(t, 10*time.Second, cfg.Scheduler.SubmitTimeout)
	assert.Equal(t, "xrun.log", cfg.Workspace.LogFile)
	assert.Equal(t, 3, cfg.Tail.Attempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Tail.Delay)
	assert.Equal(t, "memory", cfg.Store.Backend)
}

func TestLoadYAMLOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "regrun.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: ":8088"
  poll_interval: 30s
scheduler:
  backend: docker
  match: token
  submit_timeout: 20s
  docker:
    image: sim-runner:2024.1
    command: ["make", "run"]
store:
  backend: etcd
  etcd_endpoints: ["etcd-0:2379", "etcd-1:2379"]
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":8088", cfg.Server.Addr)
	assert.Equal(t, 30*time.Second, cfg.Server.PollInterval)
	assert.Equal(t, "docker", cfg.Scheduler.Backend)
	assert.Equal(t, "token", cfg.Scheduler.Match)
	assert.Equal(t, 20*time.Second, cfg.Scheduler.SubmitTimeout)
	assert.Equal(t, 10*time.Second, cfg.Scheduler.ListTimeout, "unset keys keep defaults")
	assert.Equal(t, []string{"make", "run"}, cfg.Scheduler.Docker.Command)
	assert.Equal(t, []string{"etcd-0:2379", "etcd-1:2379"}, cfg.Store.EtcdEndpoints)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("REGRUN_ADDR", ":9000")
	t.Setenv("REGRUN_SUBMIT_COMMAND", "bsub -m titan06 make")
	t.Setenv("REGRUN_ETCD_ENDPOINTS", "a:2379, b:2379,")
	t.Setenv("REGRUN_PARALLELISM", "2")
	t.Setenv("REGRUN_POLL_INTERVAL", "5s")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, "bsub -m titan06 make", cfg.Scheduler.SubmitCommand)
	assert.Equal(t, []string{"a:2379", "b:2379"}, cfg.Store.EtcdEndpoints)
	assert.Equal(t, 2, cfg.Scheduler.Parallelism)
	assert.Equal(t, 5*time.Second, cfg.Server.PollInterval)
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Setenv("REGRUN_PARALLELISM", "many")
	_, err := Load("")
	assert.ErrorContains(t, err, "REGRUN_PARALLELISM")
}

func TestValidate(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.Scheduler.Backend = "slurm"
	cfg.Scheduler.Match = "regex"
	cfg.Workspace.LogFile = "/abs/xrun.log"
	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorContains(t, err, "scheduler.backend")
	assert.ErrorContains(t, err, "scheduler.match")
	assert.ErrorContains(t, err, "workspace.log_file")

	assert.NoError(t, Default().Validate())
}
