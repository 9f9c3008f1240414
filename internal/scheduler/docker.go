package scheduler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"go.uber.org/zap"
)

// CaseLabel 标记由 regrun 启动的容器，值为用例目录
const CaseLabel = "regrun.case"

const containerWorkDir = "/workspace/case"

// dockerAPI 是 Docker 用到的 client 方法子集
type dockerAPI interface {
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig,
		networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options types.ContainerStartOptions) error
	ContainerList(ctx context.Context, options types.ContainerListOptions) ([]types.Container, error)
	ContainerRemove(ctx context.Context, containerID string, options types.ContainerRemoveOptions) error
}

// DockerOptions configures the container backend.
type DockerOptions struct {
	Image         string
	Command       []string
	BuildFile     string
	SubmitTimeout time.Duration
	ListTimeout   time.Duration
}

// Docker runs each case as a container on the local daemon. A container that
// has exited is removed automatically and so disappears from the listing.
type Docker struct {
	cli    dockerAPI
	opts   DockerOptions
	logger *zap.Logger
}

// NewDocker 自动从环境变量或默认路径连接本地 Docker
func NewDocker(opts DockerOptions, logger *zap.Logger) (*Docker, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	return newDocker(cli, opts, logger), nil
}

func newDocker(cli dockerAPI, opts DockerOptions, logger *zap.Logger) *Docker {
	if opts.Image == "" {
		opts.Image = "alpine:latest"
	}
	if len(opts.Command) == 0 {
		opts.Command = []string{"make"}
	}
	if opts.BuildFile == "" {
		opts.BuildFile = "Makefile"
	}
	if opts.SubmitTimeout <= 0 {
		opts.SubmitTimeout = 10 * time.Second
	}
	if opts.ListTimeout <= 0 {
		opts.ListTimeout = 10 * time.Second
	}
	return &Docker{cli: cli, opts: opts, logger: logger.Named("docker")}
}

func (d *Docker) Submit(ctx context.Context, dir string) (string, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return "", &SubmissionError{Dir: dir, Err: err}
	}
	buildFile := filepath.Join(absDir, d.opts.BuildFile)
	if info, err := os.Stat(buildFile); err != nil || info.IsDir() {
		return "", &SubmissionError{Dir: dir, Err: fmt.Errorf("%w: %s", ErrBuildFileMissing, buildFile)}
	}

	ctx, cancel := context.WithTimeout(ctx, d.opts.SubmitTimeout)
	defer cancel()

	// 1. 创建容器，用例目录挂载为工作目录，日志直接写回宿主机
	resp, err := d.cli.ContainerCreate(ctx, &container.Config{
		Image:      d.opts.Image,
		Cmd:        d.opts.Command,
		WorkingDir: containerWorkDir,
		Labels:     map[string]string{CaseLabel: absDir},
		Tty:        false,
	}, &container.HostConfig{
		Binds:      []string{absDir + ":" + containerWorkDir},
		AutoRemove: true,
	}, nil, nil, "")
	if err != nil {
		return "", &SubmissionError{Dir: dir, Err: fmt.Errorf("create container: %w", err)}
	}

	// 2. 启动容器
	if err := d.cli.ContainerStart(ctx, resp.ID, types.ContainerStartOptions{}); err != nil {
		// AutoRemove 只对启动过的容器生效，这里手动清理
		d.remove(ctx, resp.ID)
		return "", &SubmissionError{Dir: dir, Err: fmt.Errorf("start container: %w", err)}
	}

	jobID := shortID(resp.ID)
	d.logger.Info("container started", zap.String("dir", absDir), zap.String("job_id", jobID))
	return jobID, nil
}

func (d *Docker) remove(ctx context.Context, id string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.opts.SubmitTimeout)
	defer cancel()
	if err := d.cli.ContainerRemove(ctx, id, types.ContainerRemoveOptions{Force: true}); err != nil {
		d.logger.Warn("remove unstarted container", zap.String("id", shortID(id)), zap.Error(err))
	}
}

// List renders the ids of running regrun containers one per line.
func (d *Docker) List(ctx context.Context) (Listing, error) {
	ctx, cancel := context.WithTimeout(ctx, d.opts.ListTimeout)
	defer cancel()

	containers, err := d.cli.ContainerList(ctx, types.ContainerListOptions{
		Filters: filters.NewArgs(filters.Arg("label", CaseLabel)),
	})
	if err != nil {
		return Listing{}, &ListingError{Err: err}
	}

	lines := make([]string, 0, len(containers))
	for _, c := range containers {
		lines = append(lines, shortID(c.ID))
	}
	sort.Strings(lines)
	return NewListing(strings.Join(lines, "\n")), nil
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
