package resource

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/Nyukimin/portalclaw/internal/domain/execution"
)

// ErrTimedOut はコマンドが制限時間内に終わらなかったことを示す
var ErrTimedOut = errors.New("timed out")

// CommandRunner は外部コマンドを実行し、結合出力と終了コードを返す
// 起動できなかった場合と制限時間切れの場合のみ error を返す（非ゼロ終了はエラーではない）
// 制限時間切れでも、それまでに得た出力は返す
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) (output []byte, exitCode int, err error)
}

// ExecRunner は os/exec による CommandRunner
type ExecRunner struct {
	Dir string // 作業ディレクトリ（空ならカレント）
}

// Run はコマンドを実行
func (r ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, int, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = r.Dir
	cmd.WaitDelay = time.Second
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	err := cmd.Run()
	if err == nil {
		return buf.Bytes(), 0, nil
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return buf.Bytes(), -1, fmt.Errorf("%w: %w", execution.ErrUnavailable, ErrTimedOut)
	}
	if ctx.Err() != nil {
		return buf.Bytes(), -1, fmt.Errorf("%w: %v", execution.ErrCancelled, ctx.Err())
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return buf.Bytes(), exitErr.ExitCode(), nil
	}
	return buf.Bytes(), -1, fmt.Errorf("%w: %v", execution.ErrUnavailable, err)
}

// ExecOutput はコンテナ内コマンドの結果
type ExecOutput struct {
	Output   string
	ExitCode int  // 制限時間切れなら -1
	TimedOut bool // 制限時間切れで打ち切られた
}

// execResult は runner の戻り値を ExecOutput にまとめる。制限時間切れは結果として返す
func execResult(out []byte, code int, err error) (ExecOutput, error) {
	if errors.Is(err, ErrTimedOut) {
		return ExecOutput{Output: string(out), ExitCode: -1, TimedOut: true}, nil
	}
	if err != nil {
		return ExecOutput{Output: string(out), ExitCode: code}, err
	}
	return ExecOutput{Output: string(out), ExitCode: code}, nil
}

// ContainerInfo はコンテナ一覧の1行
type ContainerInfo struct {
	ID     string `json:"ID"`
	Names  string `json:"Names"`
	Image  string `json:"Image"`
	State  string `json:"State"`
	Status string `json:"Status"`
}

var containerRef = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,127}$`)

// ContainerRuntime はコンテナランタイム CLI（既定は docker）の薄いラッパー
type ContainerRuntime struct {
	binary  string
	timeout time.Duration
	runner  CommandRunner
}

// NewContainerRuntime は新しいContainerRuntimeを作成
func NewContainerRuntime(binary string, timeout time.Duration, runner CommandRunner) *ContainerRuntime {
	if binary == "" {
		binary = "docker"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	return &ContainerRuntime{binary: binary, timeout: timeout, runner: runner}
}

// Exec はコンテナ内でコマンドを実行する。非ゼロ終了と制限時間切れも結果として返す
func (c *ContainerRuntime) Exec(ctx context.Context, container string, argv []string) (ExecOutput, error) {
	if err := validateContainer(container); err != nil {
		return ExecOutput{}, err
	}
	if len(argv) == 0 {
		return ExecOutput{}, fmt.Errorf("%w: no command given", execution.ErrInvalidArguments)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	args := append([]string{"exec", container}, argv...)
	return execResult(c.runner.Run(ctx, c.binary, args...))
}

// List は実行中を含む全コンテナを返す
func (c *ContainerRuntime) List(ctx context.Context) ([]ContainerInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	out, code, err := c.runner.Run(ctx, c.binary, "ps", "--all", "--format", "{{json .}}")
	if err != nil {
		return nil, err
	}
	if code != 0 {
		return nil, fmt.Errorf("%w: %s ps exited %d: %s", execution.ErrUnavailable, c.binary, code, strings.TrimSpace(string(out)))
	}
	return parseContainers(out)
}

// Logs はコンテナログの末尾 tail 行を返す
func (c *ContainerRuntime) Logs(ctx context.Context, container string, tail int) (string, error) {
	if err := validateContainer(container); err != nil {
		return "", err
	}
	if tail <= 0 {
		tail = 100
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	out, code, err := c.runner.Run(ctx, c.binary, "logs", "--tail", strconv.Itoa(tail), container)
	if err != nil {
		return "", err
	}
	if code != 0 {
		text := strings.TrimSpace(string(out))
		if strings.Contains(strings.ToLower(text), "no such container") {
			return "", fmt.Errorf("%w: container %s", execution.ErrNotFound, container)
		}
		return "", fmt.Errorf("%w: %s logs exited %d: %s", execution.ErrUnavailable, c.binary, code, text)
	}
	return string(out), nil
}

func validateContainer(container string) error {
	if !containerRef.MatchString(container) {
		return fmt.Errorf("%w: invalid container reference %q", execution.ErrInvalidArguments, container)
	}
	return nil
}

func parseContainers(output []byte) ([]ContainerInfo, error) {
	lines := strings.Split(strings.TrimSpace(string(output)), "\n")
	containers := make([]ContainerInfo, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var info ContainerInfo
		if err := json.Unmarshal([]byte(line), &info); err != nil {
			return nil, fmt.Errorf("parse container list: %w", err)
		}
		containers = append(containers, info)
	}
	return containers, nil
}
