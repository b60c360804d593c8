package resource

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Nyukimin/portalclaw/internal/domain/execution"
)

// Shell はワークスペースをカレントディレクトリとして sh スクリプトを実行する
type Shell struct {
	dir     string
	timeout time.Duration
	runner  CommandRunner
}

// NewShell は新しいShellを作成
func NewShell(dir string, timeout time.Duration, runner CommandRunner) *Shell {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if runner == nil {
		runner = ExecRunner{Dir: dir}
	}
	return &Shell{dir: dir, timeout: timeout, runner: runner}
}

// Run はスクリプトを実行し、結合出力と終了コードを返す
// 制限時間切れは TimedOut を立てて、それまでの出力とともに返す
func (s *Shell) Run(ctx context.Context, script string) (ExecOutput, error) {
	if strings.TrimSpace(script) == "" {
		return ExecOutput{}, fmt.Errorf("%w: empty script", execution.ErrInvalidArguments)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	return execResult(s.runner.Run(ctx, "sh", "-c", script))
}
