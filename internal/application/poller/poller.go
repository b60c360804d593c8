package poller

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Nyukimin/portalclaw/internal/application/dispatcher"
	"github.com/Nyukimin/portalclaw/internal/application/orchestrator"
	"github.com/Nyukimin/portalclaw/internal/domain/directive"
	"github.com/Nyukimin/portalclaw/internal/domain/execution"
	"github.com/Nyukimin/portalclaw/internal/domain/mode"
	"github.com/Nyukimin/portalclaw/internal/domain/task"
	"github.com/Nyukimin/portalclaw/internal/infrastructure/metrics"
)

// TurnRunner はタスクの実行先（ConversationOrchestrator）
type TurnRunner interface {
	HandleTurn(ctx context.Context, req orchestrator.TurnRequest) (orchestrator.TurnResponse, error)
	Execute(ctx context.Context, text string, scope dispatcher.Scope) (string, []execution.Result)
}

// Options はポーラーの設定
type Options struct {
	Interval    time.Duration      // 周回の間隔
	Mode        mode.OperatingMode // モード未指定タスクの動作モード
	TaskTimeout time.Duration      // 1タスクの実行時間の上限（0 なら無制限）
	Channel     string
}

// Poller はタスク一覧を一定間隔で走査し、pending のタスクを実行する
// 一覧の更新は Repository.Update を通して直列化される
type Poller struct {
	repo   task.Repository
	runner TurnRunner
	opts   Options
	logger *zap.Logger
	now    func() time.Time
}

// NewPoller は新しいPollerを作成
func NewPoller(repo task.Repository, runner TurnRunner, opts Options, logger *zap.Logger) *Poller {
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Second
	}
	if opts.Channel == "" {
		opts.Channel = "task"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{
		repo:   repo,
		runner: runner,
		opts:   opts,
		logger: logger.Named("poller"),
		now:    time.Now,
	}
}

// Run は ctx が終了するまで RunOnce を繰り返す
// 1周の失敗はログに残して次の周回へ進む
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Info("poller.start", zap.Duration("interval", p.opts.Interval), zap.String("mode", p.opts.Mode.String()))

	ticker := time.NewTicker(p.opts.Interval)
	defer ticker.Stop()

	for {
		if _, err := p.RunOnce(ctx); err != nil && ctx.Err() == nil {
			p.logger.Error("poller.cycle_failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			p.logger.Info("poller.stop")
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce は pending のタスクを一覧の順にすべて処理し、処理件数を返す
func (p *Poller) RunOnce(ctx context.Context) (int, error) {
	tasks, err := p.repo.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list tasks: %w", err)
	}

	processed := 0
	for _, t := range tasks {
		if ctx.Err() != nil {
			break
		}
		if t.Status() != task.StatusPending {
			continue
		}
		if p.process(ctx, t) {
			processed++
		}
	}
	if processed > 0 {
		p.logger.Info("poller.cycle", zap.Int("processed", processed))
	}
	return processed, nil
}

// process は1タスクを running にしてから実行し、結果を保存する
func (p *Poller) process(ctx context.Context, t task.Task) bool {
	log := p.logger.With(zap.String("task_id", t.ID().String()))

	running, err := p.transition(ctx, t.ID(), func(cur task.Task) (task.Task, error) {
		return cur.Start(p.now())
	})
	if err != nil {
		// 他のワーカーが先に取った場合もここに来る。次の周回で再評価される
		log.Warn("poller.start_failed", zap.Error(err))
		return false
	}

	response, runErr := p.execute(ctx, running)

	// 結果の保存は実行中のキャンセルに影響されない
	saveCtx := context.WithoutCancel(ctx)
	status := task.StatusCompleted
	_, err = p.transition(saveCtx, t.ID(), func(cur task.Task) (task.Task, error) {
		if runErr != nil {
			status = task.StatusFailed
			return cur.Fail(runErr.Error(), p.now())
		}
		return cur.Complete(response, p.now())
	})
	if err != nil {
		log.Error("poller.persist_failed", zap.Error(err))
		return true
	}

	metrics.RecordTask(string(status))
	if runErr != nil {
		log.Warn("poller.task_failed", zap.Error(runErr))
	} else {
		log.Info("poller.task_completed", zap.Int("response_len", len(response)))
	}
	return true
}

// execute は指示だけのタスクを直接実行し、それ以外は会話ターンとして処理する
func (p *Poller) execute(ctx context.Context, t task.Task) (string, error) {
	if p.opts.TaskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.TaskTimeout)
		defer cancel()
	}

	m, ok := t.Mode()
	if !ok {
		m = p.opts.Mode
	}
	sessionID := t.SessionID()
	if sessionID == "" {
		sessionID = t.ID().String()
	}

	if directive.IsCommandOnly(t.Command()) {
		_, results := p.runner.Execute(ctx, t.Command(), dispatcher.Scope{SessionID: sessionID, Mode: m})
		return commandResponse(results)
	}

	resp, err := p.runner.HandleTurn(ctx, orchestrator.TurnRequest{
		SessionID: sessionID,
		Channel:   p.opts.Channel,
		Message:   t.Command(),
		Mode:      &m,
	})
	if err != nil {
		return "", err
	}
	return resp.Reply, nil
}

// commandResponse は指示の結果をタスクの応答にする
// すべて失敗した場合だけタスクを失敗とする
func commandResponse(results []execution.Result) (string, error) {
	parts := make([]string, 0, len(results))
	failures := make([]string, 0, len(results))
	for _, r := range results {
		if r.Success {
			parts = append(parts, r.Output)
			continue
		}
		parts = append(parts, r.Formatted)
		failures = append(failures, r.Error)
	}
	if len(results) > 0 && len(failures) == len(results) {
		return "", errors.New(strings.Join(failures, "; "))
	}
	return strings.Join(parts, "\n\n"), nil
}

// transition は id のタスクに fn を適用し、一覧全体を保存する
func (p *Poller) transition(ctx context.Context, id task.ID, fn func(task.Task) (task.Task, error)) (task.Task, error) {
	var updated task.Task
	err := p.repo.Update(ctx, func(tasks []task.Task) ([]task.Task, error) {
		for i, cur := range tasks {
			if !cur.ID().Equals(id) {
				continue
			}
			next, err := fn(cur)
			if err != nil {
				return nil, err
			}
			tasks[i] = next
			updated = next
			return tasks, nil
		}
		return nil, fmt.Errorf("%w: %s", task.ErrTaskNotFound, id)
	})
	return updated, err
}
