package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Nyukimin/portalclaw/internal/domain/audit"
	"github.com/Nyukimin/portalclaw/internal/domain/directive"
	"github.com/Nyukimin/portalclaw/internal/domain/execution"
	"github.com/Nyukimin/portalclaw/internal/domain/mode"
	"github.com/Nyukimin/portalclaw/internal/domain/permission"
	"github.com/Nyukimin/portalclaw/internal/infrastructure/metrics"
)

// Scope は1回のディスパッチの文脈
type Scope struct {
	SessionID string
	ModelID   string
	Mode      mode.OperatingMode
}

// Handler は1種類の指示を実行する
// アダプタの失敗は error で返し、Dispatcher が失敗結果に変換する
type Handler func(ctx context.Context, d directive.Directive, s Scope) (execution.Result, error)

// Dispatcher は指示を権限確認・実行・監査記録する
// 1回の Dispatch につき監査記録はちょうど1件
type Dispatcher struct {
	gate     *permission.Gate
	handlers map[string]Handler
	recorder audit.Recorder
	logger   *zap.Logger
	now      func() time.Time
}

// NewDispatcher は新しいDispatcherを作成
func NewDispatcher(gate *permission.Gate, adapters Adapters, recorder audit.Recorder, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{
		gate:     gate,
		recorder: recorder,
		logger:   logger.Named("dispatcher"),
		now:      time.Now,
	}
	d.handlers = newHandlerTable(adapters)
	return d
}

// Dispatch は指示を1件実行する。失敗は結果として返り、panic しない
func (d *Dispatcher) Dispatch(ctx context.Context, dir directive.Directive, scope Scope) execution.Result {
	start := d.now()

	var (
		result execution.Result
		status string
	)
	switch {
	case dir.Name == directive.NameBatch || !d.gate.Known(dir.Name):
		result = execution.Rejected(dir.Name,
			fmt.Errorf("%w: @%s", execution.ErrUnknownCommand, dir.Name),
			fmt.Sprintf("Unknown command: @%s", dir.Name))
		status = "unknown"
	case !d.gate.Allow(dir.Name, scope.Mode):
		result = execution.Rejected(dir.Name,
			fmt.Errorf("%w: @%s in %s mode", execution.ErrPermissionDenied, dir.Name, scope.Mode),
			d.gate.Denial(dir.Name, scope.Mode))
		status = "denied"
		d.logger.Info("dispatch.denied",
			zap.String("directive", dir.Name),
			zap.String("mode", scope.Mode.String()),
			zap.String("session_id", scope.SessionID))
	default:
		result = d.run(ctx, dir, scope)
		status = "success"
		if !result.Success {
			status = "error"
		}
	}
	result.Name = dir.Name

	elapsed := d.now().Sub(start)
	d.record(ctx, dir, scope, result, start)
	metrics.RecordDirective(dir.Name, status, elapsed)

	d.logger.Debug("dispatch.complete",
		zap.String("directive", dir.Name),
		zap.String("status", status),
		zap.Duration("elapsed", elapsed))
	return result
}

// DispatchAll は指示を出現順に1件ずつ実行する
// ctx が終了したら残りの指示は実行せず、中断として結果に含める
func (d *Dispatcher) DispatchAll(ctx context.Context, dirs []directive.Directive, scope Scope) []execution.Result {
	results := make([]execution.Result, 0, len(dirs))
	for _, dir := range dirs {
		if err := ctx.Err(); err != nil {
			results = append(results, execution.Failed(dir.Name, fmt.Sprintf("@%s skipped: %v", dir.Name, execution.ErrCancelled)))
			continue
		}
		results = append(results, d.Dispatch(ctx, dir, scope))
	}
	return results
}

func (d *Dispatcher) run(ctx context.Context, dir directive.Directive, scope Scope) (result execution.Result) {
	h, ok := d.handlers[dir.Name]
	if !ok {
		return execution.FromError(dir.Name, fmt.Errorf("%w: no adapter configured for @%s", execution.ErrUnavailable, dir.Name))
	}

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("dispatch.panic", zap.String("directive", dir.Name), zap.Any("panic", r))
			result = execution.Failed(dir.Name, fmt.Sprintf("@%s failed: internal error", dir.Name))
		}
	}()

	res, err := h(ctx, dir, scope)
	if err != nil {
		if errors.Is(err, execution.ErrInvalidArguments) {
			return execution.Failed(dir.Name, fmt.Sprintf("@%s: %v", dir.Name, err))
		}
		d.logger.Warn("dispatch.adapter_error", zap.String("directive", dir.Name), zap.Error(err))
		return execution.FromError(dir.Name, err)
	}
	return res
}

func (d *Dispatcher) record(ctx context.Context, dir directive.Directive, scope Scope, result execution.Result, at time.Time) {
	if d.recorder == nil {
		return
	}
	rec := audit.Record{
		SessionID: scope.SessionID,
		ModelID:   scope.ModelID,
		Mode:      scope.Mode,
		Directive: dir.Text(),
		Name:      dir.Name,
		Category:  CategoryOf(dir.Name),
		Status:    audit.StatusSuccess,
		Output:    result.Output,
		CreatedAt: at,
	}
	if !result.Success {
		rec.Status = audit.StatusError
		rec.Error = result.Error
	}

	// 監査の書き込み失敗はターンを止めない
	if err := d.recorder.AppendRecord(context.WithoutCancel(ctx), rec); err != nil {
		d.logger.Error("dispatch.audit_failed",
			zap.String("directive", dir.Name),
			zap.String("session_id", scope.SessionID),
			zap.Error(err))
	}
}

// CategoryOf は指示のログカテゴリを返す
func CategoryOf(name string) audit.Category {
	if name == directive.NameUpdateAgent {
		return audit.CategoryConfig
	}
	return audit.CategoryCommands
}
