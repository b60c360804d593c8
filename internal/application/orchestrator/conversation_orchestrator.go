package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Nyukimin/portalclaw/internal/application/dispatcher"
	"github.com/Nyukimin/portalclaw/internal/domain/audit"
	"github.com/Nyukimin/portalclaw/internal/domain/directive"
	"github.com/Nyukimin/portalclaw/internal/domain/execution"
	"github.com/Nyukimin/portalclaw/internal/domain/llm"
	"github.com/Nyukimin/portalclaw/internal/domain/mode"
	"github.com/Nyukimin/portalclaw/internal/domain/session"
	"github.com/Nyukimin/portalclaw/internal/infrastructure/metrics"
)

var (
	// ErrTurnFailed は上流モデルの失敗でターンが中断された場合のエラー
	ErrTurnFailed = errors.New("turn failed")
	// ErrEmptyMessage は空メッセージのエラー
	ErrEmptyMessage = errors.New("message is empty")
)

// TurnRequest は1ターンの入力
type TurnRequest struct {
	Message   string
	SessionID string              // 空なら新規セッション
	Channel   string              // http/console/task
	Mode      *mode.OperatingMode // 指定時はこのターンだけ適用
	ModelID   string              // 指定時はセッションの既定モデルを更新
}

// TurnResponse は1ターンの出力
type TurnResponse struct {
	SessionID   string
	Reply       string
	Mode        mode.OperatingMode
	ModelID     string
	PreResults  []execution.Result
	PostResults []execution.Result
	Usage       llm.Usage
}

// Completer は上流モデルの呼び出し
type Completer interface {
	Complete(ctx context.Context, req llm.Request) (llm.Response, error)
}

// DirectiveRunner は指示の一括実行
type DirectiveRunner interface {
	DispatchAll(ctx context.Context, dirs []directive.Directive, scope dispatcher.Scope) []execution.Result
}

// UsageRecorder はトークン使用量の記録先
type UsageRecorder interface {
	RecordUsage(ctx context.Context, u audit.Usage) error
}

// AllowedLister は動作モードで使える指示名を返す
type AllowedLister interface {
	Allowed(m mode.OperatingMode) []string
}

// Config はオーケストレーターの設定
type Config struct {
	BasePrompt   string
	DefaultMode  mode.OperatingMode
	DefaultModel string
	HistoryTurns int
}

// Deps はオーケストレーターの依存
type Deps struct {
	Sessions session.SessionRepository
	Runner   DirectiveRunner
	Model    Completer
	Turns    audit.TurnStore
	Usage    UsageRecorder
	Events   audit.EventStore
	Gate     AllowedLister
}

// ConversationOrchestrator は1ターンの処理を統括する
// 前処理（ユーザー発言の指示）→ 上流モデル → 後処理（応答中の指示）→ 永続化
type ConversationOrchestrator struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
	now    func() time.Time
}

// NewConversationOrchestrator は新しいConversationOrchestratorを作成
func NewConversationOrchestrator(deps Deps, cfg Config, logger *zap.Logger) *ConversationOrchestrator {
	if cfg.HistoryTurns <= 0 {
		cfg.HistoryTurns = 20
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConversationOrchestrator{
		deps:   deps,
		cfg:    cfg,
		logger: logger.Named("orchestrator"),
		now:    time.Now,
	}
}

// HandleTurn はユーザーメッセージを1ターン処理する
// 指示の失敗はターンを止めない。上流の失敗は ErrTurnFailed で、会話ターンは保存しない
func (o *ConversationOrchestrator) HandleTurn(ctx context.Context, req TurnRequest) (TurnResponse, error) {
	start := o.now()
	if strings.TrimSpace(req.Message) == "" {
		return TurnResponse{}, ErrEmptyMessage
	}

	// 1. セッションを解決
	sess, err := o.resolveSession(ctx, req.SessionID, req.Channel)
	if err != nil {
		return TurnResponse{}, fmt.Errorf("failed to resolve session: %w", err)
	}
	turnMode := sess.Mode()
	if req.Mode != nil {
		turnMode = *req.Mode
	}
	if req.ModelID != "" {
		sess.SetModel(req.ModelID)
	}
	modelID := sess.ModelID()
	if modelID == "" {
		modelID = o.cfg.DefaultModel
	}
	scope := dispatcher.Scope{SessionID: sess.ID(), ModelID: modelID, Mode: turnMode}

	// 2. 前処理：ユーザー発言中の指示を実行し、結果をメッセージに付加
	pre := o.deps.Runner.DispatchAll(ctx, directive.Parse(req.Message), scope)
	enriched := appendResults(req.Message, render(pre))

	// 3. 上流モデル呼び出し
	history, err := o.history(ctx, sess.ID())
	if err != nil {
		o.logger.Warn("turn.history_unavailable", zap.String("session_id", sess.ID()), zap.Error(err))
	}
	resp, err := o.deps.Model.Complete(ctx, llm.Request{
		System:  BuildSystemPrompt(o.cfg.BasePrompt, turnMode, o.allowed(turnMode)),
		History: history,
		Message: enriched,
		ModelID: modelID,
	})
	if err != nil {
		metrics.RecordTurn("failed")
		o.logger.Error("turn.upstream_failed",
			zap.String("session_id", sess.ID()),
			zap.Int("pre_directives", len(pre)),
			zap.Error(err))
		return TurnResponse{}, fmt.Errorf("%w: %w", ErrTurnFailed, err)
	}
	if resp.ModelID != "" {
		scope.ModelID = resp.ModelID
	}

	// 4. 後処理：応答中の指示を実行し、結果を応答に付加
	post := o.deps.Runner.DispatchAll(ctx, directive.Parse(resp.Text), scope)
	reply := appendResults(resp.Text, render(post))

	// 5. 永続化（失敗はログのみ）
	o.persist(ctx, sess, enriched, reply, scope.ModelID, resp.Usage)

	metrics.RecordTurn("ok")
	o.logger.Info("turn.complete",
		zap.String("session_id", sess.ID()),
		zap.String("mode", turnMode.String()),
		zap.String("model", scope.ModelID),
		zap.Int("pre_directives", len(pre)),
		zap.Int("post_directives", len(post)),
		zap.Duration("elapsed", o.now().Sub(start)))

	return TurnResponse{
		SessionID:   sess.ID(),
		Reply:       reply,
		Mode:        turnMode,
		ModelID:     scope.ModelID,
		PreResults:  pre,
		PostResults: post,
		Usage:       resp.Usage,
	}, nil
}

// Execute は上流モデルを呼ばずに text 中の指示だけを実行する
func (o *ConversationOrchestrator) Execute(ctx context.Context, text string, scope dispatcher.Scope) (string, []execution.Result) {
	results := o.deps.Runner.DispatchAll(ctx, directive.Parse(text), scope)
	return render(results), results
}

// SetMode はセッションの動作モードを変更し、以前のモードを返す
func (o *ConversationOrchestrator) SetMode(ctx context.Context, sessionID, channel string, m mode.OperatingMode) (mode.OperatingMode, error) {
	if !m.Valid() {
		return m, fmt.Errorf("%w: %d", mode.ErrUnknownMode, int(m))
	}
	sess, err := o.resolveSession(ctx, sessionID, channel)
	if err != nil {
		return m, fmt.Errorf("failed to resolve session: %w", err)
	}
	prev := sess.SetMode(m)
	if err := o.deps.Sessions.Save(ctx, sess); err != nil {
		return prev, fmt.Errorf("failed to save session: %w", err)
	}
	o.event(ctx, sess.ID(), "mode_changed", fmt.Sprintf("%s -> %s", prev, m))
	return prev, nil
}

// resolveSession はセッションをロードし、なければ作成する
func (o *ConversationOrchestrator) resolveSession(ctx context.Context, id, channel string) (*session.Session, error) {
	if channel == "" {
		channel = "http"
	}
	if id == "" {
		id = o.newSessionID(channel)
	} else {
		sess, err := o.deps.Sessions.Load(ctx, id)
		if err == nil {
			return sess, nil
		}
		if !errors.Is(err, session.ErrSessionNotFound) {
			return nil, err
		}
	}

	sess := session.NewSession(id, channel, o.cfg.DefaultMode)
	if err := o.deps.Sessions.Save(ctx, sess); err != nil {
		return nil, err
	}
	o.event(ctx, id, "created", "channel="+channel+" mode="+o.cfg.DefaultMode.String())
	return sess, nil
}

func (o *ConversationOrchestrator) newSessionID(channel string) string {
	return fmt.Sprintf("%s-%s-%s", o.now().Format("20060102"), channel, uuid.NewString()[:8])
}

func (o *ConversationOrchestrator) history(ctx context.Context, sessionID string) ([]llm.Message, error) {
	if o.deps.Turns == nil {
		return nil, nil
	}
	turns, err := o.deps.Turns.RecentTurns(ctx, sessionID, o.cfg.HistoryTurns)
	if err != nil {
		return nil, err
	}
	msgs := make([]llm.Message, 0, len(turns))
	for _, t := range turns {
		role, ok := llm.NormalizeRole(string(t.Sender))
		if !ok {
			continue
		}
		msgs = append(msgs, llm.Message{Role: role, Content: t.Text})
	}
	return msgs, nil
}

func (o *ConversationOrchestrator) allowed(m mode.OperatingMode) []string {
	if o.deps.Gate == nil {
		return nil
	}
	return o.deps.Gate.Allowed(m)
}

func (o *ConversationOrchestrator) persist(ctx context.Context, sess *session.Session, userText, reply, modelID string, usage llm.Usage) {
	// 永続化は呼び出し元のキャンセルに影響されない
	ctx = context.WithoutCancel(ctx)
	now := o.now()

	if o.deps.Turns != nil {
		err := o.deps.Turns.AppendTurns(ctx,
			audit.Turn{SessionID: sess.ID(), Sender: audit.SenderUser, Text: userText, ModelID: modelID, CreatedAt: now},
			audit.Turn{SessionID: sess.ID(), Sender: audit.SenderAssistant, Text: reply, ModelID: modelID, CreatedAt: now},
		)
		if err != nil {
			o.logger.Error("turn.persist_failed", zap.String("session_id", sess.ID()), zap.Error(err))
		}
	}

	if o.deps.Usage != nil {
		err := o.deps.Usage.RecordUsage(ctx, audit.Usage{
			SessionID:    sess.ID(),
			ModelID:      modelID,
			InputTokens:  usage.InputTokens,
			OutputTokens: usage.OutputTokens,
			CreatedAt:    now,
		})
		if err != nil {
			o.logger.Error("turn.usage_failed", zap.String("session_id", sess.ID()), zap.Error(err))
		}
	}

	sess.Touch()
	if err := o.deps.Sessions.Save(ctx, sess); err != nil {
		o.logger.Error("turn.session_save_failed", zap.String("session_id", sess.ID()), zap.Error(err))
	}
}

func (o *ConversationOrchestrator) event(ctx context.Context, sessionID, kind, detail string) {
	if o.deps.Events == nil {
		return
	}
	err := o.deps.Events.AppendEvent(context.WithoutCancel(ctx), audit.SessionEvent{
		SessionID: sessionID,
		Kind:      kind,
		Detail:    detail,
		CreatedAt: o.now(),
	})
	if err != nil {
		o.logger.Warn("session.event_failed", zap.String("session_id", sessionID), zap.String("kind", kind), zap.Error(err))
	}
}

func render(results []execution.Result) string {
	if len(results) == 0 {
		return ""
	}
	b := execution.NewBatch()
	for _, r := range results {
		b.Add(r)
	}
	return b.Render()
}
