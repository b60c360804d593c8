package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"
	"go.uber.org/zap"

	"github.com/Nyukimin/portalclaw/internal/application/orchestrator"
	"github.com/Nyukimin/portalclaw/internal/domain/mode"
)

const channelConsole = "console"

// LineReader は1行ずつ入力を読む（readline.Instance が実装する）
type LineReader interface {
	Readline() (string, error)
	SetPrompt(prompt string)
	Close() error
}

// Conversation はターン処理とモード変更
type Conversation interface {
	HandleTurn(ctx context.Context, req orchestrator.TurnRequest) (orchestrator.TurnResponse, error)
	SetMode(ctx context.Context, sessionID, channel string, m mode.OperatingMode) (mode.OperatingMode, error)
}

// NewReadline は履歴ファイル付きの readline を作成
func NewReadline(historyFile string) (*readline.Instance, error) {
	return readline.NewEx(&readline.Config{
		Prompt:          "> ",
		HistoryFile:     historyFile,
		InterruptPrompt: "^C",
		EOFPrompt:       "/quit",
	})
}

// Console は対話型のコンソール
// "/mode <chat|hybrid|autonomous>" でモードを切り替え、"/quit" で終了する
type Console struct {
	conv      Conversation
	reader    LineReader
	out       io.Writer
	sessionID string
	mode      mode.OperatingMode
	logger    *zap.Logger
}

// New は新しいConsoleを作成
func New(conv Conversation, reader LineReader, out io.Writer, sessionID string, initial mode.OperatingMode, logger *zap.Logger) *Console {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Console{
		conv:      conv,
		reader:    reader,
		out:       out,
		sessionID: sessionID,
		mode:      initial,
		logger:    logger.Named("console"),
	}
}

// Run は入力が終わるか /quit まで対話を続ける
func (c *Console) Run(ctx context.Context) error {
	defer c.reader.Close()
	c.updatePrompt()
	fmt.Fprintf(c.out, "portalclaw session %s (%s mode). Type /help for commands.\n", c.sessionID, c.mode)

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		line, err := c.reader.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read input: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			if quit := c.command(ctx, line); quit {
				return nil
			}
			continue
		}
		c.turn(ctx, line)
	}
}

// command はスラッシュコマンドを処理する。終了する場合は true
func (c *Console) command(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	switch strings.ToLower(fields[0]) {
	case "/quit", "/exit":
		return true
	case "/help":
		fmt.Fprintln(c.out, "/mode [chat|hybrid|autonomous]  show or change the operating mode")
		fmt.Fprintln(c.out, "/session                        show the session id")
		fmt.Fprintln(c.out, "/quit                           leave the console")
	case "/session":
		fmt.Fprintln(c.out, c.sessionID)
	case "/mode":
		if len(fields) < 2 {
			fmt.Fprintf(c.out, "Current mode: %s\n", c.mode)
			return false
		}
		m, err := mode.Parse(fields[1])
		if err != nil {
			fmt.Fprintf(c.out, "❌ %v\n", err)
			return false
		}
		prev, err := c.conv.SetMode(ctx, c.sessionID, channelConsole, m)
		if err != nil {
			c.logger.Error("console.set_mode_failed", zap.Error(err))
			fmt.Fprintf(c.out, "❌ could not change mode: %v\n", err)
			return false
		}
		c.mode = m
		c.updatePrompt()
		fmt.Fprintf(c.out, "Mode changed: %s -> %s\n", prev, m)
	default:
		fmt.Fprintf(c.out, "Unknown command %s (try /help)\n", fields[0])
	}
	return false
}

func (c *Console) turn(ctx context.Context, message string) {
	resp, err := c.conv.HandleTurn(ctx, orchestrator.TurnRequest{
		SessionID: c.sessionID,
		Channel:   channelConsole,
		Message:   message,
	})
	if err != nil {
		if errors.Is(err, orchestrator.ErrTurnFailed) {
			fmt.Fprintln(c.out, "❌ The model is unavailable right now. Please try again.")
		} else {
			fmt.Fprintf(c.out, "❌ %v\n", err)
		}
		c.logger.Warn("console.turn_failed", zap.Error(err))
		return
	}

	// ユーザー発言中の指示の結果も表示する
	for _, r := range resp.PreResults {
		fmt.Fprintln(c.out, r.Formatted)
	}
	fmt.Fprintln(c.out, resp.Reply)
}

func (c *Console) updatePrompt() {
	c.reader.SetPrompt(fmt.Sprintf("[%s]> ", c.mode))
}
