package console

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/chzyer/readline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Nyukimin/portalclaw/internal/application/orchestrator"
	"github.com/Nyukimin/portalclaw/internal/domain/execution"
	"github.com/Nyukimin/portalclaw/internal/domain/mode"
)

// scriptReader は決められた行を順に返す
type scriptReader struct {
	lines   []string
	prompts []string
	closed  bool
}

func (s *scriptReader) Readline() (string, error) {
	if len(s.lines) == 0 {
		return "", io.EOF
	}
	line := s.lines[0]
	s.lines = s.lines[1:]
	if line == "^C" {
		return "", readline.ErrInterrupt
	}
	return line, nil
}

func (s *scriptReader) SetPrompt(p string) { s.prompts = append(s.prompts, p) }

func (s *scriptReader) Close() error {
	s.closed = true
	return nil
}

type fakeConversation struct {
	turns []orchestrator.TurnRequest
	modes []mode.OperatingMode
	err   error
}

func (f *fakeConversation) HandleTurn(ctx context.Context, req orchestrator.TurnRequest) (orchestrator.TurnResponse, error) {
	f.turns = append(f.turns, req)
	if f.err != nil {
		return orchestrator.TurnResponse{}, f.err
	}
	return orchestrator.TurnResponse{
		SessionID:  req.SessionID,
		Reply:      "reply to " + req.Message,
		PreResults: []execution.Result{execution.Succeeded("agents", "list", "📊 Agents (0):")},
	}, nil
}

func (f *fakeConversation) SetMode(ctx context.Context, sessionID, channel string, m mode.OperatingMode) (mode.OperatingMode, error) {
	f.modes = append(f.modes, m)
	return mode.Chat, nil
}

func TestConsole_TurnsAndModes(t *testing.T) {
	reader := &scriptReader{lines: []string{"hello @agents", "", "^C", "/mode hybrid", "/mode", "/mode nope", "/quit", "never read"}}
	conv := &fakeConversation{}
	var out bytes.Buffer

	c := New(conv, reader, &out, "console-1", mode.Chat, zap.NewNop())
	require.NoError(t, c.Run(context.Background()))

	require.Len(t, conv.turns, 1)
	assert.Equal(t, "console-1", conv.turns[0].SessionID)
	assert.Equal(t, "console", conv.turns[0].Channel)
	assert.Equal(t, []mode.OperatingMode{mode.Hybrid}, conv.modes)

	text := out.String()
	assert.Contains(t, text, "📊 Agents (0):")
	assert.Contains(t, text, "reply to hello @agents")
	assert.Contains(t, text, "Mode changed: chat -> hybrid")
	assert.Contains(t, text, "Current mode: hybrid")
	assert.Contains(t, text, "unknown operating mode")

	assert.Equal(t, []string{"[chat]> ", "[hybrid]> "}, reader.prompts)
	assert.Equal(t, []string{"never read"}, reader.lines)
	assert.True(t, reader.closed)
}

func TestConsole_TurnFailure(t *testing.T) {
	reader := &scriptReader{lines: []string{"hi"}}
	conv := &fakeConversation{err: orchestrator.ErrTurnFailed}
	var out bytes.Buffer

	require.NoError(t, New(conv, reader, &out, "console-1", mode.Chat, nil).Run(context.Background()))

	assert.Contains(t, out.String(), "The model is unavailable")
}
