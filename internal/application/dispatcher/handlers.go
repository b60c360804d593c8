package dispatcher

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Nyukimin/portalclaw/internal/domain/agent"
	"github.com/Nyukimin/portalclaw/internal/domain/audit"
	"github.com/Nyukimin/portalclaw/internal/domain/directive"
	"github.com/Nyukimin/portalclaw/internal/domain/execution"
	"github.com/Nyukimin/portalclaw/internal/infrastructure/resource"
)

const (
	defaultLogMinutes         = 60
	defaultPerformanceMinutes = 24 * 60
	defaultMemoryTurns        = 10
	defaultLogLimit           = 200
)

// Files はワークスペース上のファイル操作
type Files interface {
	Read(p string) (string, error)
	List(p string) ([]string, error)
	Search(query, dir string) ([]resource.SearchHit, bool, error)
	Write(p, content string, mode resource.WriteMode) (resource.WriteResult, error)
	Delete(p string) error
}

// Containers はコンテナランタイムの操作
type Containers interface {
	Exec(ctx context.Context, container string, argv []string) (resource.ExecOutput, error)
	List(ctx context.Context) ([]resource.ContainerInfo, error)
	Logs(ctx context.Context, container string, tail int) (string, error)
}

// Scripts はシェルスクリプトの実行
type Scripts interface {
	Run(ctx context.Context, script string) (resource.ExecOutput, error)
}

// StatusQueries はポータル状態の照会
type StatusQueries interface {
	Agents(ctx context.Context) (string, error)
	UpdateAgent(ctx context.Context, id int64, p agent.Patch) (agent.Agent, error)
	Crews(ctx context.Context) (string, error)
	Tasks(ctx context.Context) (string, error)
	Logs(ctx context.Context, window time.Duration, category audit.Category, sessionID string, limit int) (string, error)
	Memory(ctx context.Context, sessionID string, limit int) (string, error)
	Performance(ctx context.Context, window time.Duration) (string, error)
}

// Adapters は Dispatcher が使うアダプタ一式
// nil のアダプタに対応する指示は "unavailable" として失敗する
type Adapters struct {
	Files      Files
	Containers Containers
	Scripts    Scripts
	Status     StatusQueries
}

// newHandlerTable は指示名からハンドラへの表を作る
func newHandlerTable(a Adapters) map[string]Handler {
	table := make(map[string]Handler)

	if a.Files != nil {
		f := fileHandlers{files: a.Files}
		table[directive.NameFile] = f.read
		table[directive.NameRead] = f.read
		table[directive.NameList] = f.list
		table[directive.NameLs] = f.list
		table[directive.NameSearch] = f.search
		table[directive.NameCreate] = f.write(resource.WriteCreate, "Created")
		table[directive.NameEdit] = f.write(resource.WriteOverwrite, "Updated")
		table[directive.NameWrite] = f.write(resource.WriteReplace, "Wrote")
		table[directive.NameAppend] = f.write(resource.WriteAppend, "Appended")
		table[directive.NameDelete] = f.delete
	}
	if a.Containers != nil {
		c := containerHandlers{containers: a.Containers}
		table[directive.NameExec] = c.exec
		table[directive.NameContainers] = c.list
		table[directive.NameContainerLogs] = c.logs
	}
	if a.Scripts != nil {
		table[directive.NameShell] = scriptHandler{scripts: a.Scripts}.run
	}
	if a.Status != nil {
		s := statusHandlers{status: a.Status}
		table[directive.NameAgents] = s.text(a.Status.Agents)
		table[directive.NameCrew] = s.text(a.Status.Crews)
		table[directive.NameTasks] = s.text(a.Status.Tasks)
		table[directive.NameUpdateAgent] = s.updateAgent
		table[directive.NameLogs] = s.logs
		table[directive.NameMemory] = s.memory
		table[directive.NamePerformance] = s.performance
	}
	return table
}

type fileHandlers struct {
	files Files
}

func (h fileHandlers) read(_ context.Context, d directive.Directive, _ Scope) (execution.Result, error) {
	p, err := requireArg(d, 0, "path")
	if err != nil {
		return execution.Result{}, err
	}
	content, err := h.files.Read(p)
	if err != nil {
		return execution.Result{}, err
	}
	return execution.Succeeded(d.Name, content, formatFile(p, content)), nil
}

func (h fileHandlers) list(_ context.Context, d directive.Directive, _ Scope) (execution.Result, error) {
	p, ok := d.Arg(0)
	if !ok {
		p = "."
	}
	entries, err := h.files.List(p)
	if err != nil {
		return execution.Result{}, err
	}
	output := strings.Join(entries, "\n")
	return execution.Succeeded(d.Name, output, formatDirectory(p, entries)), nil
}

func (h fileHandlers) search(_ context.Context, d directive.Directive, _ Scope) (execution.Result, error) {
	query, err := requireArg(d, 0, "query")
	if err != nil {
		return execution.Result{}, err
	}
	dir, ok := d.Arg(1)
	if !ok {
		dir = "."
	}
	hits, truncated, err := h.files.Search(query, dir)
	if err != nil {
		return execution.Result{}, err
	}
	output := formatHits(hits, truncated)
	return execution.Succeeded(d.Name, output, formatSearch(query, len(hits), output)), nil
}

// write は書き込みモードごとのハンドラを返す
// 本文のない @create は空のプレースホルダを作成する。それ以外は本文が必須
// 既存ファイルへの @create は上書きとして扱い、結果の文言で区別する
func (h fileHandlers) write(mode resource.WriteMode, verb string) Handler {
	return func(_ context.Context, d directive.Directive, _ Scope) (execution.Result, error) {
		p, err := requireArg(d, 0, "path")
		if err != nil {
			return execution.Result{}, err
		}
		if !d.HasBody && mode != resource.WriteCreate {
			return execution.Result{}, fmt.Errorf("%w: @%s needs a fenced body", execution.ErrInvalidArguments, d.Name)
		}
		res, err := h.files.Write(p, d.Body, mode)
		if err != nil {
			return execution.Result{}, err
		}
		if res.Replaced {
			verb = "Overwrote existing"
		}
		output := fmt.Sprintf("%s %s (%d bytes)", verb, p, res.Bytes)
		return execution.Succeeded(d.Name, output, "✅ "+output), nil
	}
}

func (h fileHandlers) delete(_ context.Context, d directive.Directive, _ Scope) (execution.Result, error) {
	p, err := requireArg(d, 0, "path")
	if err != nil {
		return execution.Result{}, err
	}
	if err := h.files.Delete(p); err != nil {
		return execution.Result{}, err
	}
	output := "Deleted " + p
	return execution.Succeeded(d.Name, output, "🗑️ "+output), nil
}

type containerHandlers struct {
	containers Containers
}

func (h containerHandlers) exec(ctx context.Context, d directive.Directive, _ Scope) (execution.Result, error) {
	if len(d.Args) < 2 {
		return execution.Result{}, fmt.Errorf("%w: usage @exec <container> <command...>", execution.ErrInvalidArguments)
	}
	id := d.Args[0]
	out, err := h.containers.Exec(ctx, id, d.Args[1:])
	if err != nil {
		return execution.Result{}, err
	}
	header := fmt.Sprintf("🐳 Exec in %s (%s)", id, exitLabel(out))
	return execution.Succeeded(d.Name, out.Output, header+"\n"+fenced(out.Output)), nil
}

func (h containerHandlers) list(ctx context.Context, d directive.Directive, _ Scope) (execution.Result, error) {
	list, err := h.containers.List(ctx)
	if err != nil {
		return execution.Result{}, err
	}
	output := formatContainers(list)
	return execution.Succeeded(d.Name, output, "🐳 "+output), nil
}

func (h containerHandlers) logs(ctx context.Context, d directive.Directive, _ Scope) (execution.Result, error) {
	id, err := requireArg(d, 0, "container")
	if err != nil {
		return execution.Result{}, err
	}
	tail := 0
	if raw, ok := d.Arg(1); ok {
		if tail, err = positiveInt(raw, "tail"); err != nil {
			return execution.Result{}, err
		}
	}
	logs, err := h.containers.Logs(ctx, id, tail)
	if err != nil {
		return execution.Result{}, err
	}
	return execution.Succeeded(d.Name, logs, fmt.Sprintf("📜 Logs of %s\n%s", id, fenced(logs))), nil
}

type scriptHandler struct {
	scripts Scripts
}

func (h scriptHandler) run(ctx context.Context, d directive.Directive, _ Scope) (execution.Result, error) {
	script := d.Body
	if !d.HasBody {
		script = strings.Join(d.Args, " ")
	}
	if strings.TrimSpace(script) == "" {
		return execution.Result{}, fmt.Errorf("%w: @shell needs a script", execution.ErrInvalidArguments)
	}
	out, err := h.scripts.Run(ctx, script)
	if err != nil {
		return execution.Result{}, err
	}
	header := fmt.Sprintf("💻 Shell (%s)", exitLabel(out))
	return execution.Succeeded(d.Name, out.Output, header+"\n"+fenced(out.Output)), nil
}

func exitLabel(out resource.ExecOutput) string {
	if out.TimedOut {
		return "timed out"
	}
	return fmt.Sprintf("exit %d", out.ExitCode)
}

type statusHandlers struct {
	status StatusQueries
}

// text は引数を取らない照会をハンドラにする
func (h statusHandlers) text(query func(context.Context) (string, error)) Handler {
	return func(ctx context.Context, d directive.Directive, _ Scope) (execution.Result, error) {
		out, err := query(ctx)
		if err != nil {
			return execution.Result{}, err
		}
		return execution.Succeeded(d.Name, out, "📊 "+out), nil
	}
}

// updateAgent は "@update_agent id=3 status=idle" または "@update_agent 3 status=idle"
func (h statusHandlers) updateAgent(ctx context.Context, d directive.Directive, _ Scope) (execution.Result, error) {
	params := d.Params()
	selector, ok := params["id"]
	delete(params, "id")
	if !ok {
		pos := d.Positional()
		if len(pos) == 0 {
			return execution.Result{}, fmt.Errorf("%w: usage @update_agent id=<n> field=value...", execution.ErrInvalidArguments)
		}
		selector = pos[0]
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(selector, "#"), 10, 64)
	if err != nil || id <= 0 {
		return execution.Result{}, fmt.Errorf("%w: invalid agent id %q", execution.ErrInvalidArguments, selector)
	}

	patch, err := agent.NewPatch(params)
	if err != nil {
		return execution.Result{}, fmt.Errorf("%w: %v", execution.ErrInvalidArguments, err)
	}
	updated, err := h.status.UpdateAgent(ctx, id, patch)
	if err != nil {
		return execution.Result{}, err
	}
	output := fmt.Sprintf("Updated agent #%d (%s): %s", updated.ID, updated.Name, patch)
	return execution.Succeeded(d.Name, output, "✅ "+output), nil
}

// logs は "@logs 30 commands" または "@logs minutes=30 category=commands session=..."
func (h statusHandlers) logs(ctx context.Context, d directive.Directive, s Scope) (execution.Result, error) {
	params := d.Params()
	pos := d.Positional()

	minutesRaw := params["minutes"]
	if minutesRaw == "" && len(pos) > 0 {
		minutesRaw = pos[0]
	}
	minutes := defaultLogMinutes
	if minutesRaw != "" {
		var err error
		if minutes, err = positiveInt(minutesRaw, "minutes"); err != nil {
			return execution.Result{}, err
		}
	}

	categoryRaw, ok := params["category"]
	if !ok && len(pos) > 1 {
		categoryRaw = pos[1]
	}
	category, err := audit.ParseCategory(categoryRaw)
	if err != nil {
		return execution.Result{}, fmt.Errorf("%w: %v", execution.ErrInvalidArguments, err)
	}

	out, err := h.status.Logs(ctx, time.Duration(minutes)*time.Minute, category, params["session"], defaultLogLimit)
	if err != nil {
		return execution.Result{}, err
	}
	return execution.Succeeded(d.Name, out, "📜 "+out), nil
}

func (h statusHandlers) memory(ctx context.Context, d directive.Directive, s Scope) (execution.Result, error) {
	limit := defaultMemoryTurns
	if raw, ok := d.Arg(0); ok {
		var err error
		if limit, err = positiveInt(raw, "limit"); err != nil {
			return execution.Result{}, err
		}
	}
	out, err := h.status.Memory(ctx, s.SessionID, limit)
	if err != nil {
		return execution.Result{}, err
	}
	return execution.Succeeded(d.Name, out, "🧠 "+out), nil
}

func (h statusHandlers) performance(ctx context.Context, d directive.Directive, _ Scope) (execution.Result, error) {
	minutes := defaultPerformanceMinutes
	if raw, ok := d.Arg(0); ok {
		var err error
		if minutes, err = positiveInt(raw, "minutes"); err != nil {
			return execution.Result{}, err
		}
	}
	out, err := h.status.Performance(ctx, time.Duration(minutes)*time.Minute)
	if err != nil {
		return execution.Result{}, err
	}
	return execution.Succeeded(d.Name, out, "📊 "+out), nil
}

func requireArg(d directive.Directive, i int, what string) (string, error) {
	v, ok := d.Arg(i)
	if !ok || strings.TrimSpace(v) == "" {
		return "", fmt.Errorf("%w: @%s needs a %s", execution.ErrInvalidArguments, d.Name, what)
	}
	return v, nil
}

func positiveInt(raw, what string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: %s must be a positive integer, got %q", execution.ErrInvalidArguments, what, raw)
	}
	return n, nil
}
