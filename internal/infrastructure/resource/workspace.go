package resource

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	securejoin "github.com/cyphar/filepath-securejoin"

	"github.com/Nyukimin/portalclaw/internal/domain/execution"
)

const (
	defaultMaxReadBytes   = 256 * 1024
	defaultMaxListEntries = 1000
	defaultMaxSearchHits  = 50
	maxSearchFileBytes    = 1 << 20
)

// WriteMode はファイル書き込みの種類
type WriteMode int

const (
	WriteCreate    WriteMode = iota // 新規作成（既存なら上書き。空の内容では既存を壊さずエラー）
	WriteOverwrite                  // 既存ファイルの上書き（なければエラー）
	WriteAppend                     // 追記（なければ作成）
	WriteReplace                    // 作成または置き換え
)

func (m WriteMode) String() string {
	switch m {
	case WriteCreate:
		return "create"
	case WriteOverwrite:
		return "overwrite"
	case WriteAppend:
		return "append"
	case WriteReplace:
		return "replace"
	}
	return "unknown"
}

// Workspace はベースディレクトリ配下に限定したファイル操作
// 入力パスはすべて Resolve を通り、ベースの外を指すことはない
type Workspace struct {
	base         string
	prefix       string // 論理パスの接頭辞（例: "/workspace"）
	maxReadBytes int64
	maxEntries   int
	maxHits      int
}

// NewWorkspace は新しいWorkspaceを作成
func NewWorkspace(base, prefix string) (*Workspace, error) {
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace base: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	return &Workspace{
		base:         filepath.Clean(abs),
		prefix:       strings.TrimRight(prefix, "/"),
		maxReadBytes: defaultMaxReadBytes,
		maxEntries:   defaultMaxListEntries,
		maxHits:      defaultMaxSearchHits,
	}, nil
}

// Base はベースディレクトリを返す
func (w *Workspace) Base() string {
	return w.base
}

// Resolve は論理パスをベース配下の実パスに変換する
// ".." や絶対パスでベースの外を指す場合は ErrOutsideWorkspace
// シンボリックリンクはベース内に閉じ込めて解決する
func (w *Workspace) Resolve(p string) (string, error) {
	p = strings.TrimSpace(p)
	if p == "" {
		return "", fmt.Errorf("%w: empty path", execution.ErrInvalidArguments)
	}

	rel := filepath.ToSlash(p)
	if w.prefix != "" {
		if rel == w.prefix {
			rel = "."
		} else if strings.HasPrefix(rel, w.prefix+"/") {
			rel = strings.TrimPrefix(rel, w.prefix+"/")
		}
	}

	if filepath.IsAbs(rel) {
		cleaned := filepath.Clean(rel)
		if cleaned != w.base && !strings.HasPrefix(cleaned, w.base+string(filepath.Separator)) {
			return "", fmt.Errorf("%w: %s", execution.ErrOutsideWorkspace, p)
		}
		r, err := filepath.Rel(w.base, cleaned)
		if err != nil {
			return "", fmt.Errorf("%w: %s", execution.ErrOutsideWorkspace, p)
		}
		rel = r
	}

	lexical := filepath.Join(w.base, rel)
	if !w.contains(lexical) {
		return "", fmt.Errorf("%w: %s", execution.ErrOutsideWorkspace, p)
	}

	resolved, err := securejoin.SecureJoin(w.base, rel)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", execution.ErrOutsideWorkspace, p, err)
	}
	if !w.contains(resolved) {
		return "", fmt.Errorf("%w: %s", execution.ErrOutsideWorkspace, p)
	}
	return resolved, nil
}

func (w *Workspace) contains(p string) bool {
	p = filepath.Clean(p)
	return p == w.base || strings.HasPrefix(p, w.base+string(filepath.Separator))
}

// Display はベースからの相対パスを返す（出力用）
func (w *Workspace) Display(resolved string) string {
	rel, err := filepath.Rel(w.base, resolved)
	if err != nil {
		return filepath.Base(resolved)
	}
	return filepath.ToSlash(rel)
}

// Read はファイルを読み込む。上限を超えた分は切り詰める
func (w *Workspace) Read(p string) (string, error) {
	full, err := w.Resolve(p)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(full)
	if err != nil {
		return "", classify(err, p)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%w: %s is a directory", execution.ErrInvalidArguments, p)
	}

	f, err := os.Open(full)
	if err != nil {
		return "", classify(err, p)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, w.maxReadBytes+1))
	if err != nil {
		return "", fmt.Errorf("read %s: %w", p, err)
	}
	if int64(len(data)) > w.maxReadBytes {
		return string(data[:w.maxReadBytes]) + fmt.Sprintf("\n... (truncated, %d bytes total)", info.Size()), nil
	}
	return string(data), nil
}

// List はディレクトリ内の一覧を返す。ディレクトリ名には "/" を付ける
func (w *Workspace) List(p string) ([]string, error) {
	if strings.TrimSpace(p) == "" {
		p = "."
	}
	full, err := w.Resolve(p)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(full)
	if err != nil {
		return nil, classify(err, p)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	if len(names) > w.maxEntries {
		names = append(names[:w.maxEntries], fmt.Sprintf("... (truncated, %d entries)", len(entries)))
	}
	return names, nil
}

// SearchHit は検索結果1件
type SearchHit struct {
	Path string
	Line int
	Text string
}

// Search は dir 配下の通常ファイルから query を含む行を探す（大文字小文字を区別しない）
func (w *Workspace) Search(query, dir string) ([]SearchHit, bool, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, false, fmt.Errorf("%w: empty search query", execution.ErrInvalidArguments)
	}
	if strings.TrimSpace(dir) == "" {
		dir = "."
	}
	root, err := w.Resolve(dir)
	if err != nil {
		return nil, false, err
	}
	if _, err := os.Stat(root); err != nil {
		return nil, false, classify(err, dir)
	}

	needle := strings.ToLower(query)
	var hits []SearchHit
	truncated := false
	errLimit := errors.New("limit")

	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if info, err := d.Info(); err != nil || info.Size() > maxSearchFileBytes {
			return nil
		}
		found, err := searchFile(path, needle)
		if err != nil {
			return nil
		}
		for _, h := range found {
			if len(hits) >= w.maxHits {
				truncated = true
				return errLimit
			}
			h.Path = w.Display(path)
			hits = append(hits, h)
		}
		return nil
	})
	if walkErr != nil && !errors.Is(walkErr, errLimit) {
		return nil, false, walkErr
	}
	return hits, truncated, nil
}

func searchFile(path, needle string) ([]SearchHit, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var hits []SearchHit
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), maxSearchFileBytes)
	line := 0
	for sc.Scan() {
		line++
		text := sc.Text()
		if strings.IndexByte(text, 0) >= 0 {
			return nil, nil // バイナリは対象外
		}
		if strings.Contains(strings.ToLower(text), needle) {
			hits = append(hits, SearchHit{Line: line, Text: strings.TrimSpace(text)})
		}
	}
	return hits, sc.Err()
}

// WriteResult は書き込みの結果
type WriteResult struct {
	Bytes    int
	Replaced bool // @create が既存ファイルを上書きした
}

// Write はファイルに書き込む。親ディレクトリは必要に応じて作成する
func (w *Workspace) Write(p, content string, mode WriteMode) (WriteResult, error) {
	full, err := w.Resolve(p)
	if err != nil {
		return WriteResult{}, err
	}
	if full == w.base {
		return WriteResult{}, fmt.Errorf("%w: cannot write the workspace root", execution.ErrInvalidArguments)
	}

	var (
		flags    int
		replaced bool
	)
	switch mode {
	case WriteCreate:
		flags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
		info, err := os.Stat(full)
		switch {
		case err == nil && info.IsDir():
			return WriteResult{}, fmt.Errorf("%w: %s is a directory", execution.ErrWriteFailed, p)
		case err == nil && content == "":
			return WriteResult{}, fmt.Errorf("%w: %s already exists", execution.ErrWriteFailed, p)
		case err == nil:
			replaced = true
		}
	case WriteOverwrite:
		info, err := os.Stat(full)
		if err != nil {
			return WriteResult{}, classify(err, p)
		}
		if info.IsDir() {
			return WriteResult{}, fmt.Errorf("%w: %s is a directory", execution.ErrWriteFailed, p)
		}
		flags = os.O_WRONLY | os.O_TRUNC
	case WriteAppend:
		flags = os.O_WRONLY | os.O_CREATE | os.O_APPEND
	case WriteReplace:
		flags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	default:
		return WriteResult{}, fmt.Errorf("%w: unknown write mode", execution.ErrInvalidArguments)
	}

	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return WriteResult{}, fmt.Errorf("%w: create directory for %s: %v", execution.ErrWriteFailed, p, err)
	}
	f, err := os.OpenFile(full, flags, 0o644)
	if err != nil {
		return WriteResult{}, fmt.Errorf("%w: %s: %v", execution.ErrWriteFailed, p, err)
	}
	n, err := f.WriteString(content)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return WriteResult{Bytes: n, Replaced: replaced}, fmt.Errorf("%w: %s: %v", execution.ErrWriteFailed, p, err)
	}
	return WriteResult{Bytes: n, Replaced: replaced}, nil
}

// Delete はファイルを削除する。ディレクトリは削除しない
func (w *Workspace) Delete(p string) error {
	full, err := w.Resolve(p)
	if err != nil {
		return err
	}
	info, err := os.Lstat(full)
	if err != nil {
		return classify(err, p)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %s is a directory", execution.ErrInvalidArguments, p)
	}
	if err := os.Remove(full); err != nil {
		return fmt.Errorf("%w: delete %s: %v", execution.ErrWriteFailed, p, err)
	}
	return nil
}

func classify(err error, p string) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", execution.ErrNotFound, p)
	}
	if errors.Is(err, fs.ErrPermission) {
		return fmt.Errorf("%w: %s: permission denied by filesystem", execution.ErrWriteFailed, p)
	}
	return fmt.Errorf("%s: %w", p, err)
}
