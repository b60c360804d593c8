package directive

import "strings"

// Directive は会話テキストに埋め込まれた単一の指示を表す値オブジェクト
// 走査ごとに生成され、Dispatcher で一度だけ消費される
type Directive struct {
	Name    string   // 指示名（小文字）
	Args    []string // 位置引数、または key=value 形式に正規化した引数
	Body    string   // フェンスで囲まれた本文（オプション）
	HasBody bool     // フェンス本文が存在したか
	Raw     string   // 元テキスト上でマッチした部分
	Offset  int      // 元テキスト上の開始位置
}

// New は新しいDirectiveを作成（テスト・プログラムからの生成用）
func New(name string, args ...string) Directive {
	copied := make([]string, len(args))
	copy(copied, args)
	return Directive{
		Name: strings.ToLower(name),
		Args: copied,
		Raw:  "@" + strings.TrimSpace(strings.ToLower(name)+" "+strings.Join(args, " ")),
	}
}

// WithBody は本文を設定した新しいDirectiveを返す
func (d Directive) WithBody(body string) Directive {
	d.Body = body
	d.HasBody = true
	return d
}

// Arg は i 番目の位置引数を返す
func (d Directive) Arg(i int) (string, bool) {
	if i < 0 || i >= len(d.Args) {
		return "", false
	}
	return d.Args[i], true
}

// Params は key=value 形式の引数をマップで返す（キーは小文字）
func (d Directive) Params() map[string]string {
	params := make(map[string]string)
	for _, arg := range d.Args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			continue
		}
		params[strings.ToLower(key)] = value
	}
	return params
}

// Positional は key=value 形式でない引数のみを返す
func (d Directive) Positional() []string {
	out := make([]string, 0, len(d.Args))
	for _, arg := range d.Args {
		if strings.Contains(arg, "=") {
			continue
		}
		out = append(out, arg)
	}
	return out
}

// Text は監査ログ向けの指示テキストを返す
func (d Directive) Text() string {
	if d.Raw != "" {
		return d.Raw
	}
	return New(d.Name, d.Args...).Raw
}
