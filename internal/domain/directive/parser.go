package directive

import (
	"iter"
	"strings"
)

const fence = "```"

// Scan は text 中の指示を出現順に返す遅延シーケンス
// range するたびに先頭から走査し直すため、何度でも再利用できる
// 走査は純粋関数で I/O を行わず、どんな入力でも panic しない
func Scan(text string) iter.Seq[Directive] {
	return func(yield func(Directive) bool) {
		scan(text, 0, yield)
	}
}

// Parse は text 中の全指示をスライスで返す
func Parse(text string) []Directive {
	var out []Directive
	for d := range Scan(text) {
		out = append(out, d)
	}
	return out
}

// IsCommandOnly は text が指示だけで構成されているかを判定
// （区切りの空白・セミコロン・batch の括弧は無視）
func IsCommandOnly(text string) bool {
	covered := make([]bool, len(text))
	found := false
	for d := range Scan(text) {
		found = true
		for i := d.Offset; i < d.Offset+len(d.Raw) && i < len(text); i++ {
			covered[i] = true
		}
	}
	if !found {
		return false
	}

	var rest strings.Builder
	for i := 0; i < len(text); i++ {
		if !covered[i] {
			rest.WriteByte(text[i])
		}
	}
	left := strings.ReplaceAll(strings.ToLower(rest.String()), string(Marker)+NameBatch, "")
	return strings.Trim(left, " \t\r\n;[]") == ""
}

// scan は base をオフセットとして text を走査する。yield が false を返したら false
func scan(text string, base int, yield func(Directive) bool) bool {
	pos := 0
	for pos < len(text) {
		start := nextMarker(text, pos)
		if start < 0 {
			return true
		}
		nameEnd := identEnd(text, start+1)
		name := strings.ToLower(text[start+1 : nameEnd])

		// @batch[ ... ] は中身を再帰的に走査し、その場に展開する
		if name == NameBatch {
			if open, ok := batchOpen(text, nameEnd); ok {
				end := matchBracket(text, open)
				if !scan(text[open+1:end], base+open+1, yield) {
					return false
				}
				pos = end + 1
				continue
			}
		}

		d, end := parseAt(text, start, nameEnd, name)
		d.Offset = base + start
		if !yield(d) {
			return false
		}
		pos = end
	}
	return true
}

// parseAt は start から始まる指示を1つ解析し、指示と走査再開位置を返す
func parseAt(text string, start, nameEnd int, name string) (Directive, int) {
	d := Directive{Name: name}
	end := nameEnd

	// 未知の指示は引数なし・本文なし
	if r, known := grammar[name]; known {
		lineEnd := strings.IndexByte(text[nameEnd:], '\n')
		if lineEnd < 0 {
			lineEnd = len(text)
		} else {
			lineEnd += nameEnd
		}

		tokens, argsEnd := tokenize(text, nameEnd, lineEnd)
		if r.shape == ShapeKeyValue {
			tokens = normalizeKeyValues(tokens)
		}
		d.Args = tokens
		end = argsEnd

		if r.fenced {
			if at, ok := fenceStart(text, argsEnd); ok {
				body, fenceEnd := readFence(text, at)
				d.Body = body
				d.HasBody = true
				end = fenceEnd
			}
		}
	}

	d.Raw = strings.TrimRight(text[start:end], " \t\r\n;")
	return d, end
}

// tokenize は [from, lineEnd) を引数トークンに分割する
// 新しい指示の開始、またはフェンスの開始で打ち切る
func tokenize(text string, from, lineEnd int) ([]string, int) {
	var tokens []string
	i := from
	for {
		for i < lineEnd && isBlank(text[i]) {
			i++
		}
		if i >= lineEnd {
			return tokens, lineEnd
		}
		if strings.HasPrefix(text[i:], fence) {
			return tokens, i
		}
		if text[i] == Marker && i+1 < lineEnd && isIdentStart(text[i+1]) {
			return tokens, i
		}
		if text[i] == ';' {
			i++
			continue
		}

		tok, next := readToken(text, i, lineEnd)
		if tok != "" {
			tokens = append(tokens, tok)
		}
		i = next
	}
}

// readToken は引用符を考慮して1トークンを読む（引用符自体は取り除く）
func readToken(text string, i, lineEnd int) (string, int) {
	var b strings.Builder
	var quote byte
	for ; i < lineEnd; i++ {
		c := text[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			} else {
				b.WriteByte(c)
			}
		case c == '"' || c == '\'':
			quote = c
		case isBlank(c):
			return b.String(), i
		case c == ';' && b.Len() > 0:
			return b.String(), i
		default:
			b.WriteByte(c)
		}
	}
	return b.String(), i
}

// normalizeKeyValues は key=value のキーを小文字化する
func normalizeKeyValues(tokens []string) []string {
	out := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		key, value, ok := strings.Cut(tok, "=")
		if !ok {
			out = append(out, tok)
			continue
		}
		out = append(out, strings.ToLower(strings.TrimSpace(key))+"="+value)
	}
	return out
}

// fenceStart は from の同じ行末、または次の行頭にフェンスがあればその位置を返す
func fenceStart(text string, from int) (int, bool) {
	i := from
	for i < len(text) && isBlank(text[i]) {
		i++
	}
	if i < len(text) && text[i] == '\n' {
		i++
		for i < len(text) && isBlank(text[i]) {
			i++
		}
	}
	if strings.HasPrefix(text[i:], fence) {
		return i, true
	}
	return 0, false
}

// readFence は at から始まるフェンスを読み、本文と終端位置を返す
// 閉じフェンスがなければ残り全体を本文とする
func readFence(text string, at int) (string, int) {
	open := at + len(fence)
	nl := strings.IndexByte(text[open:], '\n')
	if nl < 0 {
		rest := text[open:]
		if j := strings.Index(rest, fence); j >= 0 {
			return rest[:j], open + j + len(fence)
		}
		return rest, len(text)
	}

	// 1行で閉じるフェンス（```content```）
	header := text[open : open+nl]
	if j := strings.Index(header, fence); j >= 0 {
		return header[:j], open + j + len(fence)
	}

	bodyStart := open + nl + 1
	closeAt := closingFence(text, bodyStart)
	if closeAt < 0 {
		return text[bodyStart:], len(text)
	}
	body := strings.TrimSuffix(text[bodyStart:closeAt], "\n")
	body = strings.TrimSuffix(body, "\r")
	return body, closeAt + len(fence)
}

// closingFence は行頭（インデント可）にある閉じフェンスの位置を返す
func closingFence(text string, from int) int {
	p := from
	for p <= len(text) {
		idx := strings.Index(text[p:], fence)
		if idx < 0 {
			return -1
		}
		abs := p + idx
		if atLineStart(text, from, abs) {
			return abs
		}
		p = abs + len(fence)
	}
	return -1
}

func atLineStart(text string, floor, at int) bool {
	for i := at - 1; i >= floor; i-- {
		switch text[i] {
		case '\n':
			return true
		case ' ', '\t':
			continue
		default:
			return false
		}
	}
	return true
}

// batchOpen は @batch の直後にある '[' の位置を返す
func batchOpen(text string, from int) (int, bool) {
	i := from
	for i < len(text) && isBlank(text[i]) {
		i++
	}
	if i < len(text) && text[i] == '[' {
		return i, true
	}
	return 0, false
}

// matchBracket は対応する ']' の位置を返す。閉じていなければ len(text)
// フェンス内の括弧は数えない
func matchBracket(text string, open int) int {
	depth := 0
	for i := open; i < len(text); {
		if strings.HasPrefix(text[i:], fence) {
			j := strings.Index(text[i+len(fence):], fence)
			if j < 0 {
				return len(text)
			}
			i += len(fence) + j + len(fence)
			continue
		}
		switch text[i] {
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				return i
			}
		}
		i++
	}
	return len(text)
}

// nextMarker は from 以降で指示として有効なマーカー位置を返す
// 単語の途中（メールアドレス等）のマーカーは無視する
func nextMarker(text string, from int) int {
	for i := from; i < len(text); i++ {
		if text[i] != Marker {
			continue
		}
		if i > 0 && !isBoundary(text[i-1]) {
			continue
		}
		if i+1 < len(text) && isIdentStart(text[i+1]) {
			return i
		}
	}
	return -1
}

func identEnd(text string, from int) int {
	i := from
	for i < len(text) && isIdentChar(text[i]) {
		i++
	}
	// 末尾のハイフンは句読点として扱う
	for i > from+1 && text[i-1] == '-' {
		i--
	}
	return i
}

func isBoundary(c byte) bool {
	switch c {
	case ' ', '\t', '\n', '\r', '[', '(', '{', ';', ',':
		return true
	}
	return false
}

func isBlank(c byte) bool {
	return c == ' ' || c == '\t' || c == '\r'
}

func isIdentStart(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentChar(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9') || c == '_' || c == '-'
}
