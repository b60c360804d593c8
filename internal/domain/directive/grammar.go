package directive

import "sort"

// Marker は指示の開始文字
const Marker = '@'

// Shape は引数の形を表す型
type Shape int

const (
	ShapeNone       Shape = iota // 未知の指示：引数なし
	ShapePositional              // 空白区切りの位置引数
	ShapeKeyValue                // key="value" の組
	ShapePath                    // パス + フェンス本文
)

// 指示名
const (
	NameFile          = "file"
	NameRead          = "read"
	NameList          = "list"
	NameLs            = "ls"
	NameSearch        = "search"
	NameCreate        = "create"
	NameEdit          = "edit"
	NameWrite         = "write"
	NameAppend        = "append"
	NameDelete        = "delete"
	NameExec          = "exec"
	NameContainers    = "containers"
	NameContainerLogs = "container_logs"
	NameShell         = "shell"
	NameAgents        = "agents"
	NameUpdateAgent   = "update_agent"
	NameCrew          = "crew"
	NameTasks         = "tasks"
	NameLogs          = "logs"
	NameMemory        = "memory"
	NamePerformance   = "performance"

	// NameBatch は複数の指示を [ ] で束ねるラッパー。それ自体は実行されない
	NameBatch = "batch"
)

type rule struct {
	shape  Shape
	fenced bool // 直後のフェンス本文を受け付けるか
}

var grammar = map[string]rule{
	NameFile:          {shape: ShapePositional},
	NameRead:          {shape: ShapePositional},
	NameList:          {shape: ShapePositional},
	NameLs:            {shape: ShapePositional},
	NameSearch:        {shape: ShapePositional},
	NameCreate:        {shape: ShapePath, fenced: true},
	NameEdit:          {shape: ShapePath, fenced: true},
	NameWrite:         {shape: ShapePath, fenced: true},
	NameAppend:        {shape: ShapePath, fenced: true},
	NameDelete:        {shape: ShapePositional},
	NameExec:          {shape: ShapePositional},
	NameContainers:    {shape: ShapePositional},
	NameContainerLogs: {shape: ShapePositional},
	NameShell:         {shape: ShapePositional, fenced: true},
	NameAgents:        {shape: ShapePositional},
	NameUpdateAgent:   {shape: ShapeKeyValue},
	NameCrew:          {shape: ShapePositional},
	NameTasks:         {shape: ShapePositional},
	NameLogs:          {shape: ShapePositional},
	NameMemory:        {shape: ShapePositional},
	NamePerformance:   {shape: ShapePositional},
}

// ShapeOf は指示名の引数形を返す。未知の名前は ShapeNone
func ShapeOf(name string) Shape {
	return grammar[name].shape
}

// Known は文法に登録された指示名かを判定
func Known(name string) bool {
	_, ok := grammar[name]
	return ok
}

// Names は登録済みの指示名をソートして返す
func Names() []string {
	names := make([]string, 0, len(grammar))
	for name := range grammar {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
