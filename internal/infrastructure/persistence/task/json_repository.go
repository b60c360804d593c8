package task

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/Nyukimin/portalclaw/internal/domain/task"
	"github.com/Nyukimin/portalclaw/internal/infrastructure/persistence/fsutil"
)

// JSONTaskRepository はタスク一覧を1つのJSONファイルに保存する
// read-modify-write はプロセス内では mutex、プロセス間では <path>.lock の
// アドバイザリロックで直列化し、一時ファイル経由で置き換える
type JSONTaskRepository struct {
	path string
	mu   sync.Mutex
}

// NewJSONTaskRepository は新しいJSONTaskRepositoryを作成
func NewJSONTaskRepository(path string) *JSONTaskRepository {
	return &JSONTaskRepository{path: path}
}

// taskDTO はJSONシリアライズ用のDTO
type taskDTO struct {
	ID         string     `json:"id"`
	Command    string     `json:"command"`
	Status     string     `json:"status"`
	SessionID  string     `json:"session_id,omitempty"`
	Mode       string     `json:"mode,omitempty"`
	Response   string     `json:"response,omitempty"`
	Error      string     `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// List はタスク一覧を返す。ファイルがなければ空
// 書き込みは rename で置き換わるため、読み取りにファイルロックは不要
func (r *JSONTaskRepository) List(ctx context.Context) ([]task.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.read()
}

// Update は一覧全体を読み、fn の結果で置き換える
// fn がエラーを返した場合は何も書き込まない
func (r *JSONTaskRepository) Update(ctx context.Context, fn func([]task.Task) ([]task.Task, error)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	lock, err := fsutil.Lock(ctx, r.path+".lock")
	if err != nil {
		return fmt.Errorf("failed to lock task file: %w", err)
	}
	defer lock.Unlock()

	tasks, err := r.read()
	if err != nil {
		return err
	}
	updated, err := fn(tasks)
	if err != nil {
		return err
	}
	return r.write(updated)
}

// Enqueue はタスクを末尾に追加
func (r *JSONTaskRepository) Enqueue(ctx context.Context, t task.Task) error {
	return r.Update(ctx, func(tasks []task.Task) ([]task.Task, error) {
		for _, existing := range tasks {
			if existing.ID().Equals(t.ID()) {
				return nil, fmt.Errorf("task %s already exists", t.ID())
			}
		}
		return append(tasks, t), nil
	})
}

func (r *JSONTaskRepository) read() ([]task.Task, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return []task.Task{}, nil
		}
		return nil, fmt.Errorf("failed to read task file: %w", err)
	}
	if len(data) == 0 {
		return []task.Task{}, nil
	}

	var dtos []taskDTO
	if err := json.Unmarshal(data, &dtos); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tasks: %w", err)
	}

	tasks := make([]task.Task, 0, len(dtos))
	for _, dto := range dtos {
		t, err := fromDTO(dto)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

func (r *JSONTaskRepository) write(tasks []task.Task) error {
	dtos := make([]taskDTO, 0, len(tasks))
	for _, t := range tasks {
		dtos = append(dtos, toDTO(t))
	}
	data, err := json.MarshalIndent(dtos, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal tasks: %w", err)
	}
	if err := fsutil.WriteFileAtomic(r.path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write task file: %w", err)
	}
	return nil
}

func toDTO(t task.Task) taskDTO {
	s := t.Snapshot()
	return taskDTO{
		ID:         s.ID,
		Command:    s.Command,
		Status:     string(s.Status),
		SessionID:  s.SessionID,
		Mode:       s.Mode,
		Response:   s.Response,
		Error:      s.Error,
		CreatedAt:  s.CreatedAt,
		StartedAt:  timePtr(s.StartedAt),
		FinishedAt: timePtr(s.FinishedAt),
	}
}

func fromDTO(dto taskDTO) (task.Task, error) {
	s := task.Snapshot{
		ID:        dto.ID,
		Command:   dto.Command,
		Status:    task.Status(dto.Status),
		SessionID: dto.SessionID,
		Mode:      dto.Mode,
		Response:  dto.Response,
		Error:     dto.Error,
		CreatedAt: dto.CreatedAt,
	}
	if dto.StartedAt != nil {
		s.StartedAt = *dto.StartedAt
	}
	if dto.FinishedAt != nil {
		s.FinishedAt = *dto.FinishedAt
	}
	return task.Reconstruct(s)
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
