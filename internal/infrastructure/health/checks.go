package health

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"
)

// CheckFunc は1つの依存先を確認する。問題がなければ nil
type CheckFunc func(ctx context.Context) error

// Result は1チェックの結果
type Result struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

// Report は全チェックの結果
type Report struct {
	Status string            `json:"status"` // "ok" | "degraded"
	Checks map[string]Result `json:"checks"`
}

// Healthy は全チェックが通ったかを返す
func (r Report) Healthy() bool {
	return r.Status == "ok"
}

// Checker は名前付きのチェックを並行に実行する
type Checker struct {
	timeout time.Duration
	names   []string
	checks  map[string]CheckFunc
}

// NewChecker は新しいCheckerを作成
func NewChecker(timeout time.Duration) *Checker {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Checker{timeout: timeout, checks: make(map[string]CheckFunc)}
}

// Register はチェックを登録する。同名のチェックは置き換える
func (c *Checker) Register(name string, fn CheckFunc) {
	if _, exists := c.checks[name]; !exists {
		c.names = append(c.names, name)
	}
	c.checks[name] = fn
}

// Run は全チェックを実行する。各チェックは timeout で打ち切る
func (c *Checker) Run(ctx context.Context) Report {
	report := Report{Status: "ok", Checks: make(map[string]Result, len(c.names))}

	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, name := range c.names {
		fn := c.checks[name]
		wg.Add(1)
		go func() {
			defer wg.Done()
			checkCtx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()

			res := Result{OK: true, Message: "ok"}
			if err := fn(checkCtx); err != nil {
				res = Result{OK: false, Message: err.Error()}
			}

			mu.Lock()
			report.Checks[name] = res
			if !res.OK {
				report.Status = "degraded"
			}
			mu.Unlock()
		}()
	}
	wg.Wait()
	return report
}

// Pinger は Ping を持つストア（*sqlite.Store など）
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck はストアへの疎通を確認する
func PingCheck(p Pinger) CheckFunc {
	return func(ctx context.Context) error {
		return p.Ping(ctx)
	}
}

// DirCheck はディレクトリが存在するかを確認する
func DirCheck(dir string) CheckFunc {
	return func(ctx context.Context) error {
		info, err := os.Stat(dir)
		if err != nil {
			return fmt.Errorf("unavailable: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("%s is not a directory", dir)
		}
		return nil
	}
}

// HTTPCheck は baseURL が 200 を返すかを確認する（Ollama のルートなど）
func HTTPCheck(client *http.Client, baseURL string) CheckFunc {
	if client == nil {
		client = http.DefaultClient
	}
	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimSuffix(baseURL, "/")+"/", nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("unreachable: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("status %d", resp.StatusCode)
		}
		return nil
	}
}
