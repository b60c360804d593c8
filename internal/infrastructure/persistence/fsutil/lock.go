package fsutil

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// errWouldBlock は他のプロセスがロックを保持している
var errWouldBlock = errors.New("lock held by another process")

const lockPollInterval = 10 * time.Millisecond

// FileLock はサイドカーファイルに対する排他アドバイザリロック
// 同じファイルを書き換える複数プロセスの read-modify-write を直列化する
type FileLock struct {
	f *os.File
}

// Lock は path のロックを取得するまで待つ。ctx が終了したら諦める
// ロックファイルがなければ作成する
func Lock(ctx context.Context, path string) (*FileLock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file: %w", err)
	}

	for {
		err := tryLock(f)
		if err == nil {
			return &FileLock{f: f}, nil
		}
		if !errors.Is(err, errWouldBlock) {
			f.Close()
			return nil, fmt.Errorf("failed to lock %s: %w", path, err)
		}
		select {
		case <-ctx.Done():
			f.Close()
			return nil, ctx.Err()
		case <-time.After(lockPollInterval):
		}
	}
}

// Unlock はロックを解放する
func (l *FileLock) Unlock() error {
	unlockErr := unlock(l.f)
	closeErr := l.f.Close()
	return errors.Join(unlockErr, closeErr)
}
