//go:build !unix && !windows

package fsutil

import "os"

// ファイルロックのないプラットフォームではプロセス内の排他だけになる
func tryLock(f *os.File) error { return nil }

func unlock(f *os.File) error { return nil }
