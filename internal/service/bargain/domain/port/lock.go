package port

import "context"

// Locker 提供按会话ID的互斥。同一个 key 的所有修改和清理都必须持有锁。
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}
