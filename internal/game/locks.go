package game

import "sync"

// sessionLock 带引用计数的会话锁
type sessionLock struct {
	mu   sync.Mutex
	refs int
}

// LockManager 按会话ID串行化操作的锁管理器
// 同一会话的提交必须完整结束后才处理下一个；不同会话互不等待
type LockManager struct {
	mu    sync.Mutex
	locks map[string]*sessionLock
}

// NewLockManager 创建锁管理器
func NewLockManager() *LockManager {
	return &LockManager{
		locks: make(map[string]*sessionLock),
	}
}

// Lock 获取会话锁，阻塞直到同会话的前一个操作完成
func (m *LockManager) Lock(sessionID string) {
	m.mu.Lock()
	l, ok := m.locks[sessionID]
	if !ok {
		l = &sessionLock{}
		m.locks[sessionID] = l
	}
	l.refs++
	m.mu.Unlock()

	l.mu.Lock()
}

// Unlock 释放会话锁，无等待者时回收条目
func (m *LockManager) Unlock(sessionID string) {
	m.mu.Lock()
	l, ok := m.locks[sessionID]
	if !ok {
		m.mu.Unlock()
		return
	}
	l.refs--
	if l.refs <= 0 {
		delete(m.locks, sessionID)
	}
	m.mu.Unlock()

	l.mu.Unlock()
}
