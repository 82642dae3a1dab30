package session

import "sync"

// lockMap hands out one mutex per conversation. Entries are dropped once nobody holds or waits on them.
type lockMap struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

type refLock struct {
	sync.Mutex
	refs int
}

func newLockMap() *lockMap {
	return &lockMap{locks: make(map[string]*refLock)}
}

// lock blocks until the conversation is free and returns the matching unlock.
func (l *lockMap) lock(id string) (unlock func()) {
	l.mu.Lock()
	rl, ok := l.locks[id]
	if !ok {
		rl = &refLock{}
		l.locks[id] = rl
	}
	rl.refs++
	l.mu.Unlock()

	rl.Lock()
	return func() {
		rl.Unlock()
		l.mu.Lock()
		rl.refs--
		if rl.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}

func (l *lockMap) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
