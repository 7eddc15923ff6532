package auth

func (l *Local) LimiterCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}
