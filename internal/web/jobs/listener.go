package jobs

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

// Listener wakes worker pools when Enqueue issues NOTIFY on their queue channel
type Listener struct {
	listener *pq.Listener
	pools    map[string][]*WorkerPool
	logger   *zap.Logger
}

// NewListener opens a dedicated LISTEN connection for the pools' queues
func NewListener(dsn string, pools []*WorkerPool, logger *zap.Logger) (*Listener, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	l := &Listener{pools: make(map[string][]*WorkerPool), logger: logger}
	l.listener = pq.NewListener(dsn, time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			logger.Warn("job listener connection event", zap.Int("event", int(ev)), zap.Error(err))
		}
	})

	for _, p := range pools {
		q := p.Queue()
		if _, seen := l.pools[q]; !seen {
			if err := l.listener.Listen(Channel(q)); err != nil {
				l.listener.Close()
				return nil, fmt.Errorf("failed to listen on %s: %w", Channel(q), err)
			}
		}
		l.pools[q] = append(l.pools[q], p)
	}
	return l, nil
}

// Run dispatches notifications until ctx is cancelled. After a reconnect
// every pool is woken since notifications may have been missed.
func (l *Listener) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-l.listener.Notify:
			if !ok {
				return
			}
			if n == nil {
				l.wakeAll()
				continue
			}
			l.wake(strings.TrimPrefix(n.Channel, "jobs_"))
		case <-time.After(90 * time.Second):
			if err := l.listener.Ping(); err != nil {
				l.logger.Warn("job listener ping failed", zap.Error(err))
			}
		}
	}
}

func (l *Listener) wake(queue string) {
	for _, p := range l.pools[queue] {
		p.Notify()
	}
}

func (l *Listener) wakeAll() {
	for q := range l.pools {
		l.wake(q)
	}
}

// Close closes the LISTEN connection
func (l *Listener) Close() error {
	return l.listener.Close()
}
