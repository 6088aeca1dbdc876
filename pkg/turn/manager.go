// Manager pools several TurnSockets against one server, for applications
// that need more than one simultaneous relay allocation (e.g. one per
// peer-to-peer media stream). Directly adapted from the teacher's
// pkg/pool/connection.go ConnectionPool: same start/stop, health-check,
// and cleanup goroutine shape, repurposed from pooling net.Conn to pooling
// TurnSocket allocations.
package turn

import (
	"context"
	"fmt"
	"sync"
	"time"

	turnerrors "github.com/khryptorgraphics/ollamamax/turnclient/pkg/errors"
)

// ManagerConfig mirrors the teacher's pool.Config, re-scoped to allocation
// pooling instead of raw connection pooling.
type ManagerConfig struct {
	MinAllocations int
	MaxAllocations int

	HealthCheckInterval time.Duration
	IdleTimeout         time.Duration
}

// DefaultManagerConfig mirrors pool.DefaultConfig's values, scaled down:
// a client rarely needs dozens of simultaneous relay allocations.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		MinAllocations:      0,
		MaxAllocations:      16,
		HealthCheckInterval: 30 * time.Second,
		IdleTimeout:         5 * time.Minute,
	}
}

// ManagerStats mirrors pool.Stats, scoped to allocation counts.
type ManagerStats struct {
	ActiveAllocations int
	IdleAllocations   int
	TotalAllocations  int

	AllocationsCreated int64
	AllocationsClosed  int64
	AllocationsReused  int64
	AllocationErrors   int64
	HealthCheckErrors  int64
}

type pooledSocket struct {
	ts       *TurnSocket
	lastUsed time.Time
}

// Manager pools TurnSocket allocations created from one Config template.
type Manager struct {
	template ManagerConfig
	newSocket func() (*TurnSocket, error)

	idle chan *pooledSocket

	mu    sync.RWMutex
	stats ManagerStats

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager creates a Manager. newSocket is called to create each fresh
// TurnSocket (typically turn.Create with a fixed Config captured by the
// caller's closure).
func NewManager(cfg ManagerConfig, newSocket func() (*TurnSocket, error)) *Manager {
	if cfg.MaxAllocations <= 0 {
		cfg = DefaultManagerConfig()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		template:  cfg,
		newSocket: newSocket,
		idle:      make(chan *pooledSocket, cfg.MaxAllocations),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start pre-populates the pool with MinAllocations allocations and starts
// the health-check and cleanup goroutines.
func (m *Manager) Start() error {
	for i := 0; i < m.template.MinAllocations; i++ {
		ps, err := m.create()
		if err != nil {
			return fmt.Errorf("create initial allocation: %w", err)
		}
		select {
		case m.idle <- ps:
		default:
			ps.ts.Destroy()
		}
	}

	m.wg.Add(2)
	go m.runHealthCheck()
	go m.runCleanup()
	return nil
}

// Stop cancels the background goroutines and destroys every pooled
// allocation.
func (m *Manager) Stop() error {
	m.cancel()
	m.wg.Wait()

	close(m.idle)
	for ps := range m.idle {
		ps.ts.Destroy()
		m.updateStats(func(s *ManagerStats) {
			s.AllocationsClosed++
			s.TotalAllocations--
		})
	}
	return nil
}

// Get returns an idle allocation if one is healthy and available,
// otherwise creates a new one (up to MaxAllocations), otherwise waits.
func (m *Manager) Get(ctx context.Context) (*TurnSocket, error) {
	select {
	case ps, ok := <-m.idle:
		if !ok {
			return nil, turnerrors.Of("turn.Manager.Get", turnerrors.KindInvalidState, fmt.Errorf("manager stopped"))
		}
		if healthy(ps.ts) {
			m.updateStats(func(s *ManagerStats) {
				s.AllocationsReused++
				s.ActiveAllocations++
				s.IdleAllocations--
			})
			return ps.ts, nil
		}
		ps.ts.Destroy()
		m.updateStats(func(s *ManagerStats) {
			s.AllocationsClosed++
			s.TotalAllocations--
		})
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	m.mu.RLock()
	canCreate := m.stats.TotalAllocations < m.template.MaxAllocations
	m.mu.RUnlock()

	if canCreate {
		ps, err := m.create()
		if err != nil {
			m.updateStats(func(s *ManagerStats) { s.AllocationErrors++ })
			return nil, err
		}
		m.updateStats(func(s *ManagerStats) { s.ActiveAllocations++ })
		return ps.ts, nil
	}

	select {
	case ps, ok := <-m.idle:
		if !ok {
			return nil, turnerrors.Of("turn.Manager.Get", turnerrors.KindInvalidState, fmt.Errorf("manager stopped"))
		}
		if healthy(ps.ts) {
			m.updateStats(func(s *ManagerStats) {
				s.AllocationsReused++
				s.ActiveAllocations++
				s.IdleAllocations--
			})
			return ps.ts, nil
		}
		ps.ts.Destroy()
		return m.Get(ctx)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Put returns ts to the pool for reuse, or destroys it if the pool is full
// or ts is no longer healthy.
func (m *Manager) Put(ts *TurnSocket) error {
	if ts == nil {
		return fmt.Errorf("turn.Manager.Put: nil socket")
	}
	if !healthy(ts) {
		ts.Destroy()
		m.updateStats(func(s *ManagerStats) {
			s.AllocationsClosed++
			s.TotalAllocations--
			s.ActiveAllocations--
		})
		return nil
	}

	select {
	case m.idle <- &pooledSocket{ts: ts, lastUsed: time.Now()}:
		m.updateStats(func(s *ManagerStats) {
			s.ActiveAllocations--
			s.IdleAllocations++
		})
		return nil
	default:
		ts.Destroy()
		m.updateStats(func(s *ManagerStats) {
			s.AllocationsClosed++
			s.TotalAllocations--
			s.ActiveAllocations--
		})
		return nil
	}
}

// Stats returns a snapshot of pool statistics.
func (m *Manager) Stats() ManagerStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stats
}

func (m *Manager) create() (*pooledSocket, error) {
	ts, err := m.newSocket()
	if err != nil {
		return nil, err
	}
	m.updateStats(func(s *ManagerStats) {
		s.AllocationsCreated++
		s.TotalAllocations++
	})
	return &pooledSocket{ts: ts, lastUsed: time.Now()}, nil
}

func (m *Manager) updateStats(fn func(*ManagerStats)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(&m.stats)
}

// healthy reports whether ts's session is still usable: anything short of
// deallocating/destroying.
func healthy(ts *TurnSocket) bool {
	session := ts.sessionHandle()
	return session != nil && session.State() < StateDeallocating
}

func (m *Manager) runHealthCheck() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.template.HealthCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.performHealthCheck()
		}
	}
}

func (m *Manager) performHealthCheck() {
	var idle []*pooledSocket
	for {
		select {
		case ps := <-m.idle:
			idle = append(idle, ps)
		default:
			goto checked
		}
	}
checked:
	for _, ps := range idle {
		if healthy(ps.ts) {
			select {
			case m.idle <- ps:
			default:
				ps.ts.Destroy()
				m.updateStats(func(s *ManagerStats) {
					s.AllocationsClosed++
					s.TotalAllocations--
					s.IdleAllocations--
				})
			}
			continue
		}
		ps.ts.Destroy()
		m.updateStats(func(s *ManagerStats) {
			s.AllocationsClosed++
			s.TotalAllocations--
			s.IdleAllocations--
			s.HealthCheckErrors++
		})
	}
}

func (m *Manager) runCleanup() {
	defer m.wg.Done()
	interval := m.template.IdleTimeout / 2
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.performCleanup()
		}
	}
}

// performCleanup evicts idle allocations that have sat unused longer than
// IdleTimeout.
func (m *Manager) performCleanup() {
	var keep []*pooledSocket
	cutoff := time.Now().Add(-m.template.IdleTimeout)
	for {
		select {
		case ps := <-m.idle:
			if ps.lastUsed.Before(cutoff) {
				ps.ts.Destroy()
				m.updateStats(func(s *ManagerStats) {
					s.AllocationsClosed++
					s.TotalAllocations--
					s.IdleAllocations--
				})
				continue
			}
			keep = append(keep, ps)
		default:
			goto requeue
		}
	}
requeue:
	for _, ps := range keep {
		select {
		case m.idle <- ps:
		default:
			ps.ts.Destroy()
		}
	}
}
