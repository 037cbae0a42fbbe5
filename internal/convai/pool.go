package convai

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/robfig/cron/v3"
)

const (
	maintenanceEvery = "@every 10s"
	refreshEvery     = "@every 15m"

	maxConnAge      = 30 * time.Minute
	maxAssignedIdle = 5 * time.Minute
	coldDialTimeout = 10 * time.Second
)

var (
	poolHotGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "agent_pool_hot_connections",
		Help: "Pre-warmed agent sockets ready for assignment.",
	})
	poolAssignedGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "agent_pool_assigned_connections",
		Help: "Agent sockets assigned to in-progress calls.",
	})
	poolColdDials = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agent_pool_cold_dials_total",
		Help: "Acquisitions that missed the hot pool and dialed directly.",
	})
)

// DialFunc opens one agent socket. Injected so tests run without network.
type DialFunc func(ctx context.Context) (Conn, error)

type entry struct {
	conn      Conn
	createdAt time.Time
	lastUsed  time.Time
	callID    string
}

// Pool keeps a target number of pre-opened agent sockets so a call can start
// talking without paying connection setup latency, plus the map of sockets
// already assigned to live calls. A connection belongs to at most one call.
type Pool struct {
	dial   DialFunc
	target int

	mu       sync.Mutex
	hot      []*entry // append order == age order, oldest first
	assigned map[string]*entry
	filling  int

	cron *cron.Cron
}

// NewPool constructs an empty pool. Call Start to warm it and begin
// background maintenance.
func NewPool(dial DialFunc, target int) *Pool {
	return &Pool{
		dial:     dial,
		target:   target,
		assigned: make(map[string]*entry),
		cron:     cron.New(),
	}
}

// Start warms the hot pool and schedules maintenance (10s) and a full hot
// refresh (15m). The returned cron handle is stopped by Stop.
func (p *Pool) Start() {
	_, _ = p.cron.AddFunc(maintenanceEvery, func() {
		p.maintain()
		p.fill()
	})
	_, _ = p.cron.AddFunc(refreshEvery, p.refresh)
	p.cron.Start()
	go p.fill()
}

// Stop cancels the background jobs and closes every connection.
func (p *Pool) Stop() {
	p.cron.Stop()
	p.mu.Lock()
	hot := p.hot
	p.hot = nil
	assigned := p.assigned
	p.assigned = make(map[string]*entry)
	p.mu.Unlock()

	for _, e := range hot {
		_ = e.conn.Close()
	}
	for _, e := range assigned {
		_ = e.conn.Close()
	}
	p.syncGauges()
}

// Acquire returns a ready agent socket for the call. Policy: an existing open
// assignment wins; otherwise the oldest hot socket is tagged and a replacement
// is warmed in the background; otherwise a direct dial bounded by
// coldDialTimeout.
func (p *Pool) Acquire(ctx context.Context, callID string) (Conn, error) {
	p.mu.Lock()
	if e, ok := p.assigned[callID]; ok {
		if !e.conn.Closed() {
			e.lastUsed = time.Now()
			p.mu.Unlock()
			return e.conn, nil
		}
		delete(p.assigned, callID)
	}

	for len(p.hot) > 0 {
		e := p.hot[0]
		p.hot = p.hot[1:]
		if e.conn.Closed() {
			continue
		}
		e.callID = callID
		e.lastUsed = time.Now()
		p.assigned[callID] = e
		p.mu.Unlock()
		p.syncGauges()
		go p.fill()
		return e.conn, nil
	}
	p.mu.Unlock()

	// Cold path: the hot pool is empty, dial directly.
	poolColdDials.Inc()
	dialCtx, cancel := context.WithTimeout(ctx, coldDialTimeout)
	defer cancel()
	conn, err := p.dial(dialCtx)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	p.mu.Lock()
	p.assigned[callID] = &entry{conn: conn, createdAt: now, lastUsed: now, callID: callID}
	p.mu.Unlock()
	p.syncGauges()
	return conn, nil
}

// Release closes and removes the call's assigned socket. Idempotent.
func (p *Pool) Release(callID string) {
	p.mu.Lock()
	e, ok := p.assigned[callID]
	if ok {
		delete(p.assigned, callID)
	}
	p.mu.Unlock()
	if ok {
		_ = e.conn.Close()
	}
	p.syncGauges()
}

// Touch records activity on an assigned socket so maintenance does not evict
// a live call as idle.
func (p *Pool) Touch(callID string) {
	p.mu.Lock()
	if e, ok := p.assigned[callID]; ok {
		e.lastUsed = time.Now()
	}
	p.mu.Unlock()
}

// Sizes reports (hot, assigned) for diagnostics and tests.
func (p *Pool) Sizes() (int, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.hot), len(p.assigned)
}

// maintain evicts closed and stale connections. Each entry is handled in
// isolation; one bad socket never blocks the rest of the sweep.
func (p *Pool) maintain() {
	now := time.Now()
	var evict []*entry

	p.mu.Lock()
	kept := p.hot[:0]
	for _, e := range p.hot {
		if e.conn.Closed() || now.Sub(e.createdAt) > maxConnAge {
			evict = append(evict, e)
			continue
		}
		kept = append(kept, e)
	}
	p.hot = kept

	for id, e := range p.assigned {
		if e.conn.Closed() || now.Sub(e.createdAt) > maxConnAge || now.Sub(e.lastUsed) > maxAssignedIdle {
			delete(p.assigned, id)
			evict = append(evict, e)
		}
	}
	hotN, assignedN := len(p.hot), len(p.assigned)
	p.mu.Unlock()

	for _, e := range evict {
		_ = e.conn.Close()
	}
	p.syncGauges()
	log.Printf("pool: hot=%d assigned=%d evicted=%d", hotN, assignedN, len(evict))
}

// fill dials new hot sockets until the target is met. Dial failures leave the
// pool under target until the next maintenance tick; a missing-credentials
// failure is expected at boot and only logged.
func (p *Pool) fill() {
	for {
		p.mu.Lock()
		if len(p.hot)+p.filling >= p.target {
			p.mu.Unlock()
			return
		}
		p.filling++
		p.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), coldDialTimeout)
		conn, err := p.dial(ctx)
		cancel()

		p.mu.Lock()
		p.filling--
		if err != nil {
			p.mu.Unlock()
			log.Printf("pool: hot dial failed: %v", err)
			return
		}
		now := time.Now()
		p.hot = append(p.hot, &entry{conn: conn, createdAt: now, lastUsed: now})
		p.mu.Unlock()
		p.syncGauges()
	}
}

// refresh closes every hot socket and warms replacements, bounding how stale
// a pre-warmed connection can get.
func (p *Pool) refresh() {
	p.mu.Lock()
	old := p.hot
	p.hot = nil
	p.mu.Unlock()

	for _, e := range old {
		_ = e.conn.Close()
	}
	log.Printf("pool: refreshed %d hot connections", len(old))
	p.fill()
}

func (p *Pool) syncGauges() {
	p.mu.Lock()
	hot, assigned := len(p.hot), len(p.assigned)
	p.mu.Unlock()
	poolHotGauge.Set(float64(hot))
	poolAssignedGauge.Set(float64(assigned))
}
