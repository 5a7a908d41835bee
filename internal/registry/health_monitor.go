package registry

import (
	"context"
	"log"
	"sync"
	"time"
)

// ShardHealth tracks the health of a single registered shard.
type ShardHealth struct {
	Addr             string    // Shard address
	Status           string    // "healthy", "unhealthy", "unknown"
	LastCheck        time.Time // Timestamp of the last check attempt
	LastHealthy      time.Time // Timestamp of the last successful check
	ConsecutiveFails int       // Consecutive failed checks
}

// HealthMonitor periodically pings every registered shard through its
// pooled connection and reports shards that stop responding. It does not
// deregister anything itself; the owner decides what to do with an
// unhealthy shard via the callback (typically Reregister, or Deregister
// after operator action).
type HealthMonitor struct {
	registry    *Registry
	shards      map[string]*ShardHealth
	checkFunc   func(ctx context.Context, addr string) error
	onUnhealthy func(addr string)
	interval    time.Duration
	timeout     time.Duration
	maxFailures int
	ctx         context.Context
	cancel      context.CancelFunc
	mu          sync.RWMutex
	wg          sync.WaitGroup
}

// NewHealthMonitor creates a monitor that checks each of the registry's
// shards every interval. Shards are marked unhealthy after 3 consecutive
// failures; each check is bounded by a 2 second timeout.
func NewHealthMonitor(registry *Registry, interval time.Duration) *HealthMonitor {
	ctx, cancel := context.WithCancel(context.Background())

	m := &HealthMonitor{
		registry:    registry,
		shards:      make(map[string]*ShardHealth),
		interval:    interval,
		timeout:     2 * time.Second,
		maxFailures: 3,
		ctx:         ctx,
		cancel:      cancel,
	}
	m.checkFunc = m.defaultCheck
	return m
}

// SetOnUnhealthy sets the callback invoked (on its own goroutine) when a
// shard transitions to unhealthy.
func (m *HealthMonitor) SetOnUnhealthy(callback func(addr string)) {
	m.onUnhealthy = callback
}

// SetCheckFunction overrides the default ping-based check. Used by tests.
func (m *HealthMonitor) SetCheckFunction(check func(ctx context.Context, addr string) error) {
	m.checkFunc = check
}

// Start runs the monitoring loop until the context (or Stop) cancels it.
// An initial sweep happens immediately.
func (m *HealthMonitor) Start(ctx context.Context) {
	m.wg.Add(1)
	defer m.wg.Done()

	if ctx == nil {
		ctx = m.ctx
	}

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	log.Printf("health monitor started with interval %v", m.interval)
	m.checkAll()

	for {
		select {
		case <-ticker.C:
			m.checkAll()
		case <-ctx.Done():
			return
		case <-m.ctx.Done():
			return
		}
	}
}

// Stop cancels the monitoring loop and waits for it to finish.
func (m *HealthMonitor) Stop() {
	m.cancel()
	m.wg.Wait()
}

// checkAll sweeps every registered shard and forgets shards that have
// been deregistered since the last sweep.
func (m *HealthMonitor) checkAll() {
	addrs := m.registry.List()

	current := make(map[string]bool, len(addrs))
	for _, addr := range addrs {
		current[addr] = true
		m.checkShard(addr)
	}

	m.mu.Lock()
	for addr := range m.shards {
		if !current[addr] {
			delete(m.shards, addr)
		}
	}
	m.mu.Unlock()
}

// checkShard runs one check against a shard and updates its record,
// firing the unhealthy callback on the healthy->unhealthy transition.
func (m *HealthMonitor) checkShard(addr string) {
	m.mu.Lock()
	health, exists := m.shards[addr]
	if !exists {
		health = &ShardHealth{
			Addr:        addr,
			Status:      "unknown",
			LastCheck:   time.Now(),
			LastHealthy: time.Now(),
		}
		m.shards[addr] = health
	}
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(m.ctx, m.timeout)
	err := m.checkFunc(ctx, addr)
	cancel()

	m.mu.Lock()
	defer m.mu.Unlock()

	health.LastCheck = time.Now()

	if err != nil {
		health.ConsecutiveFails++
		log.Printf("health check failed for shard %s (attempt %d/%d): %v",
			addr, health.ConsecutiveFails, m.maxFailures, err)

		if health.ConsecutiveFails >= m.maxFailures && health.Status != "unhealthy" {
			health.Status = "unhealthy"
			log.Printf("shard %s marked unhealthy after %d failures", addr, health.ConsecutiveFails)
			if m.onUnhealthy != nil {
				// Run the callback without holding the lock.
				go m.onUnhealthy(addr)
			}
		}
		return
	}

	if health.Status == "unhealthy" {
		log.Printf("shard %s recovered", addr)
	}
	health.Status = "healthy"
	health.ConsecutiveFails = 0
	health.LastHealthy = time.Now()
}

// defaultCheck pings the shard through its pooled handle. A missing
// handle counts as a failure: the registry invariant says every entry has
// one.
func (m *HealthMonitor) defaultCheck(ctx context.Context, addr string) error {
	conn, err := m.registry.Pool().Get(addr)
	if err != nil {
		return err
	}
	return conn.Ping(ctx)
}

// ShardHealth returns a copy of the health record for addr, or nil if the
// shard is not being monitored.
func (m *HealthMonitor) ShardHealth(addr string) *ShardHealth {
	m.mu.RLock()
	defer m.mu.RUnlock()

	health, exists := m.shards[addr]
	if !exists {
		return nil
	}
	cp := *health
	return &cp
}

// IsHealthy reports whether addr is currently healthy. Unmonitored shards
// report false.
func (m *HealthMonitor) IsHealthy(addr string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	health, exists := m.shards[addr]
	return exists && health.Status == "healthy"
}
