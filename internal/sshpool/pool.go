// Package sshpool maintains per-host cached authenticated remote sessions,
// hands out exclusive leases, and amortises the cost of the SSH handshake
// across many short commands. Pool structure is protected by a single
// mutex; the handshake itself runs with no lock held, so concurrent
// acquires against different (or the same) host key proceed in parallel up
// to the per-host cap.
package sshpool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ehrlich-b/termgate/internal/gatewayerr"
)

// HostKey partitions the pool. Go struct equality gives spec.md's
// "structural equality and hashing" for free — no custom Hash impl needed.
type HostKey struct {
	Host string
	Port int
	User string
}

func (k HostKey) String() string {
	return fmt.Sprintf("%s@%s:%d", k.User, k.Host, k.Port)
}

// Config mirrors spec.md §4.2's documented defaults.
type Config struct {
	MaxPerHost     int
	IdleTimeout    time.Duration
	ConnectTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{MaxPerHost: 10, IdleTimeout: 300 * time.Second, ConnectTimeout: 10 * time.Second}
}

// entry wraps one authenticated remote session. last_used age beyond
// IdleTimeout marks it expired; invalid marks a session left in an
// inconsistent state by an abandoned command (spec.md §9).
type entry struct {
	client   sshClient
	lastUsed time.Time
	inUse    bool
	invalid  bool
}

func (e *entry) expired(timeout time.Duration) bool {
	return time.Since(e.lastUsed) > timeout
}

// dialFunc opens and authenticates a new remote connection. It is a field
// on Pool (not a free function) so tests can substitute a fake without a
// real network or sshd.
type dialFunc func(ctx context.Context, key HostKey, keyPath string, timeout time.Duration) (sshClient, error)

// Pool holds one entry list per host key.
type Pool struct {
	cfg  Config
	dial dialFunc

	mu     sync.Mutex
	byHost map[HostKey][]*entry
}

// New constructs a Pool that dials real SSH servers via golang.org/x/crypto/ssh.
func New(cfg Config) *Pool {
	return newWithDialer(cfg, realDial)
}

func newWithDialer(cfg Config, dial dialFunc) *Pool {
	return &Pool{cfg: cfg, dial: dial, byHost: make(map[HostKey][]*entry)}
}

// Lease is an exclusive loan of a pooled connection. It holds the pool
// pointer, the host key and the leased entry — no back-reference from the
// pool to the lease — so the lease cannot keep the pool alive past
// teardown (spec.md §9's ownership-cycle note). Callers must explicitly `defer lease.Release()`;
// Go has no Drop, so nothing releases a lease automatically.
type Lease struct {
	pool  *Pool
	key   HostKey
	entry *entry
}

// Acquire implements spec.md §4.2's five-step algorithm: lock, prune
// expired/invalid entries, reuse a free one if present, else reserve a new
// slot and dial it with the pool mutex released, else fail with ErrPoolFull.
func (p *Pool) Acquire(ctx context.Context, key HostKey, keyPath string) (*Lease, error) {
	p.mu.Lock()

	list := p.pruneLocked(key)

	for _, e := range list {
		if !e.inUse && !e.invalid {
			e.inUse = true
			e.lastUsed = time.Now()
			p.mu.Unlock()
			return &Lease{pool: p, key: key, entry: e}, nil
		}
	}

	if len(list) >= p.cfg.MaxPerHost {
		p.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", gatewayerr.ErrPoolFull, key)
	}

	// Reserve the slot before releasing the lock so a concurrent Acquire
	// can't also decide there's room; the handshake itself runs unlocked.
	placeholder := &entry{inUse: true, lastUsed: time.Now()}
	p.byHost[key] = append(list, placeholder)
	p.mu.Unlock()

	client, err := p.dial(ctx, key, keyPath, p.cfg.ConnectTimeout)
	if err != nil {
		p.mu.Lock()
		p.removeLocked(key, placeholder)
		p.mu.Unlock()
		return nil, err
	}

	p.mu.Lock()
	placeholder.client = client
	p.mu.Unlock()

	return &Lease{pool: p, key: key, entry: placeholder}, nil
}

// pruneLocked drops idle-expired and invalid entries that are not
// currently in use, and returns the (possibly shortened) list for key. Must
// be called with p.mu held.
func (p *Pool) pruneLocked(key HostKey) []*entry {
	list := p.byHost[key]
	kept := list[:0]
	for _, e := range list {
		if !e.inUse && (e.invalid || e.expired(p.cfg.IdleTimeout)) {
			if e.client != nil {
				_ = e.client.Close()
			}
			continue
		}
		kept = append(kept, e)
	}
	p.byHost[key] = kept
	return kept
}

func (p *Pool) removeLocked(key HostKey, target *entry) {
	list := p.byHost[key]
	for i, e := range list {
		if e == target {
			p.byHost[key] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

// release clears in_use and refreshes last_used. Safe to call from any
// context, including after a timeout.
func (p *Pool) release(e *entry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e.inUse = false
	e.lastUsed = time.Now()
}

// markInvalid flags an entry as non-reusable; the next prune pass evicts it
// rather than returning it to the free list (spec.md §9).
func (p *Pool) markInvalid(e *entry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e.invalid = true
}

// Release returns the lease's entry to the pool. Must be called exactly
// once per successful Acquire, typically via `defer`.
func (l *Lease) Release() {
	l.pool.release(l.entry)
}

// Stat reports pool occupancy for one host key.
type Stat struct {
	Total int
	InUse int
}

// Stats exposes pool occupancy for monitoring and the pool-reuse testable
// property (spec.md §8 scenario 6).
func (p *Pool) Stats() map[HostKey]Stat {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make(map[HostKey]Stat, len(p.byHost))
	for key, list := range p.byHost {
		inUse := 0
		for _, e := range list {
			if e.inUse {
				inUse++
			}
		}
		out[key] = Stat{Total: len(list), InUse: inUse}
	}
	return out
}
