package httpserver

import (
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// New stream connections per second and burst, per client IP.
const (
	streamConnectRate  = 5.0
	streamConnectBurst = 10

	rateEntryIdle   = 10 * time.Minute
	rateSweepPeriod = 5 * time.Minute
)

// LimitReason describes why a stream connection was refused. It doubles as
// the metric label.
type LimitReason string

const (
	LimitReasonGlobal LimitReason = "global_limit"
	LimitReasonPerIP  LimitReason = "per_ip_limit"
	LimitReasonRate   LimitReason = "rate_limit"

	// LimitReasonPerRecipient comes from the registry, not from ConnectionLimits.
	LimitReasonPerRecipient LimitReason = "per_recipient_limit"
)

// ConnectionLimits guards the long-lived stream endpoints with a process-wide
// cap, a per-IP cap and a per-IP connect rate.
type ConnectionLimits struct {
	current atomic.Int64
	max     int64

	mu     sync.Mutex
	perIP  map[string]int
	maxPer int

	rateMu    sync.Mutex
	limiters  map[string]*rateEntry
	rate      rate.Limit
	burst     int
	now       func() time.Time
	nextSweep time.Time
}

type rateEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewConnectionLimits(globalMax int64, perIPMax int, connectionsPerSecond float64, burst int) *ConnectionLimits {
	return &ConnectionLimits{
		max:       globalMax,
		perIP:     make(map[string]int),
		maxPer:    perIPMax,
		limiters:  make(map[string]*rateEntry),
		rate:      rate.Limit(connectionsPerSecond),
		burst:     burst,
		now:       time.Now,
		nextSweep: time.Now().Add(rateSweepPeriod),
	}
}

// Acquire takes a slot for ip. On success the caller must call Release.
func (l *ConnectionLimits) Acquire(ip string) (bool, LimitReason) {
	if !l.allow(ip) {
		return false, LimitReasonRate
	}
	if !l.acquireGlobal() {
		return false, LimitReasonGlobal
	}
	if !l.acquireIP(ip) {
		l.current.Add(-1)
		return false, LimitReasonPerIP
	}
	return true, ""
}

func (l *ConnectionLimits) Release(ip string) {
	l.mu.Lock()
	if n := l.perIP[ip]; n > 1 {
		l.perIP[ip] = n - 1
	} else {
		delete(l.perIP, ip)
	}
	l.mu.Unlock()

	l.current.Add(-1)
}

// Current is the number of held slots across all IPs.
func (l *ConnectionLimits) Current() int64 {
	return l.current.Load()
}

func (l *ConnectionLimits) CountIP(ip string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.perIP[ip]
}

func (l *ConnectionLimits) acquireGlobal() bool {
	for {
		current := l.current.Load()
		if current >= l.max {
			return false
		}
		if l.current.CompareAndSwap(current, current+1) {
			return true
		}
	}
}

func (l *ConnectionLimits) acquireIP(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.perIP[ip] >= l.maxPer {
		return false
	}
	l.perIP[ip]++
	return true
}

func (l *ConnectionLimits) allow(ip string) bool {
	l.rateMu.Lock()
	defer l.rateMu.Unlock()

	now := l.now()
	if now.After(l.nextSweep) {
		cutoff := now.Add(-rateEntryIdle)
		for key, entry := range l.limiters {
			if entry.lastSeen.Before(cutoff) {
				delete(l.limiters, key)
			}
		}
		l.nextSweep = now.Add(rateSweepPeriod)
	}

	entry, ok := l.limiters[ip]
	if !ok {
		entry = &rateEntry{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.limiters[ip] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}
