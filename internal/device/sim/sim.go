// Package sim provides an in-process radio and keyturner locks for tests and
// the test server. The radio records any overlap between radio operations so
// callers can assert that device traffic is serialized.
package sim

import (
	"context"
	"crypto/rand"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/seantiz/keyturner/internal/device"
	"github.com/seantiz/keyturner/internal/model"
)

// Compile-time interface satisfaction checks.
var (
	_ device.Radio   = (*Radio)(nil)
	_ device.Session = (*session)(nil)
)

// Option configures a Radio.
type Option func(*Radio)

// WithLatency sets how long every session command takes.
func WithLatency(d time.Duration) Option {
	return func(r *Radio) { r.latency = d }
}

// WithScanDelay sets how long Discover and Find take at most.
func WithScanDelay(d time.Duration) Option {
	return func(r *Radio) { r.scanDelay = d }
}

// Radio is a simulated radio with a set of locks in range.
type Radio struct {
	latency   time.Duration
	scanDelay time.Duration

	mu    sync.Mutex
	locks map[string]*Lock

	busy       atomic.Int32
	overlaps   atomic.Int32
	operations atomic.Int64
}

// NewRadio creates a simulated radio with no locks in range.
func NewRadio(opts ...Option) *Radio {
	r := &Radio{
		locks: make(map[string]*Lock),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// AddLock places a lock in range of the radio.
func (r *Radio) AddLock(l *Lock) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.locks[l.Address] = l
}

// Lock returns the simulated lock with the given address.
func (r *Radio) Lock(address string) (*Lock, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[model.NormalizeAddress(address)]
	return l, ok
}

// Overlaps reports how many radio operations started while another was in flight.
func (r *Radio) Overlaps() int {
	return int(r.overlaps.Load())
}

// Operations reports the number of radio operations performed.
func (r *Radio) Operations() int64 {
	return r.operations.Load()
}

// Discover returns every reachable lock, sorted by address.
func (r *Radio) Discover(timeout time.Duration) ([]device.Advertisement, error) {
	defer r.enter()()
	time.Sleep(min(r.scanDelay, timeout))

	r.mu.Lock()
	defer r.mu.Unlock()

	var ads []device.Advertisement
	for _, l := range r.locks {
		if l.Reachable() {
			ads = append(ads, l.advertisement())
		}
	}
	sort.Slice(ads, func(i, j int) bool { return ads[i].Address < ads[j].Address })
	return ads, nil
}

// Find returns the advertisement of a reachable lock, or nil if it is out of range.
func (r *Radio) Find(address string, timeout time.Duration) (*device.Advertisement, error) {
	defer r.enter()()
	time.Sleep(min(r.scanDelay, timeout))

	l, ok := r.Lock(address)
	if !ok || !l.Reachable() {
		return nil, nil
	}
	adv := l.advertisement()
	return &adv, nil
}

// Open prepares a session to the advertised lock.
func (r *Radio) Open(adv device.Advertisement, creds device.Credentials) (device.Session, error) {
	l, ok := r.Lock(adv.Address)
	if !ok {
		return nil, fmt.Errorf("open %s: no such device", adv.Address)
	}
	return &session{radio: r, lock: l, creds: creds}, nil
}

// Capabilities reports the simulated command set.
func (r *Radio) Capabilities() device.Capabilities {
	return device.Capabilities{
		Name:      "sim",
		Commands:  []string{"discover", "pair", "state", "lock", "unlock", "unlatch"},
		Simulated: true,
	}
}

// enter marks the radio busy and returns the matching leave func.
func (r *Radio) enter() func() {
	r.operations.Add(1)
	if r.busy.Add(1) > 1 {
		r.overlaps.Add(1)
	}
	return func() { r.busy.Add(-1) }
}

// sleep waits for the configured latency or until ctx is done.
func (r *Radio) sleep(ctx context.Context) error {
	if r.latency <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(r.latency)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func randomBytes(n int) []byte {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("sim: read random bytes: %v", err))
	}
	return b
}
