package track

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/skyspotter/overhead/pkg/adsb"
	"github.com/skyspotter/overhead/pkg/geo"
)

// Publisher receives every snapshot the poller produces.
type Publisher func(Snapshot)

// PollerConfig contains the polling cadence.
type PollerConfig struct {
	// Interval between upstream fetches while subscribers exist
	Interval time.Duration

	// IdleStopDelay debounces the stop after the last unsubscribe, so
	// a quick reconnect does not cold-start the upstream source
	IdleStopDelay time.Duration

	// FetchTimeout bounds one upstream request (default: Interval)
	FetchTimeout time.Duration
}

// Poller drives the upstream source while anyone is listening and goes
// idle when nobody is. Subscribe/Unsubscribe are called from connection
// handlers; the fetch loop runs on its own goroutine.
type Poller struct {
	source  adsb.Source
	box     geo.BoundingBox
	obs     Observer
	filter  FilterConfig
	cfg     PollerConfig
	publish Publisher

	mu          sync.Mutex
	baseCtx     context.Context
	subscribers int
	cancel      context.CancelFunc
	stopTimer   *time.Timer
	seq         uint64

	wg sync.WaitGroup
}

// NewPoller wires a poller to its source and snapshot consumer.
func NewPoller(source adsb.Source, obs Observer, radiusKm float64, filter FilterConfig, cfg PollerConfig, publish Publisher) *Poller {
	if cfg.FetchTimeout == 0 {
		cfg.FetchTimeout = cfg.Interval
	}
	return &Poller{
		source:  source,
		box:     geo.NewBoundingBox(obs.Latitude, obs.Longitude, radiusKm),
		obs:     obs,
		filter:  filter,
		cfg:     cfg,
		publish: publish,
		baseCtx: context.Background(),
	}
}

// Start sets the lifetime context. Polling still waits for the first
// subscriber.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.baseCtx = ctx
}

// Subscribe registers one listener. The first subscriber starts the
// fetch loop; a subscriber arriving during the idle-stop debounce
// cancels the pending stop.
func (p *Poller) Subscribe() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.subscribers++
	if p.stopTimer != nil {
		p.stopTimer.Stop()
		p.stopTimer = nil
	}
	if p.cancel == nil {
		ctx, cancel := context.WithCancel(p.baseCtx)
		p.cancel = cancel
		p.wg.Add(1)
		go p.loop(ctx)
		log.Printf("Poller started (%d subscriber)", p.subscribers)
	}
}

// Unsubscribe removes one listener. When the count hits zero the loop
// stops after the debounce delay, unless someone resubscribes first.
func (p *Poller) Unsubscribe() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.subscribers > 0 {
		p.subscribers--
	}
	if p.subscribers > 0 || p.cancel == nil || p.stopTimer != nil {
		return
	}

	p.stopTimer = time.AfterFunc(p.cfg.IdleStopDelay, func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.stopTimer = nil
		if p.subscribers == 0 && p.cancel != nil {
			p.cancel()
			p.cancel = nil
			log.Printf("Poller stopped: no subscribers")
		}
	})
}

// Subscribers returns the current listener count.
func (p *Poller) Subscribers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.subscribers
}

// Close stops polling regardless of subscriber count and waits for the
// loop to exit.
func (p *Poller) Close() {
	p.mu.Lock()
	if p.stopTimer != nil {
		p.stopTimer.Stop()
		p.stopTimer = nil
	}
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.mu.Unlock()
	p.wg.Wait()
}

// loop fetches immediately, then on every tick until cancelled. Ticks
// never overlap: a slow fetch simply delays the next one.
func (p *Poller) loop(ctx context.Context) {
	defer p.wg.Done()

	p.tick(ctx)

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

// tick runs one fetch-filter-publish cycle. Fetch failures are logged
// and absorbed; the interval itself acts as the retry backoff.
func (p *Poller) tick(ctx context.Context) {
	fetchCtx, cancel := context.WithTimeout(ctx, p.cfg.FetchTimeout)
	defer cancel()

	states, err := p.source.FetchStates(fetchCtx, p.box)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		log.Printf("Poller fetch failed: %v", err)
		return
	}

	p.mu.Lock()
	p.seq++
	seq := p.seq
	p.mu.Unlock()

	snapshot := BuildSnapshot(seq, time.Now().UTC(), p.obs, p.filter, states)
	p.publish(snapshot)
}
