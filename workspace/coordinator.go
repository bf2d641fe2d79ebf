package workspace

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/orneryd/contentengine/contenterr"
	"github.com/orneryd/contentengine/itemstate"
)

// CacheBehaviour is the Invalidate | Observation setting carried in
// Config. The Coordinator stores it but does not read it: the change
// feed dispatches every delivered event to its listener the same way
// under either value.
type CacheBehaviour int

const (
	CacheInvalidate CacheBehaviour = iota
	CacheObservation
)

// Config is the Coordinator's environment-sourced configuration
// (spec.md §6).
type Config struct {
	CacheBehaviour CacheBehaviour
	PollTimeout    time.Duration
}

// DefaultConfig mirrors the teacher's pattern of a package-level
// constructor for sane defaults (pkg/storage.DefaultAsyncEngineConfig).
func DefaultConfig() Config {
	return Config{CacheBehaviour: CacheInvalidate, PollTimeout: 30 * time.Second}
}

// listenerRegistration pairs a filter descriptor with the callback to
// fan events out to (spec.md §4.5's "internal listeners ... register
// with filter descriptors").
type listenerRegistration struct {
	filter   EventFilter
	callback func(itemstate.Event)
}

// Coordinator mediates between client-issued mutations and the
// asynchronous Repository Service change feed, grounded on
// pkg/storage/async_engine.go's background-worker shape: a dedicated
// goroutine polling the service and a mutex-guarded handoff into
// listener dispatch, replacing the teacher's time.Ticker-driven flush
// loop with spec.md's condition-variable-gated poll loop.
type Coordinator struct {
	service RepositoryService
	locks   *LockManager
	config  Config

	// updateMu is the binary, non-reentrant update mutex: held for the
	// duration of any client mutation, and by the poll worker while
	// fanning out a delivered event bundle (spec.md §4.5).
	updateMu sync.Mutex

	listenersMu sync.Mutex
	listeners   map[string]*listenerRegistration
	haveListener *sync.Cond

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewCoordinator builds a Coordinator over service. If the service
// advertises observation support, a change-polling worker goroutine is
// started immediately (spec.md §4.5).
func NewCoordinator(service RepositoryService, locks *LockManager, config Config) *Coordinator {
	c := &Coordinator{
		service:   service,
		locks:     locks,
		config:    config,
		listeners: make(map[string]*listenerRegistration),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
	c.haveListener = sync.NewCond(&c.listenersMu)

	if service.SupportsObservation() {
		go c.pollLoop()
	} else {
		close(c.doneCh)
	}
	return c
}

// Close stops the poll worker, if running, and waits for it to exit.
func (c *Coordinator) Close() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
		c.listenersMu.Lock()
		c.haveListener.Broadcast()
		c.listenersMu.Unlock()
	})
	<-c.doneCh
}

// AddListener registers an internal listener (hierarchy invalidation,
// node-type coherence, per-session lock listeners) under filter.
func (c *Coordinator) AddListener(filter EventFilter, callback func(itemstate.Event)) {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	c.listeners[filter.ID] = &listenerRegistration{filter: filter, callback: callback}
	c.haveListener.Broadcast()
}

// RemoveListener deregisters a previously added listener.
func (c *Coordinator) RemoveListener(filterID string) {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	delete(c.listeners, filterID)
}

func (c *Coordinator) snapshotFilterIDs() []string {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	for len(c.listeners) == 0 {
		select {
		case <-c.stopCh:
			return nil
		default:
		}
		c.haveListener.Wait()
		select {
		case <-c.stopCh:
			return nil
		default:
		}
	}
	ids := make([]string, 0, len(c.listeners))
	for id := range c.listeners {
		ids = append(ids, id)
	}
	return ids
}

// pollLoop implements spec.md §4.5's change feed: snapshot listener
// filters, call getEvents, acquire the update mutex, fan out, release.
// Terminates when Close is called.
func (c *Coordinator) pollLoop() {
	defer close(c.doneCh)
	ctx := context.Background()
	for {
		select {
		case <-c.stopCh:
			return
		default:
		}

		filterIDs := c.snapshotFilterIDs()
		if filterIDs == nil {
			return
		}

		bundles, err := c.service.GetEvents(ctx, c.config.PollTimeout, filterIDs)
		if err != nil {
			continue
		}

		c.updateMu.Lock()
		c.dispatch(bundles)
		c.updateMu.Unlock()
	}
}

func (c *Coordinator) dispatch(bundles []EventBundle) {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	for _, bundle := range bundles {
		reg, ok := c.listeners[bundle.FilterID]
		if !ok {
			continue
		}
		for _, ev := range bundle.Events {
			reg.callback(ev)
		}
	}
}

// Submit implements itemstate.Submitter: translate a ChangeLog into
// the Repository Service's batch protocol (create batch, apply visits
// in order, submit), executed under the update mutex so no event
// delivery interleaves with the mutation (spec.md §4.5).
func (c *Coordinator) Submit(log *itemstate.ChangeLog) error {
	c.updateMu.Lock()
	defer c.updateMu.Unlock()

	ctx := context.Background()
	batch, err := c.service.CreateBatch(ctx)
	if err != nil {
		return fmt.Errorf("%w: creating batch: %v", contenterr.ErrRepository, err)
	}

	for _, op := range log.Ops {
		if err := c.applyOp(ctx, batch, op); err != nil {
			return err
		}
	}

	if err := c.service.Submit(ctx, batch, log); err != nil {
		return fmt.Errorf("%w: submitting batch: %v", contenterr.ErrRepository, err)
	}
	return nil
}

func (c *Coordinator) applyOp(ctx context.Context, batch BatchHandle, op itemstate.Op) error {
	var err error
	switch op.Type {
	case itemstate.OpAddNode:
		err = c.service.AddNode(ctx, batch, op)
	case itemstate.OpAddProperty:
		err = c.service.AddProperty(ctx, batch, op)
	case itemstate.OpSetProperty:
		err = c.service.SetValue(ctx, batch, op)
	case itemstate.OpSetMixin:
		err = c.service.SetMixins(ctx, batch, op)
	case itemstate.OpRemove:
		err = c.service.Remove(ctx, batch, op)
	case itemstate.OpMove:
		err = c.service.Move(ctx, batch, op)
	case itemstate.OpReorderNodes:
		err = c.service.ReorderNodes(ctx, batch, op)
	default:
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: applying %v: %v", contenterr.ErrRepository, op.Type, err)
	}
	return nil
}

// AddLockToken/RemoveLockToken delegate to the bound LockManager,
// keyed by sessionID (spec.md §4.5).
func (c *Coordinator) AddLockToken(sessionID, token string) {
	c.locks.AddLockToken(sessionID, token)
}

func (c *Coordinator) RemoveLockToken(sessionID, token string) error {
	return c.locks.RemoveLockToken(sessionID, token)
}

// Locks exposes the bound LockManager for direct lock/unlock calls.
func (c *Coordinator) Locks() *LockManager { return c.locks }

// Service exposes the bound RepositoryService for read-path calls that
// don't need update-mutex serialization.
func (c *Coordinator) Service() RepositoryService { return c.service }
