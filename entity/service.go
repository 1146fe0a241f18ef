package entity

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	rterrors "github.com/legacy-lands/aspectrt/infrastructure/errors"
	"github.com/legacy-lands/aspectrt/infrastructure/logging"
	"github.com/legacy-lands/aspectrt/infrastructure/metrics"
)

// registry tracks every live Service handle process-wide, enforcing the
// "names are unique process-wide" invariant on the service-handle entity.
var (
	registryMu sync.Mutex
	registry   = map[string]*Service{}
)

// ServiceOptions configures a Service handle.
type ServiceOptions struct {
	// FlushSchedule is a standard 5-field cron expression driving the
	// write-behind persistence job. Leave empty and set FlushInterval for
	// sub-minute cadences instead.
	FlushSchedule string
	FlushInterval time.Duration
	ShutdownTimeout time.Duration
	Logger  *logging.Logger
	Metrics *metrics.Metrics
}

// Service is the "Service handle" entity: a named, process-unique owner of
// the L1/L2/durable tiers for one logical service's entities.
type Service struct {
	name    string
	l1      *L1
	l2      *L2
	durable *DurableStore
	opts    ServiceOptions
	logger  *logging.Logger

	cron     *cron.Cron
	ticker   *time.Ticker
	tickDone chan struct{}

	mu       sync.Mutex
	shutdown bool
}

// NewService registers a new named Service handle. It returns an error if
// the name is already registered.
func NewService(name string, l1 *L1, l2 *L2, durable *DurableStore, opts ServiceOptions) (*Service, error) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := registry[name]; exists {
		return nil, rterrors.New(rterrors.KindInvalidArgument, "service name already registered: "+name)
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.Default()
	}

	s := &Service{name: name, l1: l1, l2: l2, durable: durable, opts: opts, logger: logger}
	registry[name] = s
	s.startFlushJob()
	return s, nil
}

func (s *Service) startFlushJob() {
	if s.opts.FlushSchedule != "" {
		s.cron = cron.New()
		s.cron.AddFunc(s.opts.FlushSchedule, func() {
			s.flush(context.Background())
		})
		s.cron.Start()
		return
	}
	interval := s.opts.FlushInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	s.ticker = time.NewTicker(interval)
	s.tickDone = make(chan struct{})
	go func() {
		for {
			select {
			case <-s.ticker.C:
				s.flush(context.Background())
			case <-s.tickDone:
				return
			}
		}
	}()
}

// GetEntity implements section 4.6's read path: L1, then L2 (populating
// L1), then durable (populating L1 only).
func (s *Service) GetEntity(ctx context.Context, uuid string) (*Entity, error) {
	if e, ok := s.l1.Get(uuid); ok {
		return e, nil
	}

	if s.l2 != nil {
		e, err := s.l2.Get(ctx, uuid)
		if err == nil {
			s.l1.Put(e)
			return e, nil
		}
		if rterrors.KindOf(err) != rterrors.KindCacheMiss {
			s.logger.Warn(ctx, "l2 lookup failed, falling through to durable store", map[string]interface{}{"uuid": uuid, "error": err.Error()})
		}
	}

	if s.durable == nil {
		return nil, nil
	}
	e, err := s.durable.Get(ctx, uuid)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, nil
	}
	s.l1.Put(e)
	return e, nil
}

// SaveEntity implements the write path: L1 immediately, persistence
// deferred to the next flush cycle. Eventually consistent by design.
func (s *Service) SaveEntity(e *Entity) {
	s.l1.Put(e)
}

// SaveEntities batches multiple writes into L1; they share the same next
// flush cycle.
func (s *Service) SaveEntities(entities []*Entity) {
	for _, e := range entities {
		s.l1.Put(e)
	}
}

// flush is the write-behind persistence job: push every L1 entity to L2 and
// the durable store.
func (s *Service) flush(ctx context.Context) {
	start := time.Now()
	snapshot := s.l1.Snapshot()
	for _, e := range snapshot {
		if s.l2 != nil {
			if err := s.l2.Set(ctx, e); err != nil {
				s.logger.Warn(ctx, "l2 flush failed", map[string]interface{}{"uuid": e.UUID, "error": err.Error()})
			}
		}
	}
	if s.durable != nil {
		if err := s.durable.UpsertBatch(ctx, snapshot); err != nil {
			s.logger.Warn(ctx, "durable flush failed", map[string]interface{}{"error": err.Error()})
		}
	}
	if s.opts.Metrics != nil {
		s.opts.Metrics.RecordEntityStoreOp(s.name, "l1", "flush", time.Since(start))
	}
}

// Shutdown forces a final persistence pass, waits up to a bounded timeout,
// and removes the service from the global registry. It does not close or
// release the shared Redis client used for L2.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return nil
	}
	s.shutdown = true
	s.mu.Unlock()

	if s.cron != nil {
		stopCtx := s.cron.Stop()
		<-stopCtx.Done()
	}
	if s.ticker != nil {
		s.ticker.Stop()
		close(s.tickDone)
	}

	timeout := s.opts.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	done := make(chan struct{})
	flushCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	go func() {
		s.flush(flushCtx)
		close(done)
	}()

	select {
	case <-done:
	case <-flushCtx.Done():
		s.logger.Warn(ctx, "shutdown flush timed out", map[string]interface{}{"service": s.name})
	}

	registryMu.Lock()
	delete(registry, s.name)
	registryMu.Unlock()
	return nil
}

// ReconcileUpdate applies an inbound stream update to the locally cached
// entity under the version rules in section 4.6, if the entity is present
// locally. It returns false when the entity is not present locally.
func (s *Service) ReconcileUpdate(uuid string, remoteVersion int64, remoteAttrs map[string]interface{}, remoteRelationships map[string][]string, remoteTime time.Time) (needsRepublish bool, applied bool) {
	local, ok := s.l1.Get(uuid)
	if !ok {
		return false, false
	}
	merged, republish := Reconcile(local, remoteVersion, remoteAttrs, remoteRelationships, remoteTime)
	s.l1.Put(merged)
	return republish, true
}
