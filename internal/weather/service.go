package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/go-playground/validator/v10"

	"github.com/i474232898/live-weather-tracker/internal/common"
)

var (
	ErrBusy           = errors.New("an add request is already in flight")
	ErrNotStarted     = errors.New("synchronizer not started")
	ErrAlreadyStarted = errors.New("synchronizer already started")
	ErrStopped        = errors.New("synchronizer stopped before the result arrived")
	ErrNotFound       = errors.New("no weather record with that id")
)

var validate = validator.New()

// Options tunes the synchronizer.
type Options struct {
	// DedupInserts drops an existing record with the same id before an
	// inserted record is prepended. Off by default: inserts are passthrough.
	DedupInserts bool

	Logger  *slog.Logger
	Metrics Metrics
}

// Service keeps a Store in step with the tracker server: one bulk load, then
// insert/delete events from the shared Channel, plus the two user actions.
type Service struct {
	api     API
	channel Channel
	store   Store
	dedup   bool
	logger  *slog.Logger
	metrics Metrics

	busy atomic.Bool

	mu     sync.Mutex
	runCtx context.Context
	cancel context.CancelFunc
	gen    uint64
	subs   []string
}

// NewService creates a new Service. It does nothing until Start.
func NewService(api API, channel Channel, store Store, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Service{
		api:     api,
		channel: channel,
		store:   store,
		dedup:   opts.DedupInserts,
		logger:  logger.With("component", "synchronizer"),
		metrics: metrics,
	}
}

// Start subscribes to update and delete events and performs the initial load.
// A failed load is logged and returned; the subscriptions stay active and the
// list stays as it was.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.runCtx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	s.gen++
	s.subs = []string{
		s.channel.On(EventUpdate, s.handleUpdate),
		s.channel.On(EventDelete, s.handleDelete),
	}
	s.mu.Unlock()

	s.logger.Info("synchronizer started", "dedupInserts", s.dedup)
	return s.Load(ctx)
}

// Stop deregisters this service's handlers and cancels in-flight requests.
// The channel itself is left open. Stop is idempotent.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return
	}
	for _, id := range s.subs {
		s.channel.Off(id)
	}
	s.subs = nil
	s.cancel()
	s.cancel = nil
	s.runCtx = nil
	s.logger.Info("synchronizer stopped")
}

// Load replaces the whole list with the server's current record set.
func (s *Service) Load(ctx context.Context) error {
	ctx, gen, release, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer release()

	records, err := s.api.ListRecords(ctx)
	if err != nil {
		return s.failed("load", gen, err)
	}

	return s.apply(gen, func() {
		s.store.Replace(records)
		s.logger.Info("weather records loaded", "count", len(records))
	})
}

// Resync reloads the full list. It is Load under the name the scheduler uses.
func (s *Service) Resync(ctx context.Context) error {
	return s.Load(ctx)
}

// TriggerAdd asks the server to create a record. The list is not touched; the
// new record arrives later as an update event.
func (s *Service) TriggerAdd(ctx context.Context) error {
	if !s.busy.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer s.busy.Store(false)

	ctx, gen, release, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer release()

	if err := s.api.AddRecord(ctx); err != nil {
		return s.failed("add", gen, err)
	}
	s.logger.Debug("add requested")
	return nil
}

// TriggerDelete asks the server to delete id and, once it succeeds, removes id
// locally without waiting for the echoed delete event.
func (s *Service) TriggerDelete(ctx context.Context, id int64) error {
	ctx, gen, release, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer release()

	if err := s.api.DeleteRecord(ctx, id); err != nil {
		return s.failed("delete", gen, err, "id", id)
	}

	return s.apply(gen, func() {
		removed := s.store.Remove(id)
		s.logger.Debug("weather record deleted", "id", id, "presentLocally", removed)
	})
}

// Records returns the current list, newest first.
func (s *Service) Records() []Record {
	return s.store.List()
}

// Record returns the newest record with the given id, or ErrNotFound.
func (s *Service) Record(id int64) (Record, error) {
	return s.store.Get(id)
}

// Busy reports whether an add request is in flight.
func (s *Service) Busy() bool {
	return s.busy.Load()
}

func (s *Service) handleUpdate(payload json.RawMessage) {
	var rec Record
	if err := decodeEvent(payload, &rec); err != nil {
		s.logger.Warn("dropping weather update", "error", err, "payload", string(payload))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		return
	}

	if s.dedup {
		if s.store.PrependUnique(rec) {
			s.logger.Debug("replaced duplicate weather record", "id", rec.ID)
		}
	} else {
		s.store.Prepend(rec)
	}
	s.metrics.EventApplied(EventUpdate)
	s.metrics.RecordCount(s.store.Len())
}

func (s *Service) handleDelete(payload json.RawMessage) {
	var ev DeleteEvent
	if err := decodeEvent(payload, &ev); err != nil {
		s.logger.Warn("dropping weather delete", "error", err, "payload", string(payload))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		return
	}

	s.store.Remove(ev.ID)
	s.metrics.EventApplied(EventDelete)
	s.metrics.RecordCount(s.store.Len())
}

// begin binds ctx to the current run so Stop cancels the request.
func (s *Service) begin(ctx context.Context) (context.Context, uint64, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return nil, 0, nil, ErrNotStarted
	}

	opCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(s.runCtx, cancel)
	release := func() {
		stop()
		cancel()
	}
	return opCtx, s.gen, release, nil
}

// failed logs and counts a failed request. A request cancelled because its
// run was stopped is not a failure: it is reported as ErrStopped.
func (s *Service) failed(op string, gen uint64, err error, attrs ...any) error {
	if errors.Is(err, context.Canceled) && !s.live(gen) {
		s.logger.Debug("request cancelled by stop", append([]any{"op", op}, attrs...)...)
		return fmt.Errorf("%w: %w", ErrStopped, err)
	}
	s.metrics.RequestFailed(op)
	s.logger.Error("weather request failed", append([]any{"op", op, "error", err}, attrs...)...)
	return err
}

func (s *Service) live(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil && s.gen == gen
}

// apply runs fn only if the run that issued the request is still live.
func (s *Service) apply(gen uint64, fn func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil || s.gen != gen {
		s.logger.Debug("discarding result from a stopped run")
		return ErrStopped
	}
	fn()
	s.metrics.RecordCount(s.store.Len())
	return nil
}

func decodeEvent(payload json.RawMessage, v any) error {
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("%w: %v", common.ErrParse, err)
	}
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %v", common.ErrParse, err)
	}
	return nil
}
