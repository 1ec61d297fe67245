package syncer

import (
	"context"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/ajitpratap0/dbsync/pkg/config"
	"github.com/ajitpratap0/dbsync/pkg/dbconn"
	"github.com/ajitpratap0/dbsync/pkg/dialect"
	"github.com/ajitpratap0/dbsync/pkg/errors"
	"github.com/ajitpratap0/dbsync/pkg/logger"
	"github.com/ajitpratap0/dbsync/pkg/metrics"
	"github.com/ajitpratap0/dbsync/pkg/observability"
	"github.com/ajitpratap0/dbsync/pkg/retry"
)

// State is the lifecycle state of a run.
type State string

const (
	StateInit       State = "INIT"
	StateConnected  State = "CONNECTED"
	StateStreaming  State = "STREAMING"
	StateBatchFlush State = "BATCH_FLUSH"
	StateDone       State = "DONE"
	StateFailed     State = "FAILED"
)

// Opener opens a pinned session for an endpoint.
type Opener interface {
	Open(ctx context.Context, ep dialect.Endpoint) (*dbconn.Conn, error)
}

// RunResult summarizes one run. It is returned on failure too, with the
// counts reached before the error.
type RunResult struct {
	Job         string
	Watermark   string
	RowsRead    int
	RowsApplied int
	Statements  int
	Fallbacks   int
	State       State
	Duration    time.Duration
}

// Handler runs one sync job.
type Handler struct {
	cfg    *config.SyncJobConfig
	opener Opener
	logger *zap.Logger

	mu    sync.RWMutex
	state State
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the handler's logger.
func WithLogger(l *zap.Logger) Option {
	return func(h *Handler) { h.logger = l }
}

// WithOpener replaces the connection provider.
func WithOpener(o Opener) Option {
	return func(h *Handler) { h.opener = o }
}

// NewHandler creates a handler for cfg. Connections are opened by a
// dbconn.Provider with the default retry policy unless WithOpener is given.
func NewHandler(cfg *config.SyncJobConfig, opts ...Option) *Handler {
	h := &Handler{cfg: cfg, state: StateInit}
	for _, opt := range opts {
		opt(h)
	}
	if h.logger == nil {
		h.logger = logger.Get()
	}
	if h.opener == nil {
		h.opener = dbconn.NewProvider(h.logger, retry.Default())
	}
	return h
}

// State returns the current lifecycle state.
func (h *Handler) State() State {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state
}

func (h *Handler) setState(s State) {
	h.mu.Lock()
	h.state = s
	h.mu.Unlock()
}

// Run performs one incremental sync: rows newer than the target's watermark
// are read from the source and upserted into the target in batches. Batches
// written before a failure stay applied.
func (h *Handler) Run(ctx context.Context) (res *RunResult, err error) {
	cfg := h.cfg
	res = &RunResult{Job: cfg.Name}
	h.setState(StateInit)

	ctx = logger.WithJob(ctx, cfg.Name)
	ctx = logger.WithRunID(ctx, strconv.FormatInt(time.Now().UnixNano(), 36))
	log := logger.FromContext(ctx, h.logger)

	ctx, span := observability.StartSpan(ctx, "sync.run",
		attribute.String("job", cfg.Name),
		attribute.String("source.driver", cfg.SourceDriver),
		attribute.String("target.driver", cfg.TargetDriver))

	timer := metrics.NewTimer()
	rec := metrics.NewRecorder(cfg.Name, cfg.TargetDriver)
	defer func() {
		res.Duration = timer.Elapsed()
		status := "success"
		if err != nil {
			status = "failure"
			h.setState(StateFailed)
			log.Error("sync failed",
				zap.Int("rows_read", res.RowsRead),
				zap.Int("rows_applied", res.RowsApplied),
				zap.Error(err))
		}
		res.State = h.State()
		rec.RunFinished(status, res.Duration)
		observability.EndSpan(span, err)
	}()

	srcDialect, err := dialect.Lookup(cfg.SourceDriver)
	if err != nil {
		return res, err
	}
	tgtDialect, err := dialect.Lookup(cfg.TargetDriver)
	if err != nil {
		return res, err
	}
	if err := cfg.Validate(); err != nil {
		return res, err
	}
	rec = metrics.NewRecorder(cfg.Name, string(tgtDialect.Name()))
	ctx = logger.WithDialect(ctx, string(tgtDialect.Name()))
	log = logger.FromContext(ctx, h.logger)

	srcEndpoint := cfg.SourceEndpoint()
	if pc, ok := srcDialect.(dialect.PrefetchConfigurer); ok {
		srcEndpoint.Options = pc.PrefetchOptions(cfg.FetchSizeOverride())
	}

	src, err := h.opener.Open(ctx, srcEndpoint)
	if err != nil {
		return res, err
	}
	defer src.Close()

	tgt, err := h.opener.Open(ctx, cfg.TargetEndpoint())
	if err != nil {
		return res, err
	}
	defer tgt.Close()
	h.setState(StateConnected)

	var keys []string
	if ki, ok := tgtDialect.(dialect.KeyIntrospector); ok {
		keys, err = ki.PrimaryKey(ctx, tgt, cfg.TargetTable)
		if err != nil {
			return res, err
		}
		if len(keys) == 0 {
			return res, errors.Newf(errors.ErrorTypeConfig, "target table %s has no primary key", cfg.TargetTable)
		}
		log.Debug("target primary key", zap.Strings("columns", keys))
	}

	res.Watermark, err = ResolveWatermark(ctx, tgt, cfg.SQLLastSyncTime, cfg.FieldLastSyncTime)
	if err != nil {
		return res, err
	}
	log.Info("resolved watermark", zap.String("watermark", res.Watermark))

	stream, err := OpenCursor(ctx, src, srcDialect, cfg, res.Watermark)
	if err != nil {
		return res, err
	}
	defer stream.Close()
	h.setState(StateStreaming)
	log.Debug("source cursor open",
		zap.Stringer("cursor", srcDialect.Cursor()),
		zap.Int("fetch_size", ResolveFetchSize(srcDialect, cfg)))

	cols := stream.Columns()
	labels := make([]string, len(cols))
	for i, c := range cols {
		labels[i] = c.Label
	}
	up, err := tgtDialect.NewUpsert(dialect.UpsertSpec{
		Table:       cfg.TargetTable,
		Columns:     labels,
		KeyColumns:  keys,
		ConflictKey: cfg.FieldUniqueKey,
	})
	if err != nil {
		return res, err
	}

	ser := NewSerializer(tgtDialect, cfg.StrictSerialization, log, rec)
	batch := NewBatchUpserter(tgt, up, cfg.BatchSize, log, rec)
	defer func() {
		res.RowsApplied = batch.Applied()
		res.Statements = batch.Statements()
		res.Fallbacks = ser.Fallbacks()
	}()

	serialize := ser.Literal
	if up.RowForm() {
		serialize = ser.Column
	}
	values := make([]string, len(cols))
	for stream.Next() {
		row := stream.Values()
		for i, c := range cols {
			values[i], err = serialize(Cell{Label: c.Label, TypeName: c.TypeName, Value: row[i]})
			if err != nil {
				return res, err
			}
		}
		batch.Add(values)
		res.RowsRead++
		rec.RowsRead(1)

		if batch.Full() {
			h.setState(StateBatchFlush)
			if err := batch.Flush(ctx); err != nil {
				return res, err
			}
			h.setState(StateStreaming)
		}
	}
	if err := stream.Err(); err != nil {
		return res, err
	}

	h.setState(StateBatchFlush)
	if err := batch.Flush(ctx); err != nil {
		return res, err
	}
	h.setState(StateDone)

	log.Info("sync finished",
		zap.Int("rows_read", res.RowsRead),
		zap.Int("rows_applied", batch.Applied()),
		zap.Int("statements", batch.Statements()),
		zap.Duration("elapsed", timer.Elapsed()))
	return res, nil
}
