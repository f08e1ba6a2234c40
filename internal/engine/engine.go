package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"cmtools/internal/archive"
	"cmtools/internal/blocks"
	"cmtools/internal/config"
	"cmtools/internal/errclass"
	"cmtools/internal/execution"
	"cmtools/internal/handlers"
	"cmtools/internal/hierarchy"
	"cmtools/internal/logging"
	"cmtools/internal/services"
	"cmtools/internal/store"
	"cmtools/internal/telemetry"
)

const defaultPollConcurrency = 8

// reader is the read surface shared by *store.Store and *store.Tx.
type reader interface {
	GetByID(ctx context.Context, id int64) (*hierarchy.Entity, error)
	GetByFullname(ctx context.Context, fullname string) (*hierarchy.Entity, error)
	MustGet(ctx context.Context, fullname string) (*hierarchy.Entity, error)
	Children(ctx context.Context, parentID int64, activeOnly bool) ([]*hierarchy.Entity, error)
	Subtree(ctx context.Context, fullname string) ([]*hierarchy.Entity, error)
	ListByLevel(ctx context.Context, level hierarchy.Level, activeOnly bool) ([]*hierarchy.Entity, error)
	Prerequisites(ctx context.Context, entityID int64) ([]*hierarchy.Entity, error)
	Dependents(ctx context.Context, entityID int64) ([]*hierarchy.Entity, error)
	ScriptRuns(ctx context.Context, entityID int64) ([]*hierarchy.ScriptRun, error)
	ConfigDocument(ctx context.Context, id int64) (*store.ConfigDocument, error)
	LatestConfig(ctx context.Context, name string) (*store.ConfigDocument, error)
}

// Engine applies transition operations to the entity store.
type Engine struct {
	store    *store.Store
	registry *handlers.Registry
	adapter  execution.Adapter
	archive  archive.Archive
	errors   *errclass.Table
	env      handlers.Env
	logger   *slog.Logger
	tracer   trace.Tracer

	pollConcurrency int
	maxRunning      int

	cache     *blocks.Cache
	mu        sync.Mutex
	resolvers map[int64]*blocks.Resolver
}

// Option configures an Engine.
type Option func(*Engine)

// WithAdapter sets the execution adapter used by launch and check.
func WithAdapter(adapter execution.Adapter) Option {
	return func(e *Engine) { e.adapter = adapter }
}

// WithArchive stores every submission descriptor before it is submitted.
func WithArchive(a archive.Archive) Option {
	return func(e *Engine) { e.archive = a }
}

// WithErrorTable sets the failure classification table consulted by check.
func WithErrorTable(table *errclass.Table) Option {
	return func(e *Engine) {
		if table != nil {
			e.errors = table
		}
	}
}

// WithRegistry replaces the built-in handler registry.
func WithRegistry(registry *handlers.Registry) Option {
	return func(e *Engine) {
		if registry != nil {
			e.registry = registry
		}
	}
}

// WithHandlerEnv sets the settings handed to every handler factory.
func WithHandlerEnv(env handlers.Env) Option {
	return func(e *Engine) { e.env = env }
}

// WithLogger sets the base logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithPollConcurrency bounds concurrent adapter calls.
func WithPollConcurrency(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.pollConcurrency = n
		}
	}
}

// WithMaxRunning caps RUNNING workflows across the store; 0 means unlimited.
func WithMaxRunning(n int) Option {
	return func(e *Engine) { e.maxRunning = n }
}

// WithTracer overrides the global tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) {
		if tracer != nil {
			e.tracer = tracer
		}
	}
}

// New constructs an engine over st. Without options it uses the built-in
// handlers and a simulation adapter that completes every job.
func New(st *store.Store, opts ...Option) *Engine {
	sim, _ := execution.NewSimulation(hierarchy.StatusCompleted)
	e := &Engine{
		store:           st,
		registry:        handlers.DefaultRegistry(),
		adapter:         sim,
		errors:          &errclass.Table{},
		pollConcurrency: defaultPollConcurrency,
		tracer:          telemetry.Tracer(),
		cache:           blocks.NewCache(),
		resolvers:       map[int64]*blocks.Resolver{},
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = logging.NewComponentLogger(e.logger, "engine")
	if e.env.Logger == nil {
		e.env.Logger = e.logger
	}
	return e
}

// NewFromConfig wires the engine the runtime config describes.
func NewFromConfig(ctx context.Context, cfg *config.Config, st *store.Store, logger *slog.Logger) (*Engine, error) {
	table, err := errclass.Load(cfg.Paths.ErrorTable)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "engine", "load error table", cfg.Paths.ErrorTable, err)
	}
	arch, err := archive.New(ctx, cfg)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "engine", "open archive", cfg.Archive.Backend, err)
	}

	var adapter execution.Adapter
	if cfg.Engine.Simulate {
		status, _ := hierarchy.ParseStatus(cfg.Engine.SimulateStatus)
		sim, err := execution.NewSimulation(status)
		if err != nil {
			return nil, services.Wrap(services.ErrConfiguration, "engine", "simulation adapter", "", err)
		}
		adapter = sim
	} else {
		adapter = execution.NewCommandAdapter(cfg.Paths.WorkDir, logger)
	}

	return New(st,
		WithAdapter(adapter),
		WithArchive(arch),
		WithErrorTable(table),
		WithLogger(logger),
		WithPollConcurrency(cfg.Engine.PollConcurrency),
		WithMaxRunning(cfg.Engine.MaxRunning),
		WithHandlerEnv(handlers.Env{
			WorkDir:       cfg.Paths.WorkDir,
			Simulate:      cfg.Engine.Simulate,
			ScriptTimeout: time.Duration(cfg.Engine.ScriptTimeout) * time.Second,
			Logger:        logger,
		}),
	), nil
}

// Store exposes the underlying store for read-only callers.
func (e *Engine) Store() *store.Store {
	return e.store
}

// run wraps one operation with correlation ids, a span, and start/finish logs.
func (e *Engine) run(ctx context.Context, operation, target string, fn func(ctx context.Context, op *opState) error) (*Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	target = normalizeFullname(target)
	if _, ok := services.RequestIDFromContext(ctx); !ok {
		ctx = services.WithRequestID(ctx, uuid.NewString())
	}
	ctx = services.WithOperation(ctx, operation)
	ctx = services.WithEntity(ctx, target)

	ctx, span := e.tracer.Start(ctx, "engine."+operation, trace.WithAttributes(
		attribute.String("cm.operation", operation),
		attribute.String("cm.target", target),
	))
	defer span.End()

	logger := logging.WithContext(ctx, e.logger)
	op := &opState{res: &Result{Operation: operation, Target: target}, logger: logger}
	started := time.Now()
	logger.Debug("operation started")

	err := fn(ctx, op)

	if current, getErr := e.store.GetByFullname(ctx, target); getErr == nil && current != nil {
		op.res.Status = current.EffectiveStatus()
	}
	span.SetAttributes(
		attribute.Int("cm.changes", len(op.res.Changes)),
		attribute.Bool("cm.not_ready", op.res.NotReady),
		attribute.String("cm.status", string(op.res.Status)),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, services.Kind(err))
		logging.WarnWithContext(logger, "operation failed", "operation_failed",
			logging.Error(err),
		)
	}
	logger.Debug("operation finished",
		logging.Int("changes", len(op.res.Changes)),
		logging.Bool("not_ready", op.res.NotReady),
		logging.Status(op.res.Status),
		logging.Duration("elapsed", time.Since(started)),
	)
	return op.res, err
}

// resolverFor returns the resolver for a stored config document version.
func (e *Engine) resolverFor(ctx context.Context, q reader, configID int64) (*blocks.Resolver, error) {
	e.mu.Lock()
	r, ok := e.resolvers[configID]
	e.mu.Unlock()
	if ok {
		return r, nil
	}
	doc, err := q.ConfigDocument(ctx, configID)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, services.Wrap(services.ErrNotFound, "engine", "load config", fmt.Sprintf("config document %d", configID), nil)
	}
	parsed, err := blocks.Parse([]byte(doc.Body))
	if err != nil {
		return nil, err
	}
	r = blocks.NewResolver(parsed, blocks.WithClassCheck(e.registry.Has))
	e.mu.Lock()
	e.resolvers[configID] = r
	e.mu.Unlock()
	return r, nil
}

// configFor resolves the block an entity was created from. Productions and
// jobs carry no block and resolve to the zero record.
func (e *Engine) configFor(ctx context.Context, q reader, ent *hierarchy.Entity) (blocks.Resolved, error) {
	if ent.ConfigID == 0 || ent.Block == "" {
		return blocks.Resolved{}, nil
	}
	return e.resolveBlock(ctx, q, ent.ConfigID, ent.Block)
}

func (e *Engine) resolveBlock(ctx context.Context, q reader, configID int64, block string) (blocks.Resolved, error) {
	r, err := e.resolverFor(ctx, q, configID)
	if err != nil {
		return blocks.Resolved{}, err
	}
	return e.cache.Resolve(configID, r, block)
}

// forget drops cached resolution for a config document whose creating
// transaction did not commit.
func (e *Engine) forget(configID int64) {
	if configID == 0 {
		return
	}
	e.mu.Lock()
	delete(e.resolvers, configID)
	e.mu.Unlock()
	e.cache.Forget(configID)
}

// unchanged fails with ErrStaleState when the entity was modified after
// loaded was read.
func unchanged(operation string, loaded, fresh *hierarchy.Entity) error {
	if fresh == nil {
		return services.Wrap(services.ErrStaleState, "engine", operation, loaded.Fullname+" no longer exists", nil)
	}
	if fresh.Revision != loaded.Revision || fresh.Status != loaded.Status || fresh.Active != loaded.Active {
		return services.Wrap(services.ErrStaleState, "engine", operation,
			fmt.Sprintf("%s changed since it was read (revision %d, now %d as %s)",
				fresh.Fullname, loaded.Revision, fresh.Revision, fresh.EffectiveStatus().Upper()), nil)
	}
	return nil
}

func (e *Engine) handlerFor(ent *hierarchy.Entity) (handlers.LevelHandler, error) {
	if ent.Handler == "" {
		return &handlers.Base{Env: e.env}, nil
	}
	return e.registry.New(ent.Handler, e.env)
}
