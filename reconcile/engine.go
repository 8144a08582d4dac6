package reconcile

import (
	"time"
)

// Options bound the work one engine call does.
type Options struct {
	// FetchLimit caps the candidates fetched from the external service.
	FetchLimit int
	// BatchSize caps the candidates committed by one import.
	BatchSize         int
	Workers           int
	LookupConcurrency int
	DeleteChunkSize   int
}

func (o Options) withDefaults() Options {
	if o.FetchLimit <= 0 {
		o.FetchLimit = 1000
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 200
	}
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.LookupConcurrency <= 0 {
		o.LookupConcurrency = 8
	}
	if o.DeleteChunkSize <= 0 {
		o.DeleteChunkSize = 500
	}
	return o
}

// Engine runs imports, autoclaim and bulk maintenance against one store.
// It holds no per-run state; every call builds its own caches.
type Engine struct {
	store   Store
	players PlayerDirectory
	client  ExternalClient
	ids     IDSource
	now     func() time.Time
	opts    Options
	mapper  *Mapper
}

type EngineOption func(*Engine)

func WithIDSource(ids IDSource) EngineOption {
	return func(e *Engine) { e.ids = ids }
}

func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

func NewEngine(store Store, players PlayerDirectory, client ExternalClient, opts Options, options ...EngineOption) *Engine {
	opts = opts.withDefaults()
	e := &Engine{
		store:   store,
		players: players,
		client:  client,
		ids:     UUIDSource{},
		now:     time.Now,
		opts:    opts,
	}
	for _, o := range options {
		o(e)
	}
	e.mapper = NewMapper(store, client, opts.LookupConcurrency)
	return e
}
