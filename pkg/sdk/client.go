package livedoc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kailas-cloud/livedoc/internal/db"
	"github.com/kailas-cloud/livedoc/internal/db/memory"
	dbRedis "github.com/kailas-cloud/livedoc/internal/db/redis"
	"github.com/kailas-cloud/livedoc/internal/domain"
	"github.com/kailas-cloud/livedoc/internal/domain/model"
	"github.com/kailas-cloud/livedoc/internal/domain/query"
	"github.com/kailas-cloud/livedoc/internal/domain/tx"
	documentrepo "github.com/kailas-cloud/livedoc/internal/repository/document"
	"github.com/kailas-cloud/livedoc/internal/repository/schema"
	"github.com/kailas-cloud/livedoc/internal/repository/txfeed"
	healthuc "github.com/kailas-cloud/livedoc/internal/usecase/health"
	"github.com/kailas-cloud/livedoc/internal/usecase/livequery"
	"github.com/kailas-cloud/livedoc/internal/usecase/storage"
)

const (
	defaultReadinessTimeout = 10 * time.Second
	defaultKeyPrefix        = "livedoc"
)

// Client is the livedoc SDK entry point. Transactions submitted through one Client are
// reflected in its watched queries before the submitting call returns.
type Client struct {
	store     db.Store
	model     *model.Model
	storage   *storage.Service
	live      *livequery.Engine
	healthSvc healthUseCase
	obs       *observer

	stopFeed context.CancelFunc
	feedDone chan struct{}
}

// New creates a livedoc Client, loads the model and connects to the database.
// The provided context is used for the initial readiness check.
func New(ctx context.Context, opts ...Option) (*Client, error) {
	cfg := &clientConfig{keyPrefix: defaultKeyPrefix}
	for _, o := range opts {
		o.apply(cfg)
	}

	if cfg.driver == "" {
		return nil, errors.New("livedoc: database required (use WithMemory, WithValkey or WithRedis)")
	}

	m, err := loadModel(cfg)
	if err != nil {
		return nil, err
	}

	obs, err := newObserver(cfg.logger, cfg.metricsReg)
	if err != nil {
		return nil, err
	}

	store, err := createStore(cfg)
	if err != nil {
		return nil, err
	}

	if err := store.WaitForReady(ctx, defaultReadinessTimeout); err != nil {
		store.Close()
		return nil, fmt.Errorf("livedoc: database not ready: %w", err)
	}

	return wireClient(store, m, cfg, obs), nil
}

func loadModel(cfg *clientConfig) (*model.Model, error) {
	switch {
	case cfg.modelYAML != nil:
		m, err := schema.Parse(cfg.modelYAML)
		if err != nil {
			return nil, fmt.Errorf("livedoc: parse model: %w", err)
		}
		return m, nil
	case cfg.modelPath != "":
		m, err := schema.Load(cfg.modelPath)
		if err != nil {
			return nil, fmt.Errorf("livedoc: load model: %w", err)
		}
		return m, nil
	default:
		return nil, errors.New("livedoc: model required (use WithModelFile or WithModelYAML)")
	}
}

func createStore(cfg *clientConfig) (db.Store, error) {
	switch cfg.driver {
	case "memory":
		return memory.NewStore(), nil
	case "redis", "valkey":
		s, err := dbRedis.NewStore(dbRedis.Config{
			Addrs:     cfg.addrs,
			Username:  cfg.username,
			Password:  cfg.password,
			DB:        cfg.db,
			KeyPrefix: cfg.keyPrefix,
		})
		if err != nil {
			return nil, fmt.Errorf("livedoc: create %s store: %w", cfg.driver, err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("livedoc: unknown driver %q", cfg.driver)
	}
}

func wireClient(store db.Store, m *model.Model, cfg *clientConfig, obs *observer) *Client {
	storageSvc := storage.New(documentrepo.New(store, m), m, nil)
	healthSvc := healthuc.New(store)
	c := &Client{
		store:     store,
		model:     m,
		storage:   storageSvc,
		live:      livequery.New(storageSvc, m, nil),
		healthSvc: healthSvc,
		obs:       obs,
	}

	if cfg.feed {
		feed := txfeed.New(store, cfg.feedChannel, nil)
		storageSvc.WithFeed(feed)
		ctx, cancel := context.WithCancel(context.Background())
		c.stopFeed = cancel
		c.feedDone = make(chan struct{})
		healthSvc.WithCheck("feed", feedCheck{done: c.feedDone})
		go func() {
			defer close(c.feedDone)
			err := feed.Listen(ctx, c.live.Apply)
			if err != nil && ctx.Err() == nil {
				c.obs.observe("feed", time.Now(), err)
			}
		}()
	}
	return c
}

// Close stops watched queries and releases all resources.
func (c *Client) Close() {
	if c.stopFeed != nil {
		c.stopFeed()
		<-c.feedDone
	}
	if c.live != nil {
		c.live.Close()
	}
	if c.store != nil {
		c.store.Close()
	}
}

// Ping checks database connectivity.
func (c *Client) Ping(ctx context.Context) (err error) {
	start := time.Now()
	defer func() { c.obs.observe("ping", start, err) }()

	if err = c.store.Ping(ctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

// Find returns one window of the documents of class matching q.
func (c *Client) Find(ctx context.Context, class string, q Query, opts FindOptions) (_ Result, err error) {
	start := time.Now()
	defer func() { c.obs.observe("find", start, err) }()

	res, err := c.storage.Find(ctx, domain.ClassRef(class), query.Predicate(plainMap(q)), opts.toQuery())
	if err != nil {
		return Result{}, err
	}
	return Result{Docs: fromDomainList(res.Docs), Total: res.Total}, nil
}

// FindOne returns the first document of class matching q in sort order.
// ErrDocumentNotFound when nothing matches.
func (c *Client) FindOne(ctx context.Context, class string, q Query, sort ...Sort) (_ Doc, err error) {
	start := time.Now()
	defer func() { c.obs.observe("find_one", start, err) }()

	d, err := c.storage.FindOne(ctx, domain.ClassRef(class), query.Predicate(plainMap(q)), toSort(sort))
	if err != nil {
		return nil, err
	}
	return fromDomain(d), nil
}

// Get returns a document by id.
func (c *Client) Get(ctx context.Context, class, id string) (_ Doc, err error) {
	start := time.Now()
	defer func() { c.obs.observe("get", start, err) }()

	d, err := c.storage.Get(ctx, domain.ClassRef(class), domain.DocID(id))
	if err != nil {
		return nil, err
	}
	return fromDomain(d), nil
}

// Create stores a new document of class and returns its generated id.
func (c *Client) Create(ctx context.Context, class string, attrs Attrs) (string, error) {
	return c.CreateWithID(ctx, class, "", attrs)
}

// CreateWithID stores a new document under id. An empty id is generated.
func (c *Client) CreateWithID(ctx context.Context, class, id string, attrs Attrs) (_ string, err error) {
	start := time.Now()
	defer func() { c.obs.observe("create", start, err) }()

	t, err := c.storage.Prepare(tx.CreateTx{
		Class:  domain.ClassRef(class),
		ID:     domain.DocID(id),
		Object: plainMap(attrs),
	})
	if err != nil {
		return "", err
	}
	if err := c.live.Tx(ctx, t); err != nil {
		return "", err
	}
	return string(t.ObjectID()), nil
}

// Delete removes a document.
func (c *Client) Delete(ctx context.Context, class, id string) (err error) {
	start := time.Now()
	defer func() { c.obs.observe("delete", start, err) }()

	return c.live.Tx(ctx, tx.DeleteTx{Class: domain.ClassRef(class), ID: domain.DocID(id)})
}

// Watch runs q as a live query. fn receives the initial window before Watch returns and
// a new snapshot after every transaction that changes it. Watching ends when the returned
// function is called or ctx is done. fn must not submit transactions synchronously.
func (c *Client) Watch(
	ctx context.Context, class string, q Query, opts FindOptions, fn func(Snapshot),
) (_ func(), err error) {
	start := time.Now()
	defer func() { c.obs.observe("watch", start, err) }()

	sub, err := c.live.Query(domain.ClassRef(class), query.Predicate(plainMap(q)), opts.toQuery())
	if err != nil {
		return nil, err
	}
	unsubscribe, err := sub.Subscribe(ctx, func(r livequery.Result) {
		snap := Snapshot{Docs: fromDomainList(r.Docs), Total: r.Total, Seq: r.Seq}
		c.obs.snapshot(class, snap)
		fn(snap)
	})
	if err != nil {
		return nil, err
	}
	stopAfter := context.AfterFunc(ctx, unsubscribe)
	return func() {
		stopAfter()
		unsubscribe()
	}, nil
}

// feedCheck fails once the feed listener has returned.
type feedCheck struct {
	done <-chan struct{}
}

func (f feedCheck) HealthCheck(_ context.Context) error {
	select {
	case <-f.done:
		return errors.New("transaction feed stopped")
	default:
		return nil
	}
}
