// Package bootstrap opens the stores, queues and providers a binary needs,
// either against Firebase, MySQL, Redis and S3 or fully in process.
package bootstrap

import (
	"context"
	"database/sql"
	"fmt"

	"mindleap-provisioning/internal/api"
	"mindleap-provisioning/internal/auth"
	"mindleap-provisioning/internal/config"
	"mindleap-provisioning/internal/db"
	"mindleap-provisioning/internal/logger"
	"mindleap-provisioning/internal/provision"
	"mindleap-provisioning/internal/queue"
	"mindleap-provisioning/internal/registry"
	"mindleap-provisioning/internal/storage"
	"mindleap-provisioning/internal/worker"

	firebase "firebase.google.com/go/v4"
	"google.golang.org/api/option"
)

const memoryQueueSize = 64

type ProgressStore interface {
	worker.ProgressSink
	api.ProgressSource
}

// Backends bundles everything that talks to the outside world. InProcess is
// set for the memory backend, where the queue only exists inside this
// process and the worker has to run next to the API.
type Backends struct {
	Repo      db.Repository
	Accounts  auth.Provider
	Jobs      db.JobRepository
	Storage   storage.Storage
	Queue     api.JobQueue
	Source    worker.JobSource
	Progress  ProgressStore
	Checks    map[string]api.HealthCheck
	InProcess bool

	closers []func() error
}

func Open(ctx context.Context, cfg *config.Config) (*Backends, error) {
	b := &Backends{Checks: make(map[string]api.HealthCheck)}

	var err error
	switch cfg.Firebase.Backend {
	case "memory":
		b.openMemory()
	default:
		err = b.openRemote(ctx, cfg)
	}
	if err != nil {
		b.Close()
		return nil, err
	}

	if err := b.openStorage(cfg); err != nil {
		b.Close()
		return nil, err
	}

	if cfg.Registry.SeedFile != "" {
		if err := seedRegistry(ctx, b.Repo, cfg.Registry.SeedFile); err != nil {
			b.Close()
			return nil, err
		}
	}
	return b, nil
}

func (b *Backends) openMemory() {
	q := queue.NewMemoryQueue(memoryQueueSize)
	b.Repo = db.NewMemoryRepository()
	b.Accounts = auth.NewMemoryProvider(0)
	b.Jobs = db.NewMemoryJobRepository()
	b.Queue = q
	b.Source = q
	b.Progress = queue.NewMemoryProgressStore()
	b.InProcess = true
}

func (b *Backends) openRemote(ctx context.Context, cfg *config.Config) error {
	var opts []option.ClientOption
	switch {
	case cfg.Firebase.CredentialsJSON != "":
		opts = append(opts, option.WithCredentialsJSON([]byte(cfg.Firebase.CredentialsJSON)))
	case cfg.Firebase.CredentialsFile != "":
		opts = append(opts, option.WithCredentialsFile(cfg.Firebase.CredentialsFile))
	}

	var fbConfig *firebase.Config
	if cfg.Firebase.ProjectID != "" {
		fbConfig = &firebase.Config{ProjectID: cfg.Firebase.ProjectID}
	}
	app, err := firebase.NewApp(ctx, fbConfig, opts...)
	if err != nil {
		return fmt.Errorf("failed to initialize firebase app: %w", err)
	}

	fsClient, err := app.Firestore(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize firestore client: %w", err)
	}
	b.closers = append(b.closers, fsClient.Close)
	b.Repo = db.NewFirestoreRepository(fsClient)

	authClient, err := app.Auth(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize firebase auth client: %w", err)
	}
	b.Accounts = auth.NewFirebaseProvider(authClient)

	database, err := db.NewConnection(cfg)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	b.closers = append(b.closers, database.Close)
	if err := db.Migrate(ctx, database); err != nil {
		return err
	}
	b.Jobs = db.NewJobRepository(database)
	b.Checks["mysql"] = pingDB(database)

	redisClient, err := queue.NewRedisClient(cfg)
	if err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}
	b.closers = append(b.closers, redisClient.Close)
	b.Queue = queue.NewProducer(redisClient, cfg)
	b.Source = queue.NewConsumer(redisClient, cfg)
	b.Progress = queue.NewProgressStore(redisClient, cfg)
	b.Checks["redis"] = redisClient.Ping
	return nil
}

func (b *Backends) openStorage(cfg *config.Config) error {
	if cfg.Storage.Backend == "memory" {
		b.Storage = storage.NewMemoryStorage()
		return nil
	}
	s3Storage, err := storage.NewS3Storage(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize S3 storage: %w", err)
	}
	b.Storage = s3Storage
	return nil
}

// Close releases connections in reverse order of opening.
func (b *Backends) Close() {
	log := logger.Component("bootstrap")
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			log.Warn().Err(err).Msg("Failed to close backend")
		}
	}
	b.closers = nil
}

func pingDB(database *sql.DB) api.HealthCheck {
	return func(ctx context.Context) error {
		return database.PingContext(ctx)
	}
}

func seedRegistry(ctx context.Context, repo db.Repository, path string) error {
	states, err := db.LoadSeed(path)
	if err != nil {
		return err
	}
	created, err := db.ApplySeed(ctx, repo, states)
	if err != nil {
		return fmt.Errorf("failed to seed registry: %w", err)
	}
	log := logger.Component("bootstrap")
	log.Info().
		Str("file", path).
		Int("states", len(states)).
		Int("created", created).
		Msg("Registry seeded")
	return nil
}

var (
	_ ProgressStore = (*queue.ProgressStore)(nil)
	_ ProgressStore = (*queue.MemoryProgressStore)(nil)
)

// Services builds the code registry and provisioning service on top of the
// opened backends.
func (b *Backends) Services(cfg *config.Config) (*registry.Registry, *provision.Service) {
	reg := registry.New(b.Repo)
	svc := provision.NewService(reg, b.Repo, b.Accounts, provision.Options{
		EmailDomain: cfg.Provisioning.EmailDomain,
		Passwords:   provision.RandomPassword(cfg.Provisioning.PasswordMinLength, cfg.Provisioning.PasswordMaxLength),
	})
	return reg, svc
}

// ProvisionWorker wires the bulk job worker to the opened backends.
func (b *Backends) ProvisionWorker(cfg *config.Config, svc *provision.Service) *worker.ProvisionWorker {
	return worker.NewProvisionWorker(worker.ProvisionWorkerDeps{
		Jobs:      b.Jobs,
		Catalog:   b.Repo,
		Storage:   b.Storage,
		Provision: svc,
		Source:    b.Source,
		Progress:  b.Progress,
	}, cfg.Workers.Provision.Count, cfg.Workers.Provision.QueueSize)
}

func (b *Backends) JobSweeper(cfg *config.Config) *worker.JobSweeper {
	return worker.NewJobSweeper(cfg.Workers.Sweeper, b.Jobs)
}
