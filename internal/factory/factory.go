package factory

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/franckdigital/xamila-backend-sub001/internal/audit"
	"github.com/franckdigital/xamila-backend-sub001/internal/authtoken"
	"github.com/franckdigital/xamila-backend-sub001/internal/client"
	"github.com/franckdigital/xamila-backend-sub001/internal/clock"
	"github.com/franckdigital/xamila-backend-sub001/internal/config"
	"github.com/franckdigital/xamila-backend-sub001/internal/encryption"
	"github.com/franckdigital/xamila-backend-sub001/internal/events"
	"github.com/franckdigital/xamila-backend-sub001/internal/handler"
	"github.com/franckdigital/xamila-backend-sub001/internal/hashing"
	"github.com/franckdigital/xamila-backend-sub001/internal/jobs"
	"github.com/franckdigital/xamila-backend-sub001/internal/notify"
	"github.com/franckdigital/xamila-backend-sub001/internal/phone"
	"github.com/franckdigital/xamila-backend-sub001/internal/repository"
	"github.com/franckdigital/xamila-backend-sub001/internal/repository/memory"
	"github.com/franckdigital/xamila-backend-sub001/internal/repository/postgres"
	redisrepo "github.com/franckdigital/xamila-backend-sub001/internal/repository/redis"
	"github.com/franckdigital/xamila-backend-sub001/internal/service"
	"github.com/franckdigital/xamila-backend-sub001/internal/storage"
	"github.com/franckdigital/xamila-backend-sub001/internal/tls"
	"github.com/franckdigital/xamila-backend-sub001/internal/util"
	"github.com/franckdigital/xamila-backend-sub001/internal/verifier"
)

const (
	auditBatchSize     = 500
	auditFlushInterval = 5 * time.Second
)

// Factory manages the lifecycle of all application dependencies
type Factory struct {
	config     *config.Config
	logger     *zap.Logger
	tlsManager *tls.TLSManager
	awsConfig  *aws.Config

	// Clients
	pgPool           *pgxpool.Pool
	redisClient      *client.RedisClient
	kafkaProducer    *client.KafkaProducer
	kafkaConsumer    *client.KafkaConsumer
	clickhouseClient *client.ClickHouseClient
	httpClient       *http.Client

	// Managers
	hasher            *hashing.Hasher
	encryptionManager *encryption.EncryptionManager
	signer            *authtoken.Signer
	phones            *phone.Normalizer

	// Backends
	store    repository.Store
	limits   repository.RateLimitStore
	sessions repository.SessionCache
	blobs    storage.BlobStore
	audit    audit.Sink
	events   events.Publisher
	email    notify.Sender
	sms      notify.Sender

	documentVerifier verifier.Verifier
	screener         verifier.Verifier

	clickhouseAudit *audit.ClickHouse
	serviceFactory  *service.ServiceFactory

	closeOnce sync.Once
	closed    chan struct{}
}

// NewFactory creates and initializes all application dependencies. Outside
// production an unreachable or unconfigured backend falls back to its
// in-memory counterpart.
func NewFactory(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Factory, error) {
	factory := &Factory{
		config:     cfg,
		logger:     logger,
		httpClient: &http.Client{Timeout: cfg.Notify.Timeout},
		closed:     make(chan struct{}),
	}

	if cfg.Server.EnableTLS {
		factory.tlsManager = tls.NewTLSManager(tls.ConfigFromServer(cfg.Server, cfg.Environment))
	}

	if err := factory.initializeManagers(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize managers: %w", err)
	}

	if err := factory.initializeClients(ctx); err != nil {
		factory.Close()
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}

	if err := factory.initializeBackends(ctx); err != nil {
		factory.Close()
		return nil, fmt.Errorf("failed to initialize backends: %w", err)
	}

	factory.serviceFactory = service.NewServiceFactory(cfg, service.Dependencies{
		Store:            factory.store,
		Limits:           factory.limits,
		Sessions:         factory.sessions,
		Blobs:            factory.blobs,
		Email:            factory.email,
		SMS:              factory.sms,
		Audit:            factory.audit,
		Events:           factory.events,
		Phones:           factory.phones,
		Hasher:           factory.hasher,
		Signer:           factory.signer,
		DocumentVerifier: factory.documentVerifier,
		Screener:         factory.screener,
		JobProducer:      factory.jobProducer(),
		JobConsumer:      factory.jobConsumer(),
	}, logger)

	util.Info("Factory initialized successfully",
		util.String("environment", cfg.Environment),
		util.Bool("tls_enabled", cfg.Server.EnableTLS),
		util.Bool("kms_enabled", cfg.KMS.Enabled),
		util.Bool("postgres", factory.pgPool != nil),
		util.Bool("redis", factory.redisClient != nil),
		util.Bool("kafka", factory.kafkaProducer != nil),
		util.Bool("clickhouse", factory.clickhouseClient != nil),
		util.String("kyc_queue", cfg.KYC.Queue),
	)

	return factory, nil
}

// loadAWS resolves the shared AWS configuration once, for KMS and S3.
func (f *Factory) loadAWS(ctx context.Context) (aws.Config, error) {
	if f.awsConfig != nil {
		return *f.awsConfig, nil
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(f.config.KMS.Region))
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config: %w", err)
	}
	f.awsConfig = &cfg
	return cfg, nil
}

// initializeManagers initializes hashing, encryption, token signing and
// phone normalization
func (f *Factory) initializeManagers(ctx context.Context) error {
	params := hashing.DefaultParams()
	if f.config.Hashing.Argon2MemoryCost > 0 {
		params.Memory = uint32(f.config.Hashing.Argon2MemoryCost)
	}
	if f.config.Hashing.Argon2TimeCost > 0 {
		params.Iterations = uint32(f.config.Hashing.Argon2TimeCost)
	}
	if f.config.Hashing.Argon2Parallelism > 0 {
		params.Parallelism = uint8(f.config.Hashing.Argon2Parallelism)
	}
	peppers := f.config.Hashing.Peppers
	if len(peppers) == 0 {
		util.Warn("No password pepper configured, using development pepper")
		peppers = []string{"development-pepper"}
	}
	f.hasher = hashing.NewHasher(params, peppers)

	var kmsClient encryption.KMSAPI
	if f.config.KMS.Enabled {
		awsCfg, err := f.loadAWS(ctx)
		if err != nil {
			return err
		}
		kmsClient = kms.NewFromConfig(awsCfg)
	}
	manager, err := encryption.NewEncryptionManager(f.config.KMS, kmsClient, f.config.IsProduction())
	if err != nil {
		return fmt.Errorf("encryption: %w", err)
	}
	f.encryptionManager = manager

	signer, err := authtoken.NewSigner(f.config.JWT.Secret, f.config.JWT.Issuer, clock.System{}, clock.NewID)
	if err != nil {
		return fmt.Errorf("token signer: %w", err)
	}
	f.signer = signer

	phones, err := phone.NewNormalizer(f.config.Notify.DefaultCountryCode)
	if err != nil {
		return fmt.Errorf("phone normalizer: %w", err)
	}
	f.phones = phones

	util.Info("Managers initialized successfully",
		util.Bool("hashing_initialized", f.hasher != nil),
		util.Bool("encryption_initialized", f.encryptionManager != nil),
		util.Int("pepper_count", len(peppers)),
	)
	return nil
}

// initializeClients initializes all external service clients with health checks
func (f *Factory) initializeClients(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	var initErrors []error

	// PostgreSQL
	if f.config.Database.URL != "" {
		if pool, err := client.NewPostgresPool(f.config.Database); err != nil {
			initErrors = append(initErrors, fmt.Errorf("postgres: %w", err))
		} else if err := pool.Ping(ctx); err != nil {
			pool.Close()
			initErrors = append(initErrors, fmt.Errorf("postgres health check: %w", err))
		} else {
			f.pgPool = pool
			util.Info("PostgreSQL pool initialized and healthy")
		}
	}

	// Redis
	if f.config.Redis.URL != "" {
		if rc, err := client.NewRedisClient(f.config.Redis); err != nil {
			initErrors = append(initErrors, fmt.Errorf("redis: %w", err))
		} else if err := rc.HealthCheck(ctx); err != nil {
			rc.Close()
			initErrors = append(initErrors, fmt.Errorf("redis health check: %w", err))
		} else {
			f.redisClient = rc
			util.Info("Redis client initialized and healthy")
		}
	}

	// Kafka
	needKafka := f.config.Kafka.EnableEvents || f.config.KYC.Queue == service.QueueKafka
	if needKafka && len(f.config.Kafka.Brokers) > 0 {
		if producer, err := client.NewKafkaProducer(f.config.Kafka); err != nil {
			initErrors = append(initErrors, fmt.Errorf("kafka: %w", err))
		} else {
			f.kafkaProducer = producer
		}
		if f.config.KYC.Queue == service.QueueKafka {
			consumer, err := client.NewKafkaConsumer(f.config.Kafka, f.config.Kafka.JobsTopic, f.config.Kafka.JobsGroupID)
			if err != nil {
				initErrors = append(initErrors, fmt.Errorf("kafka consumer: %w", err))
			} else {
				f.kafkaConsumer = consumer
			}
		}
	} else if needKafka {
		initErrors = append(initErrors, errors.New("kafka: no brokers configured"))
	}

	// ClickHouse
	if f.config.Clickhouse.URL != "" {
		if ch, err := client.NewClickHouseClient(f.config.Clickhouse, f.config.IsProduction()); err != nil {
			initErrors = append(initErrors, fmt.Errorf("clickhouse: %w", err))
		} else if err := ch.HealthCheck(ctx); err != nil {
			ch.Close()
			initErrors = append(initErrors, fmt.Errorf("clickhouse health check: %w", err))
		} else {
			f.clickhouseClient = ch
			util.Info("ClickHouse client initialized and healthy")
		}
	}

	if len(initErrors) > 0 {
		if f.config.IsProduction() {
			return fmt.Errorf("critical service initialization failed: %w", errors.Join(initErrors...))
		}
		for _, err := range initErrors {
			util.Warn("Service initialization warning", util.ErrorField(err))
		}
	}

	return nil
}

// initializeBackends picks the repository, cache, storage, audit, event
// and notification implementations from the clients that came up.
func (f *Factory) initializeBackends(ctx context.Context) error {
	if f.pgPool != nil {
		if f.config.Database.AutoMigrate {
			if _, err := f.Migrate(ctx); err != nil {
				return err
			}
		}
		f.store = postgres.NewStore(f.pgPool, f.encryptionManager)
	} else {
		util.Warn("Using in-memory store, data will not survive a restart")
		f.store = memory.NewStore()
	}

	if f.redisClient != nil {
		f.limits = redisrepo.NewRateLimitCache(f.redisClient)
		f.sessions = redisrepo.NewSessionCache(f.redisClient, f.config.JWT.AccessTokenTTL)
	} else {
		f.limits = memory.NewRateLimitStore()
		f.sessions = memory.NewSessionCache()
	}

	blobs, err := f.newBlobStore(ctx)
	if err != nil {
		return fmt.Errorf("blob storage: %w", err)
	}
	f.blobs = blobs

	if f.clickhouseClient != nil {
		sink := audit.NewClickHouse(f.clickhouseClient, auditBatchSize, auditFlushInterval)
		if err := sink.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("audit schema: %w", err)
		}
		f.clickhouseAudit = sink
		f.audit = sink
	} else {
		f.audit = audit.Log{}
	}

	if f.config.Kafka.EnableEvents && f.kafkaProducer != nil {
		f.events = events.NewKafka(f.kafkaProducer, f.config.Kafka.EventsTopic)
	} else {
		f.events = events.Log{}
	}

	if f.email, err = f.newEmailSender(); err != nil {
		return fmt.Errorf("email: %w", err)
	}
	if f.sms, err = f.newSMSSender(); err != nil {
		return fmt.Errorf("sms: %w", err)
	}

	if f.documentVerifier, err = f.newVerifier(f.config.KYC.Provider); err != nil {
		return fmt.Errorf("kyc provider: %w", err)
	}
	if f.screener, err = f.newVerifier(f.config.KYC.ScreeningProvider); err != nil {
		return fmt.Errorf("screening provider: %w", err)
	}
	return nil
}

func (f *Factory) newBlobStore(ctx context.Context) (storage.BlobStore, error) {
	switch f.config.Storage.Backend {
	case "s3":
		awsCfg, err := f.loadAWS(ctx)
		if err != nil {
			return nil, err
		}
		return storage.NewS3(s3.NewFromConfig(awsCfg), f.config.Storage.S3Bucket)
	case "memory":
		return storage.NewMemory(), nil
	case "", "local":
		return storage.NewLocal(f.config.Storage.LocalRoot)
	}
	return nil, fmt.Errorf("unknown blob backend %q", f.config.Storage.Backend)
}

func (f *Factory) newEmailSender() (notify.Sender, error) {
	n := f.config.Notify
	var sender notify.Sender
	switch n.EmailBackend {
	case "smtp":
		s, err := notify.NewSMTPSender(notify.SMTPConfig{
			Host:     n.SMTPHost,
			Port:     n.SMTPPort,
			Username: n.SMTPUsername,
			Password: n.SMTPPassword,
			From:     n.DefaultFromEmail,
		})
		if err != nil {
			return nil, err
		}
		sender = s
	case "", "mock":
		sender = notify.NewMock("mock_email")
	default:
		return nil, fmt.Errorf("unknown email backend %q", n.EmailBackend)
	}
	return notify.WithTimeout(sender, n.Timeout), nil
}

func (f *Factory) newSMSSender() (notify.Sender, error) {
	n := f.config.Notify
	var sender notify.Sender
	switch n.SMSProvider {
	case "twilio":
		s, err := notify.NewTwilioSender(notify.TwilioConfig{
			BaseURL:    n.TwilioBaseURL,
			AccountSID: n.TwilioSID,
			AuthToken:  n.TwilioToken,
			From:       n.TwilioFrom,
		}, f.phones, f.httpClient)
		if err != nil {
			return nil, err
		}
		sender = s
	case "nexmo":
		s, err := notify.NewNexmoSender(notify.NexmoConfig{
			BaseURL:   n.NexmoBaseURL,
			APIKey:    n.NexmoKey,
			APISecret: n.NexmoSecret,
			From:      n.NexmoFrom,
		}, f.phones, f.httpClient)
		if err != nil {
			return nil, err
		}
		sender = s
	case "", "mock":
		sender = notify.NewMock("mock_sms")
	default:
		return nil, fmt.Errorf("unknown sms provider %q", n.SMSProvider)
	}
	return notify.WithTimeout(sender, n.Timeout), nil
}

func (f *Factory) newVerifier(name string) (verifier.Verifier, error) {
	v, err := verifier.New(name, f.config.KYC, &http.Client{Timeout: f.config.KYC.ProviderTimeout}, clock.System{})
	if err != nil || v == nil {
		return nil, err
	}
	return verifier.WithRetry(v, verifier.PolicyFromConfig(f.config.KYC)), nil
}

// jobProducer and jobConsumer return untyped nils when kafka is absent so
// the service factory sees a nil interface.
func (f *Factory) jobProducer() jobs.MessageProducer {
	if f.kafkaProducer == nil {
		return nil
	}
	return f.kafkaProducer
}

func (f *Factory) jobConsumer() jobs.MessageConsumer {
	if f.kafkaConsumer == nil {
		return nil
	}
	return f.kafkaConsumer
}

// Migrate applies pending schema migrations and returns their names.
func (f *Factory) Migrate(ctx context.Context) ([]string, error) {
	if f.pgPool == nil {
		return nil, errors.New("migrate: no database configured")
	}
	applied, err := postgres.Migrate(ctx, f.pgPool)
	if err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	util.Info("Database migrations applied", util.Strings("applied", applied))
	return applied, nil
}

// Start launches the background parts of the dependencies: the audit
// batcher and the verification workers. They stop when ctx is cancelled.
func (f *Factory) Start(ctx context.Context) {
	if f.clickhouseAudit != nil {
		f.clickhouseAudit.Start(ctx)
	}
	f.serviceFactory.StartWorkers(ctx)
}

// ==============================
// HTTP wiring
// ==============================

// Handlers builds the HTTP handlers over the service factory.
func (f *Factory) Handlers() []handler.RouteRegistrar {
	sf := f.serviceFactory
	tokens := sf.TokenService()
	return []handler.RouteRegistrar{
		handler.NewAuthHandler(sf.AuthOrchestrator(), sf.ProfileService(), tokens, f.logger),
		handler.NewKYCHandler(sf.ProfileService(), sf.DocumentService(), tokens, f.logger),
		handler.NewUserHandler(sf.CohortGate(), tokens, f.logger),
		handler.NewAdminHandler(sf.ProfileService(), sf.CohortGate(), sf.IdentityService(), sf.AuthOrchestrator(), tokens, f.logger),
	}
}

// Router returns the API router with every handler mounted.
func (f *Factory) Router() http.Handler {
	return handler.NewRouter(f.config.Server, f.logger, f.Ready, f.Handlers()...)
}

// ==============================
// Health Checks
// ==============================

// HealthCheck probes every initialized client concurrently. Kafka is
// reported but optional unless it carries the job queue.
func (f *Factory) HealthCheck(ctx context.Context) map[string]error {
	var (
		mu           sync.Mutex
		healthErrors = make(map[string]error)
	)
	record := func(name string, err error) {
		if err != nil {
			mu.Lock()
			healthErrors[name] = err
			mu.Unlock()
		}
	}

	var g errgroup.Group
	if f.pgPool != nil {
		g.Go(func() error { record("postgres", f.pgPool.Ping(ctx)); return nil })
	}
	if f.redisClient != nil {
		g.Go(func() error { record("redis", f.redisClient.HealthCheck(ctx)); return nil })
	}
	if f.clickhouseClient != nil {
		g.Go(func() error { record("clickhouse", f.clickhouseClient.HealthCheck(ctx)); return nil })
	}
	if f.kafkaProducer != nil {
		g.Go(func() error { record("kafka", f.kafkaProducer.HealthCheck(ctx)); return nil })
	}
	_ = g.Wait()

	if f.hasher == nil {
		healthErrors["hasher"] = errors.New("hasher not initialized")
	}
	if f.encryptionManager == nil {
		healthErrors["encryption"] = errors.New("encryption manager not initialized")
	}
	return healthErrors
}

func (f *Factory) IsHealthy(ctx context.Context) bool {
	return f.Ready(ctx) == nil
}

// Ready joins the health check failures that make the service unusable.
func (f *Factory) Ready(ctx context.Context) error {
	healthErrors := f.HealthCheck(ctx)
	if f.config.KYC.Queue != service.QueueKafka {
		delete(healthErrors, "kafka")
	}
	var errs []error
	for name, err := range healthErrors {
		errs = append(errs, fmt.Errorf("%s: %w", name, err))
	}
	return errors.Join(errs...)
}

// ==============================
// Shutdown
// ==============================

func (f *Factory) Close() error {
	f.closeOnce.Do(func() {
		close(f.closed)
		util.Info("Shutting down factory...")

		if f.serviceFactory != nil {
			f.serviceFactory.Cleanup()
			util.Info("Service factory cleaned up")
		}

		if f.clickhouseAudit != nil {
			f.clickhouseAudit.Stop()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			f.clickhouseAudit.Flush(ctx)
			cancel()
		}

		if f.clickhouseClient != nil {
			if err := f.clickhouseClient.Close(); err != nil {
				util.Error("Failed to close ClickHouse client", util.ErrorField(err))
			} else {
				util.Info("ClickHouse client closed")
			}
		}

		if f.kafkaConsumer != nil {
			f.kafkaConsumer.Close()
		}
		if f.kafkaProducer != nil {
			f.kafkaProducer.Close()
		}

		if f.redisClient != nil {
			if err := f.redisClient.Close(); err != nil {
				util.Error("Failed to close Redis client", util.ErrorField(err))
			} else {
				util.Info("Redis client closed")
			}
		}

		if f.pgPool != nil {
			f.pgPool.Close()
			util.Info("PostgreSQL pool closed")
		}

		if f.encryptionManager != nil {
			f.encryptionManager.ClearCache()
			util.Info("Encryption manager cache cleared")
		}

		util.Info("Factory shutdown completed")
	})

	return nil
}

func (f *Factory) WaitForClose() {
	<-f.closed
}

func (f *Factory) Config() *config.Config {
	return f.config
}

func (f *Factory) TLSManager() *tls.TLSManager {
	return f.tlsManager
}

func (f *Factory) Services() *service.ServiceFactory {
	return f.serviceFactory
}

func (f *Factory) Store() repository.Store {
	return f.store
}
