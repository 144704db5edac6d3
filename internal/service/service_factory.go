package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/franckdigital/xamila-backend-sub001/internal/audit"
	"github.com/franckdigital/xamila-backend-sub001/internal/authtoken"
	"github.com/franckdigital/xamila-backend-sub001/internal/clock"
	"github.com/franckdigital/xamila-backend-sub001/internal/config"
	"github.com/franckdigital/xamila-backend-sub001/internal/events"
	"github.com/franckdigital/xamila-backend-sub001/internal/hashing"
	"github.com/franckdigital/xamila-backend-sub001/internal/jobs"
	"github.com/franckdigital/xamila-backend-sub001/internal/notify"
	"github.com/franckdigital/xamila-backend-sub001/internal/phone"
	"github.com/franckdigital/xamila-backend-sub001/internal/repository"
	"github.com/franckdigital/xamila-backend-sub001/internal/storage"
	"github.com/franckdigital/xamila-backend-sub001/internal/util"
	"github.com/franckdigital/xamila-backend-sub001/internal/verifier"
)

// Queue backends selected by KYC_QUEUE.
const (
	QueueInline = "inline"
	QueuePool   = "pool"
	QueueKafka  = "kafka"
)

// Dependencies are the infrastructure handles the services are built on.
// DocumentVerifier and Screener may be nil. JobProducer and JobConsumer
// are only read when the kafka queue is selected.
type Dependencies struct {
	Store            repository.Store
	Limits           repository.RateLimitStore
	Sessions         repository.SessionCache
	Blobs            storage.BlobStore
	Email            notify.Sender
	SMS              notify.Sender
	Audit            audit.Sink
	Events           events.Publisher
	Phones           *phone.Normalizer
	Hasher           *hashing.Hasher
	Signer           *authtoken.Signer
	DocumentVerifier verifier.Verifier
	Screener         verifier.Verifier
	JobProducer      jobs.MessageProducer
	JobConsumer      jobs.MessageConsumer
	Clock            clock.Clock
	NewID            clock.IDGenerator
}

// ServiceFactory creates and manages service instances. Getters build
// lazily and are not safe for concurrent first use; resolve them during
// startup.
type ServiceFactory struct {
	cfg    *config.Config
	deps   Dependencies
	logger *zap.Logger

	queue        jobs.Queue
	pool         *jobs.WorkerPool
	otps         *OTPService
	tokens       *TokenService
	identity     *IdentityService
	profiles     *ProfileService
	documents    *DocumentService
	gateway      *VerificationGateway
	cohorts      *CohortGate
	orchestrator *AuthOrchestrator
}

// NewServiceFactory creates a new service factory
func NewServiceFactory(cfg *config.Config, deps Dependencies, logger *zap.Logger) *ServiceFactory {
	if deps.Clock == nil {
		deps.Clock = clock.System{}
	}
	if deps.NewID == nil {
		deps.NewID = clock.NewID
	}
	if deps.Audit == nil {
		deps.Audit = audit.Log{}
	}
	if deps.Events == nil {
		deps.Events = events.Log{}
	}
	return &ServiceFactory{cfg: cfg, deps: deps, logger: logger}
}

// Queue returns the verification job queue (singleton). Jobs are handed
// to the verification gateway.
func (f *ServiceFactory) Queue() jobs.Queue {
	if f.queue == nil {
		handler := func(ctx context.Context, job jobs.Job) error {
			return f.Gateway().Handle(ctx, job)
		}
		switch f.cfg.KYC.Queue {
		case QueueInline:
			f.queue = jobs.NewInline(handler)
		case QueueKafka:
			f.queue = jobs.NewKafka(f.deps.JobProducer, f.cfg.Kafka.JobsTopic)
		default:
			f.pool = jobs.NewWorkerPool(handler, f.cfg.KYC.Workers, f.cfg.KYC.Workers*16)
			f.queue = f.pool
		}
	}
	return f.queue
}

// StartWorkers runs the pool workers, or the kafka consumer loop until
// ctx is cancelled. The inline queue needs nothing.
func (f *ServiceFactory) StartWorkers(ctx context.Context) {
	f.Gateway()
	switch {
	case f.pool != nil:
		f.pool.Start(ctx)
	case f.cfg.KYC.Queue == QueueKafka && f.deps.JobConsumer != nil:
		go func() {
			if err := jobs.Consume(ctx, f.deps.JobConsumer, f.gateway.Handle); err != nil {
				f.logger.Error("Verification consumer stopped", util.ErrorField(err))
			}
		}()
	}
}

// OTPService returns the otp service instance (singleton)
func (f *ServiceFactory) OTPService() *OTPService {
	if f.otps == nil {
		f.otps = NewOTPService(f.deps.Store, f.deps.Limits, f.cfg.OTP, f.deps.Clock, f.deps.NewID, f.logger)
	}
	return f.otps
}

// TokenService returns the token service instance (singleton)
func (f *ServiceFactory) TokenService() *TokenService {
	if f.tokens == nil {
		f.tokens = NewTokenService(f.deps.Store, f.deps.Signer, f.cfg.JWT, f.deps.Clock, f.deps.NewID, f.logger)
	}
	return f.tokens
}

// IdentityService returns the identity service instance (singleton)
func (f *ServiceFactory) IdentityService() *IdentityService {
	if f.identity == nil {
		f.identity = NewIdentityService(
			f.deps.Store,
			f.deps.Hasher,
			f.deps.Phones,
			f.cfg.Hashing,
			f.TokenService(),
			f.deps.Clock,
			f.deps.NewID,
			f.logger,
		)
	}
	return f.identity
}

// ProfileService returns the kyc profile service instance (singleton)
func (f *ServiceFactory) ProfileService() *ProfileService {
	if f.profiles == nil {
		f.profiles = NewProfileService(
			f.deps.Store,
			f.IdentityService(),
			f.Queue(),
			f.deps.Events,
			f.cfg.KYC,
			f.deps.Clock,
			f.deps.NewID,
			f.logger,
		)
	}
	return f.profiles
}

// DocumentService returns the kyc document service instance (singleton)
func (f *ServiceFactory) DocumentService() *DocumentService {
	if f.documents == nil {
		f.documents = NewDocumentService(f.ProfileService(), f.deps.Blobs, f.deps.Clock, f.deps.NewID, f.logger)
	}
	return f.documents
}

// Gateway returns the verification gateway instance (singleton)
func (f *ServiceFactory) Gateway() *VerificationGateway {
	if f.gateway == nil {
		f.gateway = NewVerificationGateway(
			f.ProfileService(),
			f.DocumentService(),
			f.deps.DocumentVerifier,
			f.deps.Screener,
			f.deps.Clock,
			f.logger,
		)
	}
	return f.gateway
}

// CohortGate returns the cohort gate instance (singleton)
func (f *ServiceFactory) CohortGate() *CohortGate {
	if f.cohorts == nil {
		f.cohorts = NewCohortGate(
			f.deps.Store,
			f.deps.Sessions,
			f.cfg.Cohort.AccessCacheTTL,
			f.deps.Events,
			f.deps.Clock,
			f.deps.NewID,
			f.logger,
		)
	}
	return f.cohorts
}

// AuthOrchestrator returns the auth orchestrator instance (singleton)
func (f *ServiceFactory) AuthOrchestrator() *AuthOrchestrator {
	if f.orchestrator == nil {
		f.orchestrator = NewAuthOrchestrator(
			f.deps.Store,
			f.IdentityService(),
			f.OTPService(),
			f.TokenService(),
			f.ProfileService(),
			f.deps.Email,
			f.deps.SMS,
			f.deps.Limits,
			f.deps.Audit,
			f.deps.Events,
			f.cfg.OTP,
			f.cfg.Login,
			f.deps.Clock,
			f.logger,
		)
	}
	return f.orchestrator
}

// Cleanup cleans up all services
func (f *ServiceFactory) Cleanup() {
	if f.pool != nil {
		f.pool.Stop()
	}
}
