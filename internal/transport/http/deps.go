package http

import (
	"context"
	"io"
	"time"

	"github.com/go-petition/internal/application/audit"
	"github.com/go-petition/internal/application/otp"
	"github.com/go-petition/internal/application/petition"
	"github.com/go-petition/internal/application/signature"
	"github.com/go-petition/internal/config"
	"github.com/go-petition/internal/domain"
	jwtinfra "github.com/go-petition/internal/infrastructure/jwt"
	"github.com/go-petition/internal/infrastructure/smtp"
	"github.com/go-petition/internal/pkg/ratelimit"
	"github.com/go-petition/internal/pkg/receipt"
)

// PetitionRepository is the minimal interface the services require from a petition store.
type PetitionRepository interface {
	Put(ctx context.Context, p *domain.Petition) error
	FindByID(ctx context.Context, petitionID string) (*domain.Petition, error)
	FindBySlug(ctx context.Context, slug string) (*domain.Petition, error)
}

// SignatureRepository is the minimal interface the services require from a signature store.
// Insert must reject a second signature for the same (email, petition) with domain.ErrConflict.
type SignatureRepository interface {
	Insert(ctx context.Context, rec *domain.SignatureRecord) error
	ExistsFor(ctx context.Context, email, petitionID string) (bool, error)
	FindByID(ctx context.Context, signatureID string) (*domain.SignatureRecord, error)
	FindByAuditHash(ctx context.Context, auditHash string) (*domain.SignatureRecord, error)
	AttachReceipt(ctx context.Context, signatureID, receiptKey string) error
	ListPendingReceipts(ctx context.Context, limit int) ([]domain.SignatureRecord, error)
	CountByPetition(ctx context.Context, petitionID string) (int, error)
	RecentByPetition(ctx context.Context, petitionID string, limit int) ([]domain.SignerName, error)
	CountByState(ctx context.Context, petitionID string) (map[string]int, error)
}

// OTPRepository is the minimal interface the services require from an OTP store.
type OTPRepository interface {
	Insert(ctx context.Context, req *domain.OTPRequest) error
	FindLatestValid(ctx context.Context, email string, now time.Time) (*domain.OTPRequest, error)
	MarkConsumed(ctx context.Context, requestID string, at time.Time) error
	RecordAttempt(ctx context.Context, requestID string) error
	Delete(ctx context.Context, requestID string) error
}

// ObjectStore is the minimal interface the services require from a receipt blob backend.
type ObjectStore interface {
	Put(ctx context.Context, key string, body []byte) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// Deps holds all infrastructure dependencies for the services. Events may be nil.
type Deps struct {
	PetitionRepo  PetitionRepository
	SignatureRepo SignatureRepository
	OTPRepo       OTPRepository
	Blobs         ObjectStore
	Mailer        smtp.Mailer
	JWTProvider   *jwtinfra.Provider
	Events        signature.EventPublisher
	Limiter       *ratelimit.Limiter
}

// Services are the application services behind the router.
type Services struct {
	OTP       otp.Service
	Signature signature.Service
	Audit     audit.Service
	Petition  petition.Service
}

// NewServices wires the application services from cfg and deps.
func NewServices(cfg *config.Config, deps *Deps) *Services {
	policy := ratelimit.NewPolicy(cfg)
	limiter := deps.Limiter
	if limiter == nil {
		limiter = ratelimit.Disabled()
	}
	return &Services{
		OTP: otp.NewService(otp.ServiceDeps{
			OTPRepo: deps.OTPRepo,
			Mailer:  deps.Mailer,
			Tokens:  deps.JWTProvider,
			Limiter: limiter,
			Policy:  policy,
			Secret:  cfg.SessionSecret,
			TTL:     cfg.OTPTTL,
		}),
		Signature: signature.NewService(signature.ServiceDeps{
			PetitionRepo:  deps.PetitionRepo,
			SignatureRepo: deps.SignatureRepo,
			Blobs:         deps.Blobs,
			Renderer:      receipt.NewRenderer(),
			Tokens:        deps.JWTProvider,
			Events:        deps.Events,
			Limiter:       limiter,
			Policy:        policy,
			BaseURL:       cfg.BaseURL,
			MaxImageBytes: cfg.MaxSignatureImageBytes,
		}),
		Audit:    audit.NewService(deps.SignatureRepo, deps.PetitionRepo),
		Petition: petition.NewService(deps.PetitionRepo, deps.SignatureRepo),
	}
}
