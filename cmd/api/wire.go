package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/go-petition/internal/config"
	"github.com/go-petition/internal/domain"
	"github.com/go-petition/internal/infrastructure/dynamo"
	jwtinfra "github.com/go-petition/internal/infrastructure/jwt"
	"github.com/go-petition/internal/infrastructure/memstore"
	"github.com/go-petition/internal/infrastructure/postgres"
	s3infra "github.com/go-petition/internal/infrastructure/s3"
	"github.com/go-petition/internal/infrastructure/smtp"
	"github.com/go-petition/internal/infrastructure/sns"
	"github.com/go-petition/internal/job"
	"github.com/go-petition/internal/pkg/id"
	"github.com/go-petition/internal/pkg/ratelimit"
	transporthttp "github.com/go-petition/internal/transport/http"
	"github.com/jackc/pgx/v5/pgxpool"
)

// backend is the storage selected by STORE_BACKEND plus everything that
// hangs off it.
type backend struct {
	deps   *transporthttp.Deps
	purger job.ExpiredOTPPurger // nil when the store expires OTP requests itself
	dynamo *dynamodb.Client
	pool   *pgxpool.Pool
}

func (b *backend) Close() {
	if b.pool != nil {
		b.pool.Close()
	}
}

func openBackend(ctx context.Context, cfg *config.Config) (*backend, error) {
	tokens, err := jwtinfra.NewProvider(cfg)
	if err != nil {
		return nil, fmt.Errorf("token provider: %w", err)
	}
	b := &backend{deps: &transporthttp.Deps{
		Mailer:      smtp.NewMailer(cfg),
		JWTProvider: tokens,
	}}
	if cfg.StoreBackend == "dynamo" || cfg.RateLimitBackend == "dynamo" {
		if b.dynamo, err = dynamo.NewClient(ctx, cfg); err != nil {
			return nil, err
		}
	}

	switch cfg.StoreBackend {
	case "dynamo":
		b.deps.PetitionRepo = dynamo.NewPetitionRepo(b.dynamo, cfg.DynamoTables.Petitions)
		b.deps.SignatureRepo = dynamo.NewSignatureRepo(b.dynamo, cfg.DynamoTables.Signatures)
		b.deps.OTPRepo = dynamo.NewOTPRepo(b.dynamo, cfg.DynamoTables.OTPRequests)
		s3Client, err := s3infra.NewClient(ctx, cfg)
		if err != nil {
			return nil, err
		}
		b.deps.Blobs = s3infra.NewStore(s3Client, cfg.S3BucketName)
	case "postgres":
		pool, err := postgres.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		b.pool = pool
		otpRepo := postgres.NewOTPRepo(pool)
		b.deps.PetitionRepo = postgres.NewPetitionRepo(pool)
		b.deps.SignatureRepo = postgres.NewSignatureRepo(pool)
		b.deps.OTPRepo = otpRepo
		b.deps.Blobs = postgres.NewBlobStore(pool)
		b.purger = otpRepo
	case "memory":
		slog.Warn("memory store selected, data is lost on restart and not shared between instances")
		otpRepo := memstore.NewOTPRepo()
		b.deps.PetitionRepo = memstore.NewPetitionRepo()
		b.deps.SignatureRepo = memstore.NewSignatureRepo()
		b.deps.OTPRepo = otpRepo
		b.deps.Blobs = memstore.NewBlobStore()
		b.purger = otpRepo
	default:
		return nil, fmt.Errorf("unknown STORE_BACKEND %q", cfg.StoreBackend)
	}

	b.deps.Limiter = newLimiter(cfg, b.dynamo)

	if cfg.SNSTopicARN != "" {
		if pub, err := sns.NewPublisher(ctx, cfg); err == nil {
			b.deps.Events = pub
		} else {
			slog.Warn("signature events disabled", "err", err)
		}
	}
	return b, nil
}

func newLimiter(cfg *config.Config, client *dynamodb.Client) *ratelimit.Limiter {
	local := ratelimit.NewLocalStore(10000, longestWindow(cfg.RateLimits))
	switch cfg.RateLimitBackend {
	case "off":
		slog.Warn("rate limiting disabled")
		return ratelimit.Disabled()
	case "local":
		return ratelimit.New(local, nil)
	default:
		return ratelimit.New(dynamo.NewRateLimitStore(client, cfg.DynamoTables.RateLimits), local)
	}
}

func longestWindow(rl config.RateLimits) time.Duration {
	longest := time.Minute
	for _, l := range []config.Limit{rl.OTPPerEmail, rl.OTPPerIP, rl.OTPVerifyPerEmail, rl.SignPerEmail, rl.SignPerIP} {
		if l.Window > longest {
			longest = l.Window
		}
	}
	return longest
}

// bootstrap creates tables or applies the schema for the selected backend.
func (b *backend) bootstrap(ctx context.Context, cfg *config.Config) error {
	if b.dynamo != nil {
		dynamo.Bootstrap(ctx, b.dynamo, cfg.DynamoTables)
	}
	if b.pool != nil {
		return postgres.Migrate(ctx, b.pool)
	}
	return nil
}

func demoPetition(slug string) *domain.Petition {
	now := time.Now().UTC()
	return &domain.Petition{
		PetitionID:   id.New(),
		Slug:         slug,
		Title:        "Demo petition",
		BodyMarkdown: "We, the undersigned, ask for **this** to happen.\n\n- It matters\n- It is overdue\n",
		Version:      "1.0",
		GoalCount:    1000,
		IsLive:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}
