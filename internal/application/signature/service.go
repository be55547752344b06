package signature

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-petition/internal/domain"
	"github.com/go-petition/internal/infrastructure/sns"
	"github.com/go-petition/internal/pkg/hashing"
	"github.com/go-petition/internal/pkg/id"
	"github.com/go-petition/internal/pkg/ratelimit"
	"github.com/go-petition/internal/pkg/receipt"
	"github.com/go-petition/internal/pkg/validate"
)

// Payload is the signer-submitted form.
type Payload struct {
	PetitionSlug   string `json:"petitionSlug" validate:"required,max=200"`
	FirstName      string `json:"firstName" validate:"required,max=60"`
	LastName       string `json:"lastName" validate:"required,max=60"`
	Email          string `json:"email" validate:"required,email,max=254"`
	City           string `json:"city" validate:"omitempty,max=100"`
	State          string `json:"state" validate:"omitempty,len=2"`
	Zip            string `json:"zip" validate:"omitempty,min=3,max=10"`
	Country        string `json:"country" validate:"omitempty,len=2"`
	Comment        string `json:"comment" validate:"omitempty,max=500"`
	Consent        bool   `json:"consent" validate:"eq=true"`
	Method         string `json:"method" validate:"required,oneof=drawn typed"`
	SignatureImage string `json:"signatureImage" validate:"required_if=Method drawn"`
	TypedSignature string `json:"typedSignature" validate:"required_if=Method typed,max=200"`
}

type SubmitInput struct {
	Token     string  `json:"token" validate:"required"`
	Payload   Payload `json:"payload"`
	IP        string  `json:"-"`
	UserAgent string  `json:"-"`
}

// SubmitResult is the committed signature plus the outcome of the receipt,
// which is attempted after the commit and may be left pending.
type SubmitResult struct {
	SignatureID    string
	AuditHash      string
	VerifyURL      string
	ReceiptKey     string
	ReceiptPending bool
	ReceiptErr     error
}

type Service interface {
	Submit(ctx context.Context, in SubmitInput) (*SubmitResult, error)
	RetryPendingReceipts(ctx context.Context, limit int) (int, error)
	OpenReceipt(ctx context.Context, signatureID string) (io.ReadCloser, error)
}

type PetitionStore interface {
	FindBySlug(ctx context.Context, slug string) (*domain.Petition, error)
	FindByID(ctx context.Context, petitionID string) (*domain.Petition, error)
}

// SignatureStore must reject a second record for the same (email, petition)
// with domain.ErrConflict.
type SignatureStore interface {
	Insert(ctx context.Context, rec *domain.SignatureRecord) error
	ExistsFor(ctx context.Context, email, petitionID string) (bool, error)
	FindByID(ctx context.Context, signatureID string) (*domain.SignatureRecord, error)
	AttachReceipt(ctx context.Context, signatureID, receiptKey string) error
	ListPendingReceipts(ctx context.Context, limit int) ([]domain.SignatureRecord, error)
}

type BlobStore interface {
	Put(ctx context.Context, key string, body []byte) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

type ReceiptRenderer interface {
	Render(p *domain.Petition, rec *domain.SignatureRecord, verifyURL string) ([]byte, error)
}

type TokenVerifier interface {
	Verify(token string) (*domain.VerificationClaims, error)
}

type EventPublisher interface {
	SignatureRecorded(ctx context.Context, ev sns.SignatureEvent) error
}

type RateLimiter interface {
	Allow(ctx context.Context, r ratelimit.Rule, subject string) (bool, error)
}

// ServiceDeps holds all dependencies for the signature service.
// Events is optional.
type ServiceDeps struct {
	PetitionRepo  PetitionStore
	SignatureRepo SignatureStore
	Blobs         BlobStore
	Renderer      ReceiptRenderer
	Tokens        TokenVerifier
	Events        EventPublisher
	Limiter       RateLimiter
	Policy        ratelimit.Policy
	BaseURL       string
	MaxImageBytes int
	Now           func() time.Time
}

type service struct {
	petitionRepo  PetitionStore
	signatureRepo SignatureStore
	blobs         BlobStore
	renderer      ReceiptRenderer
	tokens        TokenVerifier
	events        EventPublisher
	limiter       RateLimiter
	policy        ratelimit.Policy
	baseURL       string
	maxImageBytes int
	now           func() time.Time
}

func NewService(d ServiceDeps) Service {
	now := d.Now
	if now == nil {
		now = time.Now
	}
	return &service{
		petitionRepo:  d.PetitionRepo,
		signatureRepo: d.SignatureRepo,
		blobs:         d.Blobs,
		renderer:      d.Renderer,
		tokens:        d.Tokens,
		events:        d.Events,
		limiter:       d.Limiter,
		policy:        d.Policy,
		baseURL:       d.BaseURL,
		maxImageBytes: d.MaxImageBytes,
		now:           now,
	}
}

var errAlreadySigned = domain.NewError(domain.ErrConflict, domain.CodeAlreadySigned, "this email has already signed the petition")

// Submit records a signature. Every step before the insert is a hard gate;
// the receipt after it is best effort.
func (s *service) Submit(ctx context.Context, in SubmitInput) (*SubmitResult, error) {
	in.Payload.Email = domain.NormalizeEmail(in.Payload.Email)
	in.Payload.State = strings.ToUpper(in.Payload.State)
	in.Payload.Country = strings.ToUpper(in.Payload.Country)
	if err := validate.Struct(&in); err != nil {
		return nil, err
	}
	p := in.Payload

	claims, err := s.tokens.Verify(in.Token)
	if err != nil {
		return nil, err
	}
	if domain.NormalizeEmail(claims.Email) != p.Email {
		return nil, domain.NewError(domain.ErrUnauthorized, domain.CodeEmailMismatch, "token was issued for a different email")
	}

	if err := s.checkLimits(ctx, p.Email, in.IP); err != nil {
		return nil, err
	}

	petition, err := s.petitionRepo.FindBySlug(ctx, p.PetitionSlug)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.NewError(domain.ErrNotFound, domain.CodePetitionNotFound, "petition not found")
	}
	if err != nil {
		return nil, fmt.Errorf("find petition: %w", err)
	}
	if !petition.IsLive {
		return nil, domain.NewError(domain.ErrConflict, domain.CodePetitionNotLive, "this petition is not accepting signatures")
	}

	exists, err := s.signatureRepo.ExistsFor(ctx, p.Email, petition.PetitionID)
	if err != nil {
		return nil, fmt.Errorf("check existing signature: %w", err)
	}
	if exists {
		return nil, errAlreadySigned
	}

	artifact, artifactHash, err := s.artifact(p)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	rec := &domain.SignatureRecord{
		SignatureID: id.New(),
		PetitionID:  petition.PetitionID,
		Signer: domain.Signer{
			FirstName: strings.TrimSpace(p.FirstName),
			LastName:  strings.TrimSpace(p.LastName),
			Email:     p.Email,
			City:      strings.TrimSpace(p.City),
			State:     p.State,
			Zip:       strings.TrimSpace(p.Zip),
			Country:   p.Country,
			Comment:   strings.TrimSpace(p.Comment),
			Consent:   p.Consent,
		},
		Artifact:           artifact,
		PetitionHash:       hashing.PetitionHash(petition.Title, petition.BodyMarkdown, petition.Version),
		SignatureImageHash: artifactHash,
		AuditTimestamp:     hashing.FormatTimestamp(now),
		IP:                 in.IP,
		UserAgent:          in.UserAgent,
		EmailVerifiedAt:    now,
		CreatedAt:          now,
	}
	rec.AuditHash = hashing.AuditHash(rec.AuditFields())

	if err := s.signatureRepo.Insert(ctx, rec); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return nil, errAlreadySigned
		}
		return nil, fmt.Errorf("store signature: %w", err)
	}
	slog.Info("signature recorded", "signature_id", rec.SignatureID, "petition_id", rec.PetitionID, "audit_hash", rec.AuditHash)

	res := &SubmitResult{
		SignatureID: rec.SignatureID,
		AuditHash:   rec.AuditHash,
		VerifyURL:   s.verifyURL(rec.AuditHash),
	}
	if key, err := s.attachReceipt(ctx, petition, rec); err != nil {
		slog.Warn("receipt pending", "signature_id", rec.SignatureID, "err", err)
		res.ReceiptPending = true
		res.ReceiptErr = err
	} else {
		res.ReceiptKey = key
	}
	s.publish(ctx, rec)
	return res, nil
}

func (s *service) checkLimits(ctx context.Context, email, ip string) error {
	checks := []struct {
		rule    ratelimit.Rule
		subject string
	}{
		{s.policy.SignPerEmail, email},
		{s.policy.SignPerIP, ip},
	}
	for _, c := range checks {
		if c.subject == "" {
			continue
		}
		ok, err := s.limiter.Allow(ctx, c.rule, c.subject)
		if err != nil {
			return domain.NewError(domain.ErrUnavailable, domain.CodeUnavailable, "service temporarily unavailable")
		}
		if !ok {
			return domain.NewError(domain.ErrTooManyRequests, domain.CodeRateLimited, "too many signature attempts, please try again later")
		}
	}
	return nil
}

// artifact builds the tagged signature and its hash. Only the branch named
// by Method is read.
func (s *service) artifact(p Payload) (domain.SignatureArtifact, string, error) {
	switch domain.SignatureMethod(p.Method) {
	case domain.MethodDrawn:
		img, err := decodeImage(p.SignatureImage, s.maxImageBytes)
		if err != nil {
			return nil, "", err
		}
		return domain.DrawnSignature{Image: img}, hashing.ImageHash(img), nil
	case domain.MethodTyped:
		text := strings.TrimSpace(p.TypedSignature)
		if text == "" {
			return nil, "", invalidSignature(fieldTypedSignature, "typed signature is empty")
		}
		return domain.TypedSignature{Text: text}, hashing.TypedSignatureHash(text), nil
	default:
		return nil, "", invalidSignature(fieldMethod, "unknown signature method")
	}
}

const (
	fieldMethod         = "payload.method"
	fieldSignatureImage = "payload.signatureImage"
	fieldTypedSignature = "payload.typedSignature"
)

// invalidSignature reports msg against the payload field that caused it.
func invalidSignature(field, msg string) error {
	e := domain.NewError(domain.ErrBadRequest, domain.CodeInvalidSignature, msg)
	e.Fields = map[string]string{field: "invalid"}
	return e
}

// decodeImage accepts raw base64 or a data URL and returns the image bytes.
func decodeImage(payload string, maxBytes int) ([]byte, error) {
	data := strings.TrimSpace(payload)
	if strings.HasPrefix(data, "data:") {
		meta, rest, ok := strings.Cut(data, ",")
		if !ok || !strings.HasSuffix(meta, ";base64") {
			return nil, invalidSignature(fieldSignatureImage, "signature image must be base64 encoded")
		}
		data = rest
	}
	if maxBytes > 0 && base64.StdEncoding.DecodedLen(len(data)) > maxBytes+2 {
		return nil, invalidSignature(fieldSignatureImage, "signature image is too large")
	}
	img, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, invalidSignature(fieldSignatureImage, "signature image is not valid base64")
	}
	if len(img) == 0 {
		return nil, invalidSignature(fieldSignatureImage, "signature image is empty")
	}
	if maxBytes > 0 && len(img) > maxBytes {
		return nil, invalidSignature(fieldSignatureImage, "signature image is too large")
	}
	if !strings.HasPrefix(http.DetectContentType(img), "image/") {
		return nil, invalidSignature(fieldSignatureImage, "signature image is not an image")
	}
	return img, nil
}

func (s *service) verifyURL(auditHash string) string {
	if s.baseURL == "" {
		return ""
	}
	return s.baseURL + auditHash
}

// attachReceipt renders and stores the receipt, then records its key.
func (s *service) attachReceipt(ctx context.Context, p *domain.Petition, rec *domain.SignatureRecord) (string, error) {
	body, err := s.renderer.Render(p, rec, s.verifyURL(rec.AuditHash))
	if err != nil {
		return "", fmt.Errorf("render receipt: %w", err)
	}
	key := receipt.Key(rec.SignatureID)
	if err := s.blobs.Put(ctx, key, body); err != nil {
		return "", fmt.Errorf("store receipt: %w", err)
	}
	if err := s.signatureRepo.AttachReceipt(ctx, rec.SignatureID, key); err != nil {
		return "", fmt.Errorf("attach receipt: %w", err)
	}
	return key, nil
}

func (s *service) publish(ctx context.Context, rec *domain.SignatureRecord) {
	if s.events == nil {
		return
	}
	err := s.events.SignatureRecorded(ctx, sns.SignatureEvent{
		SignatureID: rec.SignatureID,
		PetitionID:  rec.PetitionID,
		AuditHash:   rec.AuditHash,
		SignedAt:    rec.AuditTimestamp,
		State:       rec.Signer.State,
		Country:     rec.Signer.Country,
	})
	if err != nil {
		slog.Warn("signature event not published", "signature_id", rec.SignatureID, "err", err)
	}
}

// RetryPendingReceipts attaches receipts to up to limit signatures that were
// committed without one. It returns how many were attached.
func (s *service) RetryPendingReceipts(ctx context.Context, limit int) (int, error) {
	pending, err := s.signatureRepo.ListPendingReceipts(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("list pending receipts: %w", err)
	}
	petitions := map[string]*domain.Petition{}
	attached := 0
	for i := range pending {
		rec := &pending[i]
		p, ok := petitions[rec.PetitionID]
		if !ok {
			p, err = s.petitionRepo.FindByID(ctx, rec.PetitionID)
			if err != nil {
				slog.Warn("receipt retry: petition lookup failed", "signature_id", rec.SignatureID, "err", err)
				continue
			}
			petitions[rec.PetitionID] = p
		}
		if _, err := s.attachReceipt(ctx, p, rec); err != nil {
			slog.Warn("receipt retry failed", "signature_id", rec.SignatureID, "err", err)
			continue
		}
		attached++
	}
	return attached, nil
}

// OpenReceipt streams the stored receipt for a signature.
func (s *service) OpenReceipt(ctx context.Context, signatureID string) (io.ReadCloser, error) {
	notFound := domain.NewError(domain.ErrNotFound, domain.CodeNotFound, "receipt not found")
	rec, err := s.signatureRepo.FindByID(ctx, signatureID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, notFound
	}
	if err != nil {
		return nil, err
	}
	if rec.ReceiptKey == "" {
		return nil, notFound
	}
	rc, err := s.blobs.Open(ctx, rec.ReceiptKey)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, notFound
	}
	return rc, err
}
