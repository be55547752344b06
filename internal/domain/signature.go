package domain

import (
	"errors"
	"time"

	"github.com/go-petition/internal/pkg/hashing"
)

type SignatureMethod string

const (
	MethodDrawn SignatureMethod = "drawn"
	MethodTyped SignatureMethod = "typed"
)

// SignatureArtifact is either a DrawnSignature or a TypedSignature.
type SignatureArtifact interface {
	Method() SignatureMethod
	isArtifact()
}

// DrawnSignature holds the decoded image bytes of a hand-drawn signature.
type DrawnSignature struct {
	Image []byte
}

func (DrawnSignature) Method() SignatureMethod { return MethodDrawn }
func (DrawnSignature) isArtifact()             {}

// TypedSignature holds a signature typed as text.
type TypedSignature struct {
	Text string
}

func (TypedSignature) Method() SignatureMethod { return MethodTyped }
func (TypedSignature) isArtifact()             {}

// ArtifactFromStored rebuilds the artifact from the flat columns a store keeps.
func ArtifactFromStored(method string, image []byte, text string) (SignatureArtifact, error) {
	switch SignatureMethod(method) {
	case MethodDrawn:
		if len(image) == 0 {
			return nil, errors.New("drawn signature without image")
		}
		return DrawnSignature{Image: image}, nil
	case MethodTyped:
		if text == "" {
			return nil, errors.New("typed signature without text")
		}
		return TypedSignature{Text: text}, nil
	default:
		return nil, errors.New("unknown signature method " + method)
	}
}

// Signer is the personal data a signer submits. Optional fields are empty
// when absent.
type Signer struct {
	FirstName string
	LastName  string
	Email     string
	City      string
	State     string
	Zip       string
	Country   string
	Comment   string
	Consent   bool
}

// SignatureRecord is an append-only signature. AuditTimestamp is the exact
// string hashed into AuditHash.
type SignatureRecord struct {
	SignatureID        string
	PetitionID         string
	Signer             Signer
	Artifact           SignatureArtifact
	PetitionHash       string
	SignatureImageHash string // image hash for drawn, typed-signature hash for typed
	AuditHash          string
	AuditTimestamp     string
	IP                 string
	UserAgent          string
	EmailVerifiedAt    time.Time
	CreatedAt          time.Time
	ReceiptKey         string // empty until a receipt is attached
}

// AuditFields returns the field set the audit hash is computed over.
func (r *SignatureRecord) AuditFields() hashing.AuditFields {
	method := ""
	if r.Artifact != nil {
		method = string(r.Artifact.Method())
	}
	return hashing.AuditFields{
		Comment:            r.Signer.Comment,
		Consent:            r.Signer.Consent,
		Country:            r.Signer.Country,
		City:               r.Signer.City,
		Email:              r.Signer.Email,
		FirstName:          r.Signer.FirstName,
		IP:                 r.IP,
		LastName:           r.Signer.LastName,
		Method:             method,
		PetitionHash:       r.PetitionHash,
		SignatureImageHash: r.SignatureImageHash,
		State:              r.Signer.State,
		Timestamp:          r.AuditTimestamp,
		UserAgent:          r.UserAgent,
		Zip:                r.Signer.Zip,
	}
}

// AuditVerification is the non-identifying provenance returned by the public
// audit lookup. It never carries a name or email.
type AuditVerification struct {
	PetitionTitle   string    `json:"title"`
	PetitionVersion string    `json:"version"`
	SignedAt        time.Time `json:"signed_at"`
	City            string    `json:"city,omitempty"`
	State           string    `json:"state,omitempty"`
	Country         string    `json:"country,omitempty"`
}
