package dynamo

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/go-petition/internal/domain"
)

// signatureItem is the flat DynamoDB shape of a domain.SignatureRecord.
type signatureItem struct {
	SignatureID        string    `dynamodbav:"signature_id"`
	Kind               string    `dynamodbav:"kind"`
	PetitionID         string    `dynamodbav:"petition_id"`
	FirstName          string    `dynamodbav:"first_name"`
	LastName           string    `dynamodbav:"last_name"`
	Email              string    `dynamodbav:"email"`
	City               string    `dynamodbav:"city"`
	State              string    `dynamodbav:"state"`
	Zip                string    `dynamodbav:"zip"`
	Country            string    `dynamodbav:"country"`
	Comment            string    `dynamodbav:"comment"`
	Consent            bool      `dynamodbav:"consent"`
	Method             string    `dynamodbav:"method"`
	SignatureImage     []byte    `dynamodbav:"signature_image,omitempty"`
	TypedSignature     string    `dynamodbav:"typed_signature,omitempty"`
	PetitionHash       string    `dynamodbav:"petition_hash"`
	SignatureImageHash string    `dynamodbav:"signature_image_hash"`
	AuditHash          string    `dynamodbav:"audit_hash"`
	AuditTimestamp     string    `dynamodbav:"audit_timestamp"`
	IP                 string    `dynamodbav:"ip"`
	UserAgent          string    `dynamodbav:"user_agent"`
	EmailVerifiedAt    time.Time `dynamodbav:"email_verified_at"`
	CreatedAt          time.Time `dynamodbav:"created_at"`
	CreatedMs          int64     `dynamodbav:"created_ms"`
	ReceiptKey         string    `dynamodbav:"receipt_key,omitempty"`
	ReceiptPending     string    `dynamodbav:"receipt_pending,omitempty"` // set until a receipt is attached
}

// guardItem reserves a unique value inside the signatures table.
type guardItem struct {
	SignatureID string `dynamodbav:"signature_id"`
	Kind        string `dynamodbav:"kind"`
	Owner       string `dynamodbav:"owner"`
}

func toSignatureItem(rec *domain.SignatureRecord) signatureItem {
	it := signatureItem{
		SignatureID:        rec.SignatureID,
		Kind:               kindSignature,
		PetitionID:         rec.PetitionID,
		FirstName:          rec.Signer.FirstName,
		LastName:           rec.Signer.LastName,
		Email:              rec.Signer.Email,
		City:               rec.Signer.City,
		State:              rec.Signer.State,
		Zip:                rec.Signer.Zip,
		Country:            rec.Signer.Country,
		Comment:            rec.Signer.Comment,
		Consent:            rec.Signer.Consent,
		PetitionHash:       rec.PetitionHash,
		SignatureImageHash: rec.SignatureImageHash,
		AuditHash:          rec.AuditHash,
		AuditTimestamp:     rec.AuditTimestamp,
		IP:                 rec.IP,
		UserAgent:          rec.UserAgent,
		EmailVerifiedAt:    rec.EmailVerifiedAt,
		CreatedAt:          rec.CreatedAt,
		CreatedMs:          rec.CreatedAt.UnixMilli(),
		ReceiptKey:         rec.ReceiptKey,
	}
	if rec.ReceiptKey == "" {
		it.ReceiptPending = receiptPendingValue
	}
	switch a := rec.Artifact.(type) {
	case domain.DrawnSignature:
		it.Method = string(domain.MethodDrawn)
		it.SignatureImage = a.Image
	case domain.TypedSignature:
		it.Method = string(domain.MethodTyped)
		it.TypedSignature = a.Text
	}
	return it
}

func (it *signatureItem) record() (*domain.SignatureRecord, error) {
	art, err := domain.ArtifactFromStored(it.Method, it.SignatureImage, it.TypedSignature)
	if err != nil {
		return nil, fmt.Errorf("signature %s: %w", it.SignatureID, err)
	}
	return &domain.SignatureRecord{
		SignatureID: it.SignatureID,
		PetitionID:  it.PetitionID,
		Signer: domain.Signer{
			FirstName: it.FirstName,
			LastName:  it.LastName,
			Email:     it.Email,
			City:      it.City,
			State:     it.State,
			Zip:       it.Zip,
			Country:   it.Country,
			Comment:   it.Comment,
			Consent:   it.Consent,
		},
		Artifact:           art,
		PetitionHash:       it.PetitionHash,
		SignatureImageHash: it.SignatureImageHash,
		AuditHash:          it.AuditHash,
		AuditTimestamp:     it.AuditTimestamp,
		IP:                 it.IP,
		UserAgent:          it.UserAgent,
		EmailVerifiedAt:    it.EmailVerifiedAt,
		CreatedAt:          it.CreatedAt,
		ReceiptKey:         it.ReceiptKey,
	}, nil
}

func signerGuardID(email, petitionID string) string {
	return "signer#" + petitionID + "#" + strings.ToLower(email)
}

func auditGuardID(auditHash string) string {
	return "audit#" + auditHash
}

func statsID(petitionID string) string {
	return "stats#" + petitionID
}

// statsStatePrefix prefixes the per-state counters on a petition stats item.
const statsStatePrefix = "state_"

const receiptPendingValue = "1"

// SignatureRepo stores signatures. Uniqueness of (email, petition) and of the
// audit hash is enforced by guard items written in the same transaction as
// the signature.
type SignatureRepo struct {
	client    *dynamodb.Client
	tableName string
}

func NewSignatureRepo(client *dynamodb.Client, tableName string) *SignatureRepo {
	return &SignatureRepo{client: client, tableName: tableName}
}

func (r *SignatureRepo) Insert(ctx context.Context, rec *domain.SignatureRecord) error {
	item, err := attributevalue.MarshalMap(toSignatureItem(rec))
	if err != nil {
		return fmt.Errorf("marshal signature: %w", err)
	}
	signerGuard, err := attributevalue.MarshalMap(guardItem{
		SignatureID: signerGuardID(rec.Signer.Email, rec.PetitionID),
		Kind:        kindSignerGuard,
		Owner:       rec.SignatureID,
	})
	if err != nil {
		return fmt.Errorf("marshal signer guard: %w", err)
	}
	auditGuard, err := attributevalue.MarshalMap(guardItem{
		SignatureID: auditGuardID(rec.AuditHash),
		Kind:        kindAuditGuard,
		Owner:       rec.SignatureID,
	})
	if err != nil {
		return fmt.Errorf("marshal audit guard: %w", err)
	}

	put := func(it map[string]types.AttributeValue) types.TransactWriteItem {
		return types.TransactWriteItem{Put: &types.Put{
			TableName:           aws.String(r.tableName),
			Item:                it,
			ConditionExpression: aws.String("attribute_not_exists(signature_id)"),
		}}
	}
	_, err = r.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			put(signerGuard), put(auditGuard), put(item), r.countSignature(rec),
		},
	})
	if isTransactionConflict(err) {
		return fmt.Errorf("signature exists: %w", domain.ErrConflict)
	}
	return err
}

// countSignature bumps the petition's stats item in the insert transaction,
// so counts stay exact without reading signatures back.
func (r *SignatureRepo) countSignature(rec *domain.SignatureRecord) types.TransactWriteItem {
	expr := "SET #kind = :kind ADD #total :one"
	names := map[string]string{"#kind": fieldKind, "#total": fieldStatsTotal}
	if rec.Signer.State != "" {
		expr += ", #st :one"
		names["#st"] = statsStatePrefix + rec.Signer.State
	}
	return types.TransactWriteItem{Update: &types.Update{
		TableName:                aws.String(r.tableName),
		Key:                      strKey("signature_id", statsID(rec.PetitionID)),
		UpdateExpression:         aws.String(expr),
		ExpressionAttributeNames: names,
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":kind": &types.AttributeValueMemberS{Value: kindPetitionStats},
			":one":  &types.AttributeValueMemberN{Value: "1"},
		},
	}}
}

// ExistsFor reads the signer guard with a strongly consistent read.
func (r *SignatureRepo) ExistsFor(ctx context.Context, email, petitionID string) (bool, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:            aws.String(r.tableName),
		Key:                  strKey("signature_id", signerGuardID(email, petitionID)),
		ConsistentRead:       aws.Bool(true),
		ProjectionExpression: aws.String("signature_id"),
	})
	if err != nil {
		return false, err
	}
	return out.Item != nil, nil
}

func (r *SignatureRepo) FindByID(ctx context.Context, signatureID string) (*domain.SignatureRecord, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key:       strKey("signature_id", signatureID),
	})
	if err != nil {
		return nil, err
	}
	if out.Item == nil {
		return nil, fmt.Errorf("signature not found: %w", domain.ErrNotFound)
	}
	return unmarshalSignature(out.Item)
}

func (r *SignatureRepo) FindByAuditHash(ctx context.Context, auditHash string) (*domain.SignatureRecord, error) {
	out, err := r.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(r.tableName),
		IndexName:              aws.String(indexSignatureAudit),
		KeyConditionExpression: aws.String("audit_hash = :h"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":h": &types.AttributeValueMemberS{Value: auditHash},
		},
		Limit: aws.Int32(1),
	})
	if err != nil {
		return nil, err
	}
	if len(out.Items) == 0 {
		return nil, fmt.Errorf("signature not found: %w", domain.ErrNotFound)
	}
	return unmarshalSignature(out.Items[0])
}

// AttachReceipt records the receipt key once. A second attach is a no-op.
func (r *SignatureRepo) AttachReceipt(ctx context.Context, signatureID, receiptKey string) error {
	ue, err := buildUpdateExpr(map[string]interface{}{
		fieldReceiptKey: receiptKey,
		fieldUpdatedAt:  time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	ue.Names["#kind"] = fieldKind
	ue.Names["#rk"] = fieldReceiptKey
	ue.Names["#rp"] = fieldReceiptPending
	ue.Values[":sig"] = &types.AttributeValueMemberS{Value: kindSignature}
	_, err = r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(r.tableName),
		Key:                       strKey("signature_id", signatureID),
		UpdateExpression:          aws.String(ue.Expr + " REMOVE #rp"),
		ConditionExpression:       aws.String("#kind = :sig AND attribute_not_exists(#rk)"),
		ExpressionAttributeNames:  ue.Names,
		ExpressionAttributeValues: ue.Values,
	})
	if isConditionFailed(err) {
		if _, ferr := r.FindByID(ctx, signatureID); ferr != nil {
			return ferr
		}
		return nil
	}
	return err
}

// ListPendingReceipts reads the sparse pending-receipt index, oldest first.
// Only signatures without a receipt carry the index key.
func (r *SignatureRepo) ListPendingReceipts(ctx context.Context, limit int) ([]domain.SignatureRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	input := &dynamodb.QueryInput{
		TableName:              aws.String(r.tableName),
		IndexName:              aws.String(indexSignatureReceiptPending),
		KeyConditionExpression: aws.String("#rp = :pending"),
		ExpressionAttributeNames: map[string]string{
			"#rp": fieldReceiptPending,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pending": &types.AttributeValueMemberS{Value: receiptPendingValue},
		},
		ScanIndexForward: aws.Bool(true),
		Limit:            aws.Int32(int32(limit)),
	}
	out := make([]domain.SignatureRecord, 0, limit)
	p := dynamodb.NewQueryPaginator(r.client, input)
	for p.HasMorePages() && len(out) < limit {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, item := range page.Items {
			rec, err := unmarshalSignature(item)
			if err != nil {
				return nil, err
			}
			// The index is eventually consistent; skip rows attached since.
			if rec.ReceiptKey != "" {
				continue
			}
			out = append(out, *rec)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

// CountByPetition reads the total from the petition's stats item.
func (r *SignatureRepo) CountByPetition(ctx context.Context, petitionID string) (int, error) {
	item, err := r.statsItem(ctx, petitionID)
	if err != nil {
		return 0, err
	}
	n, err := numberAttr(item, fieldStatsTotal)
	return int(n), err
}

// CountByState reads the per-state counters from the petition's stats item.
func (r *SignatureRepo) CountByState(ctx context.Context, petitionID string) (map[string]int, error) {
	item, err := r.statsItem(ctx, petitionID)
	if err != nil {
		return nil, err
	}
	out := map[string]int{}
	for name := range item {
		state, ok := strings.CutPrefix(name, statsStatePrefix)
		if !ok || state == "" {
			continue
		}
		n, err := numberAttr(item, name)
		if err != nil {
			return nil, err
		}
		if n > 0 {
			out[state] = int(n)
		}
	}
	return out, nil
}

func (r *SignatureRepo) statsItem(ctx context.Context, petitionID string) (map[string]types.AttributeValue, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key:       strKey("signature_id", statsID(petitionID)),
	})
	if err != nil {
		return nil, fmt.Errorf("read petition stats: %w", err)
	}
	return out.Item, nil
}

// RecentByPetition returns the newest signers' names and states. The petition
// index projects only those attributes, so no signature images are read.
func (r *SignatureRepo) RecentByPetition(ctx context.Context, petitionID string, limit int) ([]domain.SignerName, error) {
	out, err := r.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(r.tableName),
		IndexName:              aws.String(indexSignaturePetition),
		KeyConditionExpression: aws.String("petition_id = :p"),
		ProjectionExpression:   aws.String("first_name, last_name, #st"),
		ExpressionAttributeNames: map[string]string{
			"#st": "state",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":p": &types.AttributeValueMemberS{Value: petitionID},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(int32(limit)),
	})
	if err != nil {
		return nil, fmt.Errorf("query recent signers: %w", err)
	}
	names := make([]domain.SignerName, 0, len(out.Items))
	for _, item := range out.Items {
		var n signerNameItem
		if err := attributevalue.UnmarshalMap(item, &n); err != nil {
			return nil, err
		}
		names = append(names, domain.SignerName{FirstName: n.FirstName, LastName: n.LastName, State: n.State})
	}
	return names, nil
}

type signerNameItem struct {
	FirstName string `dynamodbav:"first_name"`
	LastName  string `dynamodbav:"last_name"`
	State     string `dynamodbav:"state"`
}

func unmarshalSignature(item map[string]types.AttributeValue) (*domain.SignatureRecord, error) {
	var it signatureItem
	if err := attributevalue.UnmarshalMap(item, &it); err != nil {
		return nil, err
	}
	if it.Kind != kindSignature {
		return nil, fmt.Errorf("signature not found: %w", domain.ErrNotFound)
	}
	return it.record()
}
