package dynamo

import (
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/go-petition/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignatureItem_DrawnKeepsImageOnly(t *testing.T) {
	rec := &domain.SignatureRecord{
		SignatureID: "s1",
		PetitionID:  "p1",
		Signer:      domain.Signer{FirstName: "Ada", Email: "ada@example.com", Consent: true},
		Artifact:    domain.DrawnSignature{Image: []byte{0x89, 'P', 'N', 'G'}},
		AuditHash:   "h1",
		CreatedAt:   time.UnixMilli(1700000000123).UTC(),
	}
	it := toSignatureItem(rec)
	assert.Equal(t, kindSignature, it.Kind)
	assert.Equal(t, "drawn", it.Method)
	assert.Empty(t, it.TypedSignature)
	assert.Equal(t, int64(1700000000123), it.CreatedMs)

	av, err := attributevalue.MarshalMap(it)
	require.NoError(t, err)
	_, hasText := av["typed_signature"]
	assert.False(t, hasText)
	_, hasReceipt := av["receipt_key"]
	assert.False(t, hasReceipt, "receipt_key must be absent so attribute_not_exists matches")

	back, err := unmarshalSignature(av)
	require.NoError(t, err)
	assert.Equal(t, rec.Artifact, back.Artifact)
	assert.Equal(t, rec.Signer, back.Signer)
}

func TestSignatureItem_Typed(t *testing.T) {
	it := toSignatureItem(&domain.SignatureRecord{SignatureID: "s2", Artifact: domain.TypedSignature{Text: "Ada L"}})
	assert.Equal(t, "typed", it.Method)
	assert.Nil(t, it.SignatureImage)

	back, err := it.record()
	require.NoError(t, err)
	assert.Equal(t, domain.TypedSignature{Text: "Ada L"}, back.Artifact)
}

func TestUnmarshalSignature_GuardIsNotASignature(t *testing.T) {
	av, err := attributevalue.MarshalMap(guardItem{SignatureID: auditGuardID("h1"), Kind: kindAuditGuard, Owner: "s1"})
	require.NoError(t, err)
	_, err = unmarshalSignature(av)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSignerGuardID_CaseInsensitiveEmail(t *testing.T) {
	assert.Equal(t, signerGuardID("A@X.com", "p1"), signerGuardID("a@x.com", "p1"))
	assert.NotEqual(t, signerGuardID("a@x.com", "p1"), signerGuardID("a@x.com", "p2"))
}

func TestNumberAttr(t *testing.T) {
	n, err := numberAttr(map[string]types.AttributeValue{"hits": &types.AttributeValueMemberN{Value: "4"}}, "hits")
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	n, err = numberAttr(nil, "hits")
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = numberAttr(map[string]types.AttributeValue{"hits": &types.AttributeValueMemberS{Value: "x"}}, "hits")
	assert.Error(t, err)
}

func TestSignatureItem_ReceiptPendingFlag(t *testing.T) {
	pending := toSignatureItem(&domain.SignatureRecord{SignatureID: "s1", Artifact: domain.TypedSignature{Text: "Ada"}})
	assert.Equal(t, receiptPendingValue, pending.ReceiptPending)

	done := toSignatureItem(&domain.SignatureRecord{SignatureID: "s2", Artifact: domain.TypedSignature{Text: "Ada"}, ReceiptKey: "receipts/s2.html"})
	av, err := attributevalue.MarshalMap(done)
	require.NoError(t, err)
	_, hasFlag := av[fieldReceiptPending]
	assert.False(t, hasFlag, "signatures with a receipt stay out of the sparse index")
}

func TestCountSignature_UpdatesTotalAndState(t *testing.T) {
	r := &SignatureRepo{tableName: "signatures"}

	u := r.countSignature(&domain.SignatureRecord{PetitionID: "p1", Signer: domain.Signer{State: "NY"}}).Update
	require.NotNil(t, u)
	assert.Equal(t, statsID("p1"), u.Key["signature_id"].(*types.AttributeValueMemberS).Value)
	assert.Equal(t, "SET #kind = :kind ADD #total :one, #st :one", *u.UpdateExpression)
	assert.Equal(t, "state_NY", u.ExpressionAttributeNames["#st"])
	assert.Nil(t, u.ConditionExpression)

	u = r.countSignature(&domain.SignatureRecord{PetitionID: "p1"}).Update
	assert.Equal(t, "SET #kind = :kind ADD #total :one", *u.UpdateExpression)
	_, hasState := u.ExpressionAttributeNames["#st"]
	assert.False(t, hasState)
}

func TestUnmarshalSignature_StatsItemIsNotASignature(t *testing.T) {
	item := map[string]types.AttributeValue{
		"signature_id": &types.AttributeValueMemberS{Value: statsID("p1")},
		fieldKind:      &types.AttributeValueMemberS{Value: kindPetitionStats},
		"total":        &types.AttributeValueMemberN{Value: "3"},
	}
	_, err := unmarshalSignature(item)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestGSI_Projection(t *testing.T) {
	all := gsi(indexSignatureAudit, "audit_hash", "")
	assert.Equal(t, types.ProjectionTypeAll, all.Projection.ProjectionType)
	assert.Len(t, all.KeySchema, 1)

	names := gsi(indexSignaturePetition, "petition_id", "created_ms", "first_name", "last_name", "state")
	assert.Equal(t, types.ProjectionTypeInclude, names.Projection.ProjectionType)
	assert.Equal(t, []string{"first_name", "last_name", "state"}, names.Projection.NonKeyAttributes)
	assert.NotContains(t, names.Projection.NonKeyAttributes, "signature_image")
}
