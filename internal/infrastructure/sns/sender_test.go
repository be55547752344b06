package sns

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishInput(t *testing.T) {
	in, err := publishInput("arn:aws:sns:us-east-1:000000000000:signatures", EventSignatureRecorded, SignatureEvent{
		SignatureID: "s1",
		PetitionID:  "p1",
		AuditHash:   "abc",
		SignedAt:    "2024-05-01T12:00:00.000Z",
	})
	require.NoError(t, err)
	assert.Equal(t, "arn:aws:sns:us-east-1:000000000000:signatures", *in.TopicArn)
	assert.Equal(t, EventSignatureRecorded, *in.MessageAttributes["event_type"].StringValue)

	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(*in.Message), &got))
	assert.Equal(t, "abc", got["audit_hash"])
	assert.NotContains(t, got, "state")
}
