package dynamo

// DynamoDB attribute names used in expressions across all repos.
// Using constants prevents silent runtime bugs caused by key typos.
const (
	fieldKind           = "kind"
	fieldConsumedAt     = "consumed_at"
	fieldAttempts       = "attempts"
	fieldReceiptKey     = "receipt_key"
	fieldReceiptPending = "receipt_pending"
	fieldStatsTotal     = "total"
	fieldUpdatedAt      = "updated_at"
	fieldCount          = "hits"
	fieldTTL            = "ttl"
)

// Item kinds in the signatures table. Guard and stats items hold no
// signature data and carry none of the index key attributes.
const (
	kindSignature     = "signature"
	kindSignerGuard   = "signer_guard"
	kindAuditGuard    = "audit_guard"
	kindPetitionStats = "petition_stats"
)
