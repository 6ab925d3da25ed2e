package contracts

// EventType identifies a vault state mutation for the event ledger and the
// audit trail.
type EventType string

const (
	EventDeposited           EventType = "DEPOSITED"
	EventWithdrawalInitiated EventType = "WITHDRAWAL_INITIATED"
	EventWithdrawalCompleted EventType = "WITHDRAWAL_COMPLETED"
	EventWithdrawalCancelled EventType = "WITHDRAWAL_CANCELLED"
	EventEarlyExited         EventType = "EARLY_EXITED"
	EventEmergencyReleased   EventType = "EMERGENCY_RELEASED"
	EventEpochAdvanced       EventType = "EPOCH_ADVANCED"
	EventModeChanged         EventType = "MODE_CHANGED"
	EventConditionDefined    EventType = "CONDITION_DEFINED"
	EventConditionSet        EventType = "CONDITION_SET"
	EventFactAttested        EventType = "FACT_ATTESTED"
	EventDelegationGranted   EventType = "DELEGATION_GRANTED"
	EventDelegationRevoked   EventType = "DELEGATION_REVOKED"
	EventAssetAllowed        EventType = "ASSET_ALLOWED"
	EventAssetDisallowed     EventType = "ASSET_DISALLOWED"
	EventEpochDurationSet    EventType = "EPOCH_DURATION_SET"
)
