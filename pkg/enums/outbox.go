package enums

import "fmt"

// OutboxStatus is the delivery state of a queued mutation.
type OutboxStatus string

const (
	// OutboxPending is waiting for its first delivery attempt.
	OutboxPending OutboxStatus = "pending"
	// OutboxSyncing has an in-flight remote call.
	OutboxSyncing OutboxStatus = "syncing"
	// OutboxSynced was delivered and is eligible for retention cleanup.
	OutboxSynced OutboxStatus = "synced"
	// OutboxFailed failed a delivery attempt and is awaiting its next
	// retry (retry count and next_retry_at are set).
	OutboxFailed OutboxStatus = "failed"
	// OutboxDead exhausted its retry budget. Terminal until a manual
	// reset moves it back to pending.
	OutboxDead OutboxStatus = "dead"
)

var validOutboxStatuses = []OutboxStatus{
	OutboxPending,
	OutboxSyncing,
	OutboxSynced,
	OutboxFailed,
	OutboxDead,
}

// IsValid reports whether the value is a known outbox status.
func (s OutboxStatus) IsValid() bool {
	for _, candidate := range validOutboxStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// Terminal reports whether the status ends automatic processing.
func (s OutboxStatus) Terminal() bool {
	return s == OutboxSynced || s == OutboxDead
}

// ParseOutboxStatus converts raw input into OutboxStatus.
func ParseOutboxStatus(value string) (OutboxStatus, error) {
	for _, candidate := range validOutboxStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid outbox status %q", value)
}

// OutboxOperation is the kind of mutation a queue entry carries.
type OutboxOperation string

const (
	OperationCreate OutboxOperation = "create"
	OperationUpdate OutboxOperation = "update"
	OperationDelete OutboxOperation = "delete"
)

var validOutboxOperations = []OutboxOperation{
	OperationCreate,
	OperationUpdate,
	OperationDelete,
}

// IsValid reports whether the value is a known outbox operation.
func (o OutboxOperation) IsValid() bool {
	for _, candidate := range validOutboxOperations {
		if candidate == o {
			return true
		}
	}
	return false
}

// ParseOutboxOperation converts raw input into OutboxOperation.
func ParseOutboxOperation(value string) (OutboxOperation, error) {
	for _, candidate := range validOutboxOperations {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid outbox operation %q", value)
}
