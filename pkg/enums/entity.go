package enums

import "fmt"

// EntityType names a synced domain entity. The value doubles as the
// remote resource path segment (/api/v2/{entityType}) and the sync
// metadata resource key.
type EntityType string

const (
	EntityMembers       EntityType = "members"
	EntityEvents        EntityType = "events"
	EntityAttendance    EntityType = "attendance"
	EntityAnnouncements EntityType = "announcements"
)

var validEntityTypes = []EntityType{
	EntityMembers,
	EntityEvents,
	EntityAttendance,
	EntityAnnouncements,
}

// IsValid reports whether the value is a known entity type.
func (e EntityType) IsValid() bool {
	for _, candidate := range validEntityTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseEntityType converts raw input into EntityType.
func ParseEntityType(value string) (EntityType, error) {
	for _, candidate := range validEntityTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid entity type %q", value)
}

// EntityTypes returns all synced entity types in a stable order.
func EntityTypes() []EntityType {
	out := make([]EntityType, len(validEntityTypes))
	copy(out, validEntityTypes)
	return out
}
