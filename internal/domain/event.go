package domain

import (
	"strings"
	"time"
)

// Event represents a single entity state change received from the hub
type Event struct {
	EntityID      string
	Domain        string
	State         string
	PreviousState string
	Timestamp     time.Time
	Attributes    map[string]any
}

// DomainOf extracts the domain portion of a namespaced entity ID
// ("light.kitchen" -> "light"). Returns "" when the ID has no namespace.
func DomainOf(entityID string) string {
	if i := strings.Index(entityID, "."); i > 0 {
		return entityID[:i]
	}
	return ""
}
