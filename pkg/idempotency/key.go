// Package idempotency derives the stable keys that gate duplicate
// processing of webhook sightings. The same builder serves inbound
// messages, ACKs (index 0) and allocation dedupe.
package idempotency

import (
	"strconv"
	"strings"
)

const (
	separator   = "\x1f" // unit separator, cannot appear in any field
	placeholder = "unknown"
)

// MessageKey builds the dedupe key for one sighting of a message.
// Fields are lower-cased; empty fields become the "unknown" placeholder so
// two partially-identified sightings of the same message still collide.
func MessageKey(tenantID, instanceID, messageID string, index int) string {
	parts := []string{
		fold(tenantID),
		fold(instanceID),
		fold(messageID),
		indexPart(index),
	}
	return strings.Join(parts, separator)
}

// AckKey gates duplicate ACK sightings. ACKs carry no message index.
func AckKey(tenantID, instanceID, messageID string) string {
	return "ack" + separator + MessageKey(tenantID, instanceID, messageID, 0)
}

// AllocationKey gates duplicate lead allocations per campaign. An empty
// campaignID means the bare-instance allocation.
func AllocationKey(tenantID, campaignID, leadID, messageID string) string {
	parts := []string{
		"alloc",
		fold(tenantID),
		fold(campaignID),
		fold(leadID),
		fold(messageID),
	}
	return strings.Join(parts, separator)
}

func fold(s string) string {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return placeholder
	}
	return s
}

func indexPart(index int) string {
	if index < 0 {
		index = 0
	}
	return strconv.Itoa(index)
}
