package services

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"restaurant-ops/internal/domain/models"
)

// Describe renders a notification as a single human readable line.
func Describe(n models.Notification) string {
	var fields map[string]any
	if len(n.Payload) > 0 && json.Unmarshal(n.Payload, &fields) == nil && len(fields) > 0 {
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s=%v", k, fields[k]))
		}
		return fmt.Sprintf("Notification for store %s: %s (%s)", n.StoreID, n.Kind, strings.Join(parts, ", "))
	}
	return fmt.Sprintf("Notification for store %s: %s", n.StoreID, n.Kind)
}

// Wanted reports whether a subscriber filtering on storeID should see n.
func Wanted(n models.Notification, storeID string) bool {
	return storeID == "" || n.StoreID == storeID
}
