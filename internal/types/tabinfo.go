package types

import "time"

// TabInfo holds metadata about a watched browser tab.
type TabInfo struct {
	TargetID   string    `json:"target_id"`
	URL        string    `json:"url"`
	Title      string    `json:"title,omitempty"`
	BrowserID  string    `json:"browser_id"` // Short ID from target ID, e.g., "B0D5A8E8"
	AttachedAt time.Time `json:"attached_at"`
}

// BrowserIDFromTargetID returns the first 8 chars of a CDP target ID.
func BrowserIDFromTargetID(targetID string) string {
	if len(targetID) >= 8 {
		return targetID[:8]
	}
	return targetID
}
