package collab

import "time"

// HistoryEvent 写入 Kafka 的编辑历史事件
type HistoryEvent struct {
	EventType     string    `json:"eventType"` // 固定 "DOC_HISTORY"
	EntryID       string    `json:"entryId"`
	DocID         string    `json:"docId"`
	Action        string    `json:"action"`
	EditorID      string    `json:"editorId"`
	EditorName    string    `json:"editorName"`
	Summary       string    `json:"summary,omitempty"`
	VersionBefore uint64    `json:"versionBefore"`
	VersionAfter  uint64    `json:"versionAfter"`
	CreatedAt     time.Time `json:"createdAt"`
}

func NewHistoryEvent(e HistoryEntry) HistoryEvent {
	return HistoryEvent{
		EventType:     "DOC_HISTORY",
		EntryID:       e.ID,
		DocID:         e.DocumentID,
		Action:        e.Action,
		EditorID:      e.EditorID,
		EditorName:    e.EditorName,
		Summary:       e.Summary,
		VersionBefore: e.VersionBefore,
		VersionAfter:  e.VersionAfter,
		CreatedAt:     e.CreatedAt,
	}
}
