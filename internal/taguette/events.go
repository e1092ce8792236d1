package taguette

import "strconv"

// EventType is the "type" field of a project event.
type EventType string

const (
	ProjectMeta     EventType = "project_meta"
	DocumentAdd     EventType = "document_add"
	DocumentDelete  EventType = "document_delete"
	HighlightAdd    EventType = "highlight_add"
	HighlightDelete EventType = "highlight_delete"
	TagAdd          EventType = "tag_add"
	TagDelete       EventType = "tag_delete"
	TagMerge        EventType = "tag_merge"
	MemberAdd       EventType = "member_add"
	MemberRemove    EventType = "member_remove"
	ProjectImport   EventType = "project_import"
)

// Event is a change to the project. Which fields are set depends on Type.
type Event struct {
	ID        int       `json:"id"`
	Type      EventType `json:"type"`
	UserLogin string    `json:"user_login"`

	DocumentID    int    `json:"document_id,omitempty"`
	DocumentName  string `json:"document_name,omitempty"`
	TextDirection string `json:"text_direction,omitempty"`

	HighlightID int   `json:"highlight_id,omitempty"`
	StartOffset int   `json:"start_offset,omitempty"`
	EndOffset   int   `json:"end_offset,omitempty"`
	Tags        []int `json:"tags,omitempty"`

	TagID     int    `json:"tag_id,omitempty"`
	TagPath   string `json:"tag_path,omitempty"`
	SrcTagID  int    `json:"src_tag_id,omitempty"`
	DestTagID int    `json:"dest_tag_id,omitempty"`

	ProjectName string `json:"project_name,omitempty"`
	Description string `json:"description,omitempty"`

	Member     string `json:"member,omitempty"`
	Privileges string `json:"privileges,omitempty"`

	// TagCountChanges maps tag ids, as strings, to a change in the number of
	// highlights using them.
	TagCountChanges map[string]int `json:"tag_count_changes,omitempty"`
}

// CountChanges returns TagCountChanges keyed by tag id. Malformed keys are
// dropped.
func (e Event) CountChanges() map[int]int {
	if len(e.TagCountChanges) == 0 {
		return nil
	}
	changes := make(map[int]int, len(e.TagCountChanges))
	for k, v := range e.TagCountChanges {
		id, err := strconv.Atoi(k)
		if err != nil {
			continue
		}
		changes[id] += v
	}
	return changes
}

// Batch is the answer to an event poll.
type Batch struct {
	Events []Event `json:"events"`
	// Reload is set when the client is too far behind or runs a version
	// the server does not accept, and must reload everything.
	Reload bool `json:"reload"`
}
