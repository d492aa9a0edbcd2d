package tracker

// EventKind identifies the editor notification an Event carries.
type EventKind string

const (
	// EventOpen announces that a file is open in the editor. Editors replay
	// open events when restoring a window, so handling must be idempotent.
	EventOpen EventKind = "open"
	// EventEdit carries one or more content changes to a file.
	EventEdit EventKind = "edit"
	// EventClose announces that a file was closed.
	EventClose EventKind = "close"
	// EventFocus announces the file that gained editor focus. An empty File
	// means no file is focused (e.g. a settings pane).
	EventFocus EventKind = "focus"
	// EventSelect announces a cursor/selection movement inside a file.
	EventSelect EventKind = "select"
	// EventWindow announces that the editor window gained or lost OS focus.
	EventWindow EventKind = "window"
	// EventPost asks for an immediate granular send of the live snapshot,
	// bypassing the store.
	EventPost EventKind = "post"
	// EventSync asks for a flush followed by a batch sync.
	EventSync EventKind = "sync"
)

// Change describes a single edit range within an EventEdit.
//
// StartLine/EndLine delimit the replaced range in the pre-edit document,
// Text is the inserted text, and ReplacedLen is the character length of the
// range that was replaced.
type Change struct {
	StartLine   int    `json:"start_line"`
	EndLine     int    `json:"end_line"`
	Text        string `json:"text"`
	ReplacedLen int    `json:"replaced"`
}

// Event is one editor notification as delivered by a host feed.
type Event struct {
	Kind     EventKind `json:"event"`
	File     string    `json:"file,omitempty"`
	Language string    `json:"language,omitempty"`
	Focused  bool      `json:"focused,omitempty"`
	Changes  []Change  `json:"changes,omitempty"`
}
