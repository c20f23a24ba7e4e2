package domain

// Action is the closed set of commands the interpreter can produce. Every
// variant is decoded once at the interpreter boundary; consumers switch on the
// concrete type and treat anything else as Unknown.
type Action interface {
	actionName() string
}

// ActionName returns the wire name of a.
func ActionName(a Action) string {
	if a == nil {
		return ActionUnknown
	}
	return a.actionName()
}

const (
	ActionCreateBook  = "createBook"
	ActionAddFeedback = "addFeedback"
	ActionGetStatus   = "getStatus"
	ActionUnknown     = "unknown"
)

type CreateBook struct {
	ChildName string
	Theme     string
	Title     string
	Language  string
}

type AddFeedback struct {
	BookID string
	Note   string
}

type GetStatus struct {
	BookID string
}

// Unknown carries the clarification question and, for undecodable interpreter
// output, the raw text kept for debugging.
type Unknown struct {
	Question string
	Raw      string
}

func (CreateBook) actionName() string  { return ActionCreateBook }
func (AddFeedback) actionName() string { return ActionAddFeedback }
func (GetStatus) actionName() string   { return ActionGetStatus }
func (Unknown) actionName() string     { return ActionUnknown }

// ChatMessage is one turn of the conversation sent to the interpreter model.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
