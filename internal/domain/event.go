package domain

// EventKind classifies an inbound channel event.
type EventKind string

const (
	EventFollow EventKind = "follow"
	EventText   EventKind = "text"
	EventAction EventKind = "action"
)

// Action names for structured events.
const (
	ActionRegenerateTasks   = "regenerate_tasks"
	ActionViewTask          = "view_task"
	ActionCompleteTask      = "complete_task"
	ActionAddTask           = "add_task"
	ActionDeleteTask        = "delete_task"
	ActionEditRelationship  = "edit_relationship"
	ActionEditAddress       = "edit_address"
	ActionEditReferenceDate = "edit_reference_date"
	ActionSetReferenceDate  = "set_reference_date"
)

// InboundEvent is one event received from the message channel.
type InboundEvent struct {
	ChannelID string
	Kind      EventKind
	Text      string
	Action    string
	Params    map[string]string
}

// ReplyKind tags the shape of a Reply.
type ReplyKind string

const (
	ReplyNone       ReplyKind = "none"
	ReplyText       ReplyKind = "text"
	ReplyQuestion   ReplyKind = "question"
	ReplyTaskList   ReplyKind = "task_list"
	ReplyTaskDetail ReplyKind = "task_detail"
	ReplyUpgrade    ReplyKind = "upgrade"
	ReplyConfirm    ReplyKind = "confirm"
)

// Reply is the closed result of handling an inbound event.
// Which fields are set depends on Kind.
type Reply struct {
	Kind     ReplyKind
	Text     string
	Options  []string
	Tasks    []TaskView
	Task     *Task
	Actions  []string
	Question *FollowUpQuestion
}

func TextReply(text string) Reply {
	return Reply{Kind: ReplyText, Text: text}
}
