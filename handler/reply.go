package handler

import (
	"fmt"
	"strings"
	"time"

	"estate-assistant/internal/domain"
)

type replyResponse struct {
	Type     string         `json:"type"`
	Text     string         `json:"text,omitempty"`
	Options  []string       `json:"options,omitempty"`
	Actions  []string       `json:"actions,omitempty"`
	Tasks    []taskResponse `json:"tasks,omitempty"`
	Task     *taskResponse  `json:"task,omitempty"`
	Question string         `json:"questionKey,omitempty"`
}

type taskResponse struct {
	Number      int    `json:"number"`
	Masked      bool   `json:"masked,omitempty"`
	ID          string `json:"id,omitempty"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Category    string `json:"category,omitempty"`
	Priority    string `json:"priority,omitempty"`
	DueDate     string `json:"dueDate,omitempty"`
	Status      string `json:"status,omitempty"`
	Tips        string `json:"tips,omitempty"`
	Custom      bool   `json:"custom,omitempty"`
}

// render is the only place a Reply is turned into wire output. Every kind
// gets a text fallback for channels that cannot show structured content.
func render(r domain.Reply) replyResponse {
	out := replyResponse{Type: string(r.Kind), Options: r.Options, Actions: r.Actions}
	switch r.Kind {
	case domain.ReplyNone:
		out.Options, out.Actions = nil, nil
	case domain.ReplyText, domain.ReplyUpgrade:
		out.Text = r.Text
	case domain.ReplyQuestion:
		out.Text = withOptions(r.Text, r.Options)
		if r.Question != nil {
			out.Question = r.Question.Key
		}
	case domain.ReplyConfirm:
		out.Text = r.Text
	case domain.ReplyTaskList:
		lines := []string{r.Text}
		for _, v := range r.Tasks {
			tr := renderView(v)
			out.Tasks = append(out.Tasks, tr)
			lines = append(lines, listLine(tr))
		}
		out.Text = strings.Join(lines, "\n")
	case domain.ReplyTaskDetail:
		if r.Task != nil {
			tr := renderTask(0, *r.Task)
			out.Task = &tr
			out.Text = detailText(tr)
		} else {
			out.Text = r.Text
		}
	default:
		out.Type = string(domain.ReplyText)
		out.Text = r.Text
	}
	return out
}

func renderView(v domain.TaskView) taskResponse {
	if v.IsMasked || v.Task == nil {
		return taskResponse{Number: v.Index + 1, Masked: true}
	}
	return renderTask(v.Index+1, *v.Task)
}

func renderTask(number int, t domain.Task) taskResponse {
	tr := taskResponse{
		Number:      number,
		ID:          t.ID,
		Title:       t.Title,
		Description: t.Description,
		Category:    t.Category,
		Priority:    string(t.Priority),
		Status:      string(t.Status),
		Tips:        t.Tips,
		Custom:      t.SourceType == domain.SourceUserCreated,
	}
	if t.DueDate != nil {
		tr.DueDate = t.DueDate.Format(time.DateOnly)
	}
	return tr
}

func listLine(t taskResponse) string {
	if t.Masked {
		return fmt.Sprintf("%d. (locked)", t.Number)
	}
	line := fmt.Sprintf("%d. %s", t.Number, t.Title)
	if t.DueDate != "" {
		line += " (due " + t.DueDate + ")"
	}
	if t.Status == string(domain.TaskCompleted) {
		line += " [done]"
	}
	return line
}

func detailText(t taskResponse) string {
	parts := []string{t.Title}
	if t.Description != "" {
		parts = append(parts, t.Description)
	}
	if t.DueDate != "" {
		parts = append(parts, "Due: "+t.DueDate)
	}
	if t.Tips != "" {
		parts = append(parts, t.Tips)
	}
	return strings.Join(parts, "\n")
}

func withOptions(text string, options []string) string {
	if len(options) == 0 {
		return text
	}
	lines := []string{text}
	for i, o := range options {
		lines = append(lines, fmt.Sprintf("%d. %s", i+1, o))
	}
	return strings.Join(lines, "\n")
}
