package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"estate-assistant/internal/domain"
)

const maxCustomTitle = 100

// command handles text commands; ok is false when text is not a command.
func (a *Assistant) command(ctx context.Context, s session, text string) (domain.Reply, bool, error) {
	lower := strings.ToLower(text)
	switch lower {
	case "tasks", "task list", "タスク", "タスク一覧":
		reply, err := a.listTasks(ctx, s, false)
		return reply, true, err
	case "all tasks", "全タスク":
		reply, err := a.listTasks(ctx, s, true)
		return reply, true, err
	case "regenerate", "再生成":
		reply, err := a.regenerate(ctx, s)
		return reply, true, err
	}
	for _, prefix := range []string{"complete ", "done ", "完了 ", "完了"} {
		if rest, found := strings.CutPrefix(lower, prefix); found {
			n, ok := parseIndex(rest)
			if !ok {
				return domain.TextReply("Send \"complete\" followed by the task number, for example \"complete 1\"."), true, nil
			}
			reply, err := a.completeByNumber(ctx, s, n)
			return reply, true, err
		}
	}
	return domain.Reply{}, false, nil
}

// displayOrder sorts tasks by due date, undated last, then by order index.
func displayOrder(tasks []domain.Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		di, dj := tasks[i].DueDate, tasks[j].DueDate
		switch {
		case di != nil && dj != nil && !di.Equal(*dj):
			return di.Before(*dj)
		case di != nil && dj == nil:
			return true
		case di == nil && dj != nil:
			return false
		}
		return tasks[i].OrderIndex < tasks[j].OrderIndex
	})
}

// pendingTasks is the numbered list users address by position.
func (a *Assistant) pendingTasks(ctx context.Context, ownerID string) ([]domain.Task, error) {
	all, err := a.tasks.ListTasks(ctx, ownerID)
	if err != nil {
		return nil, newError(ErrorStore, "task_read_error", err)
	}
	out := make([]domain.Task, 0, len(all))
	for _, t := range all {
		if t.Status != domain.TaskCompleted {
			out = append(out, t)
		}
	}
	displayOrder(out)
	return out, nil
}

func (a *Assistant) listTasks(ctx context.Context, s session, includeCompleted bool) (domain.Reply, error) {
	var (
		tasks []domain.Task
		err   error
	)
	if includeCompleted {
		tasks, err = a.tasks.ListTasks(ctx, s.ownerID)
		if err != nil {
			return domain.Reply{}, newError(ErrorStore, "task_read_error", err)
		}
		displayOrder(tasks)
	} else {
		tasks, err = a.pendingTasks(ctx, s.ownerID)
		if err != nil {
			return domain.Reply{}, err
		}
	}
	if len(tasks) == 0 {
		return domain.TextReply("You have no open tasks."), nil
	}
	views := a.gate.FilterTasks(ctx, s.ownerID, tasks)
	text := fmt.Sprintf("You have %d tasks.", len(tasks))
	for _, v := range views {
		if v.IsMasked {
			text += "\n" + a.gate.UpgradeMessage()
			break
		}
	}
	return domain.Reply{Kind: domain.ReplyTaskList, Text: text, Tasks: views}, nil
}

// viewTask shows the task at a 0-based position of the pending list.
func (a *Assistant) viewTask(ctx context.Context, s session, rawIndex string) (domain.Reply, error) {
	index, err := strconv.Atoi(normalizeInput(rawIndex))
	if err != nil || index < 0 {
		return domain.TextReply("That task could not be found."), nil
	}
	if !a.gate.CanAccessDetail(ctx, s.ownerID, index) {
		return domain.Reply{Kind: domain.ReplyUpgrade, Text: a.gate.UpgradeMessage()}, nil
	}
	tasks, err := a.pendingTasks(ctx, s.ownerID)
	if err != nil {
		return domain.Reply{}, err
	}
	if index >= len(tasks) {
		return domain.TextReply("That task could not be found."), nil
	}
	t := tasks[index]
	actions := []string{domain.ActionCompleteTask}
	if a.gate.CanMutate(ctx, s.ownerID, t) {
		actions = append(actions, domain.ActionDeleteTask)
	}
	return domain.Reply{Kind: domain.ReplyTaskDetail, Text: t.Title, Task: &t, Actions: actions}, nil
}

func (a *Assistant) completeByNumber(ctx context.Context, s session, n int) (domain.Reply, error) {
	tasks, err := a.pendingTasks(ctx, s.ownerID)
	if err != nil {
		return domain.Reply{}, err
	}
	if n > len(tasks) {
		return domain.TextReply(fmt.Sprintf("There is no task number %d.", n)), nil
	}
	if !a.gate.CanAccessDetail(ctx, s.ownerID, n-1) {
		return domain.Reply{Kind: domain.ReplyUpgrade, Text: a.gate.UpgradeMessage()}, nil
	}
	return a.markCompleted(ctx, tasks[n-1])
}

func (a *Assistant) completeTask(ctx context.Context, s session, taskID string) (domain.Reply, error) {
	task, ok, err := a.ownedTask(ctx, s.ownerID, taskID)
	if err != nil {
		return domain.Reply{}, err
	}
	if !ok {
		return notFoundReply(), nil
	}
	if task.Status == domain.TaskCompleted {
		return domain.TextReply("\"" + task.Title + "\" is already completed."), nil
	}
	pending, err := a.pendingTasks(ctx, s.ownerID)
	if err != nil {
		return domain.Reply{}, err
	}
	for i, t := range pending {
		if t.ID == task.ID && !a.gate.CanAccessDetail(ctx, s.ownerID, i) {
			return domain.Reply{Kind: domain.ReplyUpgrade, Text: a.gate.UpgradeMessage()}, nil
		}
	}
	return a.markCompleted(ctx, task)
}

func (a *Assistant) markCompleted(ctx context.Context, task domain.Task) (domain.Reply, error) {
	task.Status = domain.TaskCompleted
	task.UpdatedAt = a.now()
	if err := a.tasks.PutTask(ctx, task); err != nil {
		return domain.Reply{}, newError(ErrorStore, "task_write_error", err)
	}
	return domain.TextReply("Marked \"" + task.Title + "\" as completed."), nil
}

func (a *Assistant) addTask(ctx context.Context, s session, params map[string]string) (domain.Reply, error) {
	if !a.gate.CanAddCustomTask(ctx, s.ownerID) {
		return domain.Reply{Kind: domain.ReplyUpgrade, Text: a.gate.UpgradeMessage()}, nil
	}
	title := normalizeInput(params["title"])
	if title == "" || len([]rune(title)) > maxCustomTitle {
		return domain.TextReply(fmt.Sprintf("Please give the task a title of up to %d characters.", maxCustomTitle)), nil
	}
	description := strings.TrimSpace(params["description"])
	if a.moderator != nil {
		flagged, err := a.moderator.Flagged(ctx, title+"\n"+description)
		if err != nil {
			return domain.Reply{}, err
		}
		if flagged {
			return domain.TextReply("That task cannot be added."), nil
		}
	}
	existing, err := a.tasks.ListTasks(ctx, s.ownerID)
	if err != nil {
		return domain.Reply{}, newError(ErrorStore, "task_read_error", err)
	}
	now := a.now()
	task := domain.Task{
		ID:          newUUID(),
		OwnerID:     s.ownerID,
		Title:       title,
		Description: description,
		Category:    "custom",
		Priority:    domain.PriorityMedium,
		Status:      domain.TaskPending,
		OrderIndex:  nextOrderIndex(existing),
		SourceType:  domain.SourceUserCreated,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if due, ok := parseReferenceDate(params["due_date"], now.AddDate(10, 0, 0)); ok {
		task.DueDate = &due
	}
	if err := a.tasks.PutTask(ctx, task); err != nil {
		return domain.Reply{}, newError(ErrorStore, "task_write_error", err)
	}
	return domain.TextReply("Added \"" + task.Title + "\" to your checklist."), nil
}

func (a *Assistant) deleteTask(ctx context.Context, s session, taskID string) (domain.Reply, error) {
	task, ok, err := a.ownedTask(ctx, s.ownerID, taskID)
	if err != nil {
		return domain.Reply{}, err
	}
	if !ok {
		return notFoundReply(), nil
	}
	if !a.gate.CanMutate(ctx, s.ownerID, task) {
		if task.SourceType != domain.SourceUserCreated {
			return domain.TextReply("Suggested tasks cannot be deleted, only completed."), nil
		}
		return domain.Reply{Kind: domain.ReplyUpgrade, Text: a.gate.UpgradeMessage()}, nil
	}
	if err := a.tasks.DeleteTasks(ctx, s.ownerID, []string{task.ID}); err != nil {
		return domain.Reply{}, newError(ErrorStore, "task_delete_error", err)
	}
	return domain.TextReply("Deleted \"" + task.Title + "\"."), nil
}

// ownedTask looks a task up under the owner's key only.
func (a *Assistant) ownedTask(ctx context.Context, ownerID, taskID string) (domain.Task, bool, error) {
	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		return domain.Task{}, false, nil
	}
	task, err := a.tasks.GetTask(ctx, ownerID, taskID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Task{}, false, nil
	}
	if err != nil {
		return domain.Task{}, false, newError(ErrorStore, "task_read_error", err)
	}
	return task, true, nil
}

func notFoundReply() domain.Reply {
	return domain.TextReply("That task could not be found.")
}
