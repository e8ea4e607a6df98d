package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"estate-assistant/internal/domain"
)

func taskSK(taskID string) string {
	return skPrefixTask + taskID
}

// ListTasks returns the owner's tasks ordered by OrderIndex.
func (c *Client) ListTasks(ctx context.Context, ownerID string) ([]domain.Task, error) {
	items, err := c.queryPrefix(ctx, ownerPK(ownerID), skPrefixTask, true, 0)
	if err != nil {
		return nil, fmt.Errorf("repository: ListTasks query: %w", err)
	}

	tasks := make([]domain.Task, 0, len(items))
	for _, item := range items {
		t, err := itemToTask(ownerID, item)
		if err != nil {
			return nil, fmt.Errorf("repository: ListTasks unmarshal: %w", err)
		}
		tasks = append(tasks, t)
	}
	sort.SliceStable(tasks, func(i, j int) bool { return tasks[i].OrderIndex < tasks[j].OrderIndex })
	return tasks, nil
}

// GetTask returns ErrNotFound when the task does not belong to the owner.
func (c *Client) GetTask(ctx context.Context, ownerID, taskID string) (domain.Task, error) {
	item, err := c.getItem(ctx, ownerPK(ownerID), taskSK(taskID))
	if err != nil {
		return domain.Task{}, fmt.Errorf("repository: GetTask: %w", err)
	}
	if item == nil {
		return domain.Task{}, ErrNotFound
	}
	t, err := itemToTask(ownerID, item)
	if err != nil {
		return domain.Task{}, fmt.Errorf("repository: GetTask decode: %w", err)
	}
	return t, nil
}

// SaveTasks writes tasks in batches.
func (c *Client) SaveTasks(ctx context.Context, tasks []domain.Task) error {
	reqs := make([]types.WriteRequest, 0, len(tasks))
	for _, t := range tasks {
		if t.OwnerID == "" || t.ID == "" {
			return errors.New("repository: SaveTasks: owner id and task id are required")
		}
		reqs = append(reqs, types.WriteRequest{PutRequest: &types.PutRequest{Item: taskItem(t)}})
	}
	if err := c.batchWrite(ctx, reqs); err != nil {
		return fmt.Errorf("repository: SaveTasks: %w", err)
	}
	return nil
}

// PutTask writes or replaces a single task.
func (c *Client) PutTask(ctx context.Context, t domain.Task) error {
	if t.OwnerID == "" || t.ID == "" {
		return errors.New("repository: PutTask: owner id and task id are required")
	}
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item:      taskItem(t),
	})
	if err != nil {
		return fmt.Errorf("repository: PutTask: %w", err)
	}
	return nil
}

// DeleteTasks removes the given tasks; missing ids are ignored.
func (c *Client) DeleteTasks(ctx context.Context, ownerID string, taskIDs []string) error {
	reqs := make([]types.WriteRequest, 0, len(taskIDs))
	for _, id := range taskIDs {
		reqs = append(reqs, types.WriteRequest{DeleteRequest: &types.DeleteRequest{Key: key(ownerPK(ownerID), taskSK(id))}})
	}
	if err := c.batchWrite(ctx, reqs); err != nil {
		return fmt.Errorf("repository: DeleteTasks: %w", err)
	}
	return nil
}

// PurgeTasks removes every task of the owner and returns how many were removed.
func (c *Client) PurgeTasks(ctx context.Context, ownerID string) (int, error) {
	items, err := c.queryPrefix(ctx, ownerPK(ownerID), skPrefixTask, true, 0)
	if err != nil {
		return 0, fmt.Errorf("repository: PurgeTasks query: %w", err)
	}

	reqs := make([]types.WriteRequest, 0, len(items))
	for _, item := range items {
		reqs = append(reqs, types.WriteRequest{DeleteRequest: &types.DeleteRequest{
			Key: map[string]types.AttributeValue{"PK": item["PK"], "SK": item["SK"]},
		}})
	}
	if err := c.batchWrite(ctx, reqs); err != nil {
		return 0, fmt.Errorf("repository: PurgeTasks: %w", err)
	}
	return len(reqs), nil
}

func taskItem(t domain.Task) map[string]types.AttributeValue {
	item := map[string]types.AttributeValue{
		"PK":          strVal(ownerPK(t.OwnerID)),
		"SK":          strVal(taskSK(t.ID)),
		"taskId":      strVal(t.ID),
		"title":       strVal(t.Title),
		"description": strVal(t.Description),
		"category":    strVal(t.Category),
		"priority":    strVal(string(t.Priority)),
		"status":      strVal(string(t.Status)),
		"orderIndex":  intVal(t.OrderIndex),
		"sourceType":  strVal(string(t.SourceType)),
		"createdAt":   timeVal(t.CreatedAt),
		"updatedAt":   timeVal(t.UpdatedAt),
	}
	putOptTime(item, "dueDate", t.DueDate)
	if t.GenerationStep != "" {
		item["generationStep"] = strVal(string(t.GenerationStep))
	}
	if t.Tips != "" {
		item["tips"] = strVal(t.Tips)
	}
	return item
}

func itemToTask(ownerID string, item map[string]types.AttributeValue) (domain.Task, error) {
	id, err := strAttr(item, "taskId")
	if err != nil {
		return domain.Task{}, err
	}
	title, err := strAttr(item, "title")
	if err != nil {
		return domain.Task{}, err
	}
	order, err := optIntAttr(item, "orderIndex")
	if err != nil {
		return domain.Task{}, err
	}
	due, err := optTimeAttr(item, "dueDate")
	if err != nil {
		return domain.Task{}, err
	}
	createdAt, err := timeAttr(item, "createdAt")
	if err != nil {
		return domain.Task{}, err
	}
	updatedAt, err := timeAttr(item, "updatedAt")
	if err != nil {
		return domain.Task{}, err
	}
	// Optional text attributes; absence means empty.
	description, _ := optStrAttr(item, "description")
	category, _ := optStrAttr(item, "category")
	priority, _ := optStrAttr(item, "priority")
	status, _ := optStrAttr(item, "status")
	source, _ := optStrAttr(item, "sourceType")
	stage, _ := optStrAttr(item, "generationStep")
	tips, _ := optStrAttr(item, "tips")

	return domain.Task{
		ID:             id,
		OwnerID:        ownerID,
		Title:          title,
		Description:    description,
		Category:       category,
		Priority:       domain.Priority(priority),
		DueDate:        due,
		Status:         domain.TaskStatus(status),
		OrderIndex:     order,
		GenerationStep: domain.Stage(stage),
		SourceType:     domain.SourceType(source),
		Tips:           tips,
		CreatedAt:      createdAt,
		UpdatedAt:      updatedAt,
	}, nil
}
