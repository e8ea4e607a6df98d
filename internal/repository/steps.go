package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"estate-assistant/internal/domain"
	"estate-assistant/internal/usecase"
)

const startStepCondition = "attribute_not_exists(PK) OR (#status <> :completed AND (#status <> :in_progress OR startedAt < :stale))"

func stepSK(stage domain.Stage) string {
	return skPrefixStep + string(stage)
}

func stepLogPrefix(stage domain.Stage) string {
	return skPrefixLog + string(stage) + "#"
}

// GetStep returns the current record for one stage.
func (c *Client) GetStep(ctx context.Context, ownerID string, stage domain.Stage) (domain.GenerationStep, bool, error) {
	item, err := c.getItem(ctx, ownerPK(ownerID), stepSK(stage))
	if err != nil {
		return domain.GenerationStep{}, false, fmt.Errorf("repository: GetStep: %w", err)
	}
	if item == nil {
		return domain.GenerationStep{}, false, nil
	}
	step, err := itemToStep(ownerID, stage, item)
	if err != nil {
		return domain.GenerationStep{}, false, fmt.Errorf("repository: GetStep decode: %w", err)
	}
	return step, true, nil
}

// PutStep replaces the step record.
func (c *Client) PutStep(ctx context.Context, step domain.GenerationStep) error {
	if step.OwnerID == "" || !step.Stage.Valid() {
		return fmt.Errorf("repository: PutStep: owner id and valid stage are required")
	}
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item:      stepItem(step),
	})
	if err != nil {
		return fmt.Errorf("repository: PutStep: %w", err)
	}
	return nil
}

// TryStartStep moves the step to in_progress with a conditional write. When a
// prerequisite stage is named, its completion is checked in the same
// transaction so the start never races a reset of the earlier stage.
func (c *Client) TryStartStep(ctx context.Context, req usecase.StepStartRequest) (domain.GenerationStep, bool, error) {
	update := &types.Update{
		TableName: aws.String(c.tableName),
		Key:       key(ownerPK(req.OwnerID), stepSK(req.Stage)),
		UpdateExpression: aws.String("SET #status = :in_progress, attempt = if_not_exists(attempt, :zero) + :one, " +
			"jobId = :job, startedAt = :now, updatedAt = :now REMOVE claimedAt, completedAt, errorMessage, metadata"),
		ConditionExpression:      aws.String(startStepCondition),
		ExpressionAttributeNames: map[string]string{"#status": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":in_progress": strVal(string(domain.StepInProgress)),
			":completed":   strVal(string(domain.StepCompleted)),
			":stale":       timeVal(req.StaleBefore),
			":zero":        intVal(0),
			":one":         intVal(1),
			":job":         strVal(req.JobID),
			":now":         timeVal(req.Now),
		},
	}

	var err error
	if req.Requires == "" {
		_, err = c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName:                 update.TableName,
			Key:                       update.Key,
			UpdateExpression:          update.UpdateExpression,
			ConditionExpression:       update.ConditionExpression,
			ExpressionAttributeNames:  update.ExpressionAttributeNames,
			ExpressionAttributeValues: update.ExpressionAttributeValues,
		})
	} else {
		_, err = c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
			TransactItems: []types.TransactWriteItem{
				{
					ConditionCheck: &types.ConditionCheck{
						TableName:                aws.String(c.tableName),
						Key:                      key(ownerPK(req.OwnerID), stepSK(req.Requires)),
						ConditionExpression:      aws.String("#status = :completed"),
						ExpressionAttributeNames: map[string]string{"#status": "status"},
						ExpressionAttributeValues: map[string]types.AttributeValue{
							":completed": strVal(string(domain.StepCompleted)),
						},
					},
				},
				{Update: update},
			},
		})
	}
	started := err == nil
	if err != nil && !isConditionFailed(err) {
		return domain.GenerationStep{}, false, fmt.Errorf("repository: TryStartStep: %w", err)
	}

	step, _, err := c.GetStep(ctx, req.OwnerID, req.Stage)
	if err != nil {
		return domain.GenerationStep{}, started, fmt.Errorf("repository: TryStartStep: %w", err)
	}
	return step, started, nil
}

// ClaimStep records that jobID picked up the in-progress step. A claim older
// than staleBefore may be taken over by a redelivery of the same job.
func (c *Client) ClaimStep(ctx context.Context, ownerID string, stage domain.Stage, jobID string, now, staleBefore time.Time) (bool, error) {
	_, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(c.tableName),
		Key:              key(ownerPK(ownerID), stepSK(stage)),
		UpdateExpression: aws.String("SET claimedAt = :now, updatedAt = :now"),
		ConditionExpression: aws.String("#status = :in_progress AND jobId = :job AND " +
			"(attribute_not_exists(claimedAt) OR claimedAt < :stale)"),
		ExpressionAttributeNames: map[string]string{"#status": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":in_progress": strVal(string(domain.StepInProgress)),
			":job":         strVal(jobID),
			":stale":       timeVal(staleBefore),
			":now":         timeVal(now),
		},
	})
	if err != nil {
		if isConditionFailed(err) {
			return false, nil
		}
		return false, fmt.Errorf("repository: ClaimStep: %w", err)
	}
	return true, nil
}

// FinishStep ends the attempt of req.JobID. The write is fenced on the job id
// so a superseded job cannot overwrite a reset step.
func (c *Client) FinishStep(ctx context.Context, req usecase.StepFinishRequest) (domain.GenerationStep, bool, error) {
	if !req.Status.Terminal() {
		return domain.GenerationStep{}, false, fmt.Errorf("repository: FinishStep: status %q is not terminal", req.Status)
	}
	expr := "SET #status = :status, completedAt = :now, updatedAt = :now"
	values := map[string]types.AttributeValue{
		":status":      strVal(string(req.Status)),
		":in_progress": strVal(string(domain.StepInProgress)),
		":job":         strVal(req.JobID),
		":now":         timeVal(req.Now),
	}
	if len(req.Metadata) > 0 {
		expr += ", metadata = :meta"
		values[":meta"] = stringMapVal(req.Metadata)
	}
	if req.ErrorMessage != "" {
		expr += ", errorMessage = :err"
		values[":err"] = strVal(req.ErrorMessage)
	}

	out, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(c.tableName),
		Key:                       key(ownerPK(req.OwnerID), stepSK(req.Stage)),
		UpdateExpression:          aws.String(expr),
		ConditionExpression:       aws.String("#status = :in_progress AND jobId = :job"),
		ExpressionAttributeNames:  map[string]string{"#status": "status"},
		ExpressionAttributeValues: values,
		ReturnValues:              types.ReturnValueAllNew,
	})
	if err != nil {
		if isConditionFailed(err) {
			return domain.GenerationStep{}, false, nil
		}
		return domain.GenerationStep{}, false, fmt.Errorf("repository: FinishStep: %w", err)
	}
	if out == nil || len(out.Attributes) == 0 {
		return domain.GenerationStep{}, false, fmt.Errorf("repository: FinishStep: no attributes returned")
	}
	step, err := itemToStep(req.OwnerID, req.Stage, out.Attributes)
	if err != nil {
		return domain.GenerationStep{}, false, fmt.Errorf("repository: FinishStep decode: %w", err)
	}
	return step, true, nil
}

// ResetStep starts a new attempt with the given status regardless of the current one.
func (c *Client) ResetStep(ctx context.Context, ownerID string, stage domain.Stage, status domain.StepStatus, jobID string, now time.Time) (domain.GenerationStep, error) {
	expr := "SET #status = :status, attempt = if_not_exists(attempt, :zero) + :one, jobId = :job, updatedAt = :now"
	remove := " REMOVE claimedAt, completedAt, errorMessage, metadata"
	if status == domain.StepInProgress {
		expr += ", startedAt = :now"
	} else {
		remove += ", startedAt"
	}

	out, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                aws.String(c.tableName),
		Key:                      key(ownerPK(ownerID), stepSK(stage)),
		UpdateExpression:         aws.String(expr + remove),
		ExpressionAttributeNames: map[string]string{"#status": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":status": strVal(string(status)),
			":zero":   intVal(0),
			":one":    intVal(1),
			":job":    strVal(jobID),
			":now":    timeVal(now),
		},
		ReturnValues: types.ReturnValueAllNew,
	})
	if err != nil {
		return domain.GenerationStep{}, fmt.Errorf("repository: ResetStep: %w", err)
	}
	if out == nil || len(out.Attributes) == 0 {
		return domain.GenerationStep{}, fmt.Errorf("repository: ResetStep: no attributes returned")
	}
	step, err := itemToStep(ownerID, stage, out.Attributes)
	if err != nil {
		return domain.GenerationStep{}, fmt.Errorf("repository: ResetStep decode: %w", err)
	}
	return step, nil
}

// AppendStepEvent writes one audit entry for a step transition.
func (c *Client) AppendStepEvent(ctx context.Context, ev domain.StepEvent) error {
	item := map[string]types.AttributeValue{
		"PK":      strVal(ownerPK(ev.OwnerID)),
		"SK":      strVal(stepLogPrefix(ev.Stage) + ev.At.UTC().Format(timeLayout)),
		"stage":   strVal(string(ev.Stage)),
		"status":  strVal(string(ev.Status)),
		"attempt": intVal(ev.Attempt),
		"at":      timeVal(ev.At),
	}
	if ev.JobID != "" {
		item["jobId"] = strVal(ev.JobID)
	}
	if ev.ErrorMessage != "" {
		item["errorMessage"] = strVal(ev.ErrorMessage)
	}

	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("repository: AppendStepEvent: %w", err)
	}
	return nil
}

// ListStepEvents returns the most recent audit entries for a stage, newest first.
func (c *Client) ListStepEvents(ctx context.Context, ownerID string, stage domain.Stage, limit int) ([]domain.StepEvent, error) {
	items, err := c.queryPrefix(ctx, ownerPK(ownerID), stepLogPrefix(stage), false, limit)
	if err != nil {
		return nil, fmt.Errorf("repository: ListStepEvents query: %w", err)
	}

	events := make([]domain.StepEvent, 0, len(items))
	for _, item := range items {
		ev, err := itemToStepEvent(ownerID, stage, item)
		if err != nil {
			return nil, fmt.Errorf("repository: ListStepEvents unmarshal: %w", err)
		}
		events = append(events, ev)
	}
	return events, nil
}

func stepItem(step domain.GenerationStep) map[string]types.AttributeValue {
	item := map[string]types.AttributeValue{
		"PK":        strVal(ownerPK(step.OwnerID)),
		"SK":        strVal(stepSK(step.Stage)),
		"stage":     strVal(string(step.Stage)),
		"status":    strVal(string(step.Status)),
		"attempt":   intVal(step.Attempt),
		"updatedAt": timeVal(step.UpdatedAt),
	}
	if step.JobID != "" {
		item["jobId"] = strVal(step.JobID)
	}
	putOptTime(item, "claimedAt", step.ClaimedAt)
	putOptTime(item, "startedAt", step.StartedAt)
	putOptTime(item, "completedAt", step.CompletedAt)
	if len(step.Metadata) > 0 {
		item["metadata"] = stringMapVal(step.Metadata)
	}
	if step.ErrorMessage != "" {
		item["errorMessage"] = strVal(step.ErrorMessage)
	}
	return item
}

func itemToStep(ownerID string, stage domain.Stage, item map[string]types.AttributeValue) (domain.GenerationStep, error) {
	status, err := strAttr(item, "status")
	if err != nil {
		return domain.GenerationStep{}, err
	}
	attempt, err := optIntAttr(item, "attempt")
	if err != nil {
		return domain.GenerationStep{}, err
	}
	jobID, _ := optStrAttr(item, "jobId")
	errMsg, _ := optStrAttr(item, "errorMessage")

	step := domain.GenerationStep{
		OwnerID:      ownerID,
		Stage:        stage,
		Status:       domain.StepStatus(status),
		Attempt:      attempt,
		JobID:        jobID,
		Metadata:     stringMapAttr(item, "metadata"),
		ErrorMessage: errMsg,
	}
	for _, f := range []struct {
		key string
		dst **time.Time
	}{
		{"claimedAt", &step.ClaimedAt},
		{"startedAt", &step.StartedAt},
		{"completedAt", &step.CompletedAt},
	} {
		t, err := optTimeAttr(item, f.key)
		if err != nil {
			return domain.GenerationStep{}, err
		}
		*f.dst = t
	}
	if step.UpdatedAt, err = timeAttr(item, "updatedAt"); err != nil {
		return domain.GenerationStep{}, err
	}
	return step, nil
}

func itemToStepEvent(ownerID string, stage domain.Stage, item map[string]types.AttributeValue) (domain.StepEvent, error) {
	status, err := strAttr(item, "status")
	if err != nil {
		return domain.StepEvent{}, err
	}
	attempt, err := optIntAttr(item, "attempt")
	if err != nil {
		return domain.StepEvent{}, err
	}
	at, err := timeAttr(item, "at")
	if err != nil {
		return domain.StepEvent{}, err
	}
	jobID, _ := optStrAttr(item, "jobId")
	errMsg, _ := optStrAttr(item, "errorMessage")
	return domain.StepEvent{
		OwnerID:      ownerID,
		Stage:        stage,
		Status:       domain.StepStatus(status),
		Attempt:      attempt,
		JobID:        jobID,
		ErrorMessage: errMsg,
		At:           at,
	}, nil
}
