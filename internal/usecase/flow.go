package usecase

import (
	"context"
	"errors"
	"time"

	"estate-assistant/internal/domain"
	"estate-assistant/internal/observability"
)

const defaultFlowTTL = 24 * time.Hour

// FlowManager owns the per-owner conversation state.
type FlowManager struct {
	store      StateStore
	defaultTTL time.Duration
	now        func() time.Time
}

func NewFlowManager(store StateStore, defaultTTL time.Duration) (*FlowManager, error) {
	if store == nil {
		return nil, errors.New("usecase: state store must not be nil")
	}
	if defaultTTL <= 0 {
		defaultTTL = defaultFlowTTL
	}
	return &FlowManager{store: store, defaultTTL: defaultTTL, now: time.Now}, nil
}

// CurrentState returns the owner's live state, or INITIAL when there is none,
// it has expired or the store cannot be read.
func (f *FlowManager) CurrentState(ctx context.Context, ownerID string) domain.FlowState {
	return f.State(ctx, ownerID).Name
}

// State is CurrentState with the stored payload.
func (f *FlowManager) State(ctx context.Context, ownerID string) domain.ConversationState {
	ctx = withOwnerLogger(ctx, ownerID)
	initial := domain.ConversationState{OwnerID: ownerID, Name: domain.FlowInitial}
	st, ok, err := f.store.GetFlowState(ctx, ownerID)
	if err != nil {
		observability.LoggerFromContext(ctx).Warn("flow state read failed, using initial state", "err", err)
		return initial
	}
	if !ok || st.Expired(f.now()) || !st.Name.Valid() {
		return initial
	}
	return st
}

// SetState overwrites the owner's state. A ttl <= 0 uses the default.
func (f *FlowManager) SetState(ctx context.Context, ownerID string, name domain.FlowState, data map[string]string, ttl time.Duration) error {
	if !name.Valid() {
		return newError(ErrorInvalidInput, "unknown_flow_state", nil)
	}
	if ttl <= 0 {
		ttl = f.defaultTTL
	}
	ctx = withOwnerLogger(ctx, ownerID)
	now := f.now()
	err := f.store.PutFlowState(ctx, domain.ConversationState{
		OwnerID:   ownerID,
		Name:      name,
		Data:      data,
		ExpiresAt: now.Add(ttl),
		UpdatedAt: now,
	})
	if err != nil {
		return newError(ErrorStore, "flow_state_write_error", err)
	}
	observability.LoggerFromContext(ctx).Info("flow state set", "state", name)
	return nil
}

// ClearState removes the owner's state. With a name, only that state is removed.
func (f *FlowManager) ClearState(ctx context.Context, ownerID string, name ...domain.FlowState) error {
	var target domain.FlowState
	if len(name) > 0 {
		target = name[0]
	}
	if err := f.store.DeleteFlowState(ctx, ownerID, target); err != nil {
		return newError(ErrorStore, "flow_state_delete_error", err)
	}
	return nil
}
