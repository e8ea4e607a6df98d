package domain

import "time"

// FlowState names what happens with the next inbound message for an owner.
type FlowState string

const (
	FlowInitial                     FlowState = "INITIAL"
	FlowProfileCollection           FlowState = "PROFILE_COLLECTION"
	FlowBasicTasksGenerated         FlowState = "BASIC_TASKS_GENERATED"
	FlowAwaitingFollowUpAnswers     FlowState = "AWAITING_FOLLOW_UP_ANSWERS"
	FlowPersonalizedTasksGenerating FlowState = "PERSONALIZED_TASKS_GENERATING"
	FlowPersonalizedTasksGenerated  FlowState = "PERSONALIZED_TASKS_GENERATED"
	FlowEnhancedTasksGenerating     FlowState = "ENHANCED_TASKS_GENERATING"
	FlowCompleted                   FlowState = "COMPLETED"

	FlowEditingRelationship  FlowState = "EDITING_RELATIONSHIP"
	FlowEditingRegion        FlowState = "EDITING_REGION"
	FlowEditingMunicipality  FlowState = "EDITING_MUNICIPALITY"
	FlowEditingReferenceDate FlowState = "EDITING_REFERENCE_DATE"
)

// StateDataRegion carries the region chosen while editing the address.
const StateDataRegion = "region"

var knownFlowStates = map[FlowState]struct{}{
	FlowInitial:                     {},
	FlowProfileCollection:           {},
	FlowBasicTasksGenerated:         {},
	FlowAwaitingFollowUpAnswers:     {},
	FlowPersonalizedTasksGenerating: {},
	FlowPersonalizedTasksGenerated:  {},
	FlowEnhancedTasksGenerating:     {},
	FlowCompleted:                   {},
	FlowEditingRelationship:         {},
	FlowEditingRegion:               {},
	FlowEditingMunicipality:         {},
	FlowEditingReferenceDate:        {},
}

// Valid reports whether s is one of the declared flow states.
func (s FlowState) Valid() bool {
	_, ok := knownFlowStates[s]
	return ok
}

// Editing reports whether s is one of the profile-editing states.
func (s FlowState) Editing() bool {
	switch s {
	case FlowEditingRelationship, FlowEditingRegion, FlowEditingMunicipality, FlowEditingReferenceDate:
		return true
	default:
		return false
	}
}

// ConversationState is the single current flow state stored per owner.
type ConversationState struct {
	OwnerID   string
	Name      FlowState
	Data      map[string]string
	ExpiresAt time.Time
	UpdatedAt time.Time
}

// Expired reports whether the state is no longer authoritative at now.
func (s ConversationState) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}
