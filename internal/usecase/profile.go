package usecase

import (
	"context"
	"strings"
	"time"

	"estate-assistant/internal/domain"
)

var relationshipOptions = []string{"spouse", "child", "parent", "sibling", "other"}

const (
	askRelationship  = "What was your relationship to the deceased?"
	askRegion        = "Which prefecture or state did the deceased live in?"
	askMunicipality  = "Which city, town or village?"
	askReferenceDate = "On what date did they pass away? Please answer as YYYY-MM-DD."
)

func (a *Assistant) welcome(ctx context.Context, s session) (domain.Reply, error) {
	profile, err := a.profile(ctx, s.ownerID)
	if err != nil {
		return domain.Reply{}, err
	}
	if profile.Complete() {
		return domain.TextReply("Welcome back. " + helpMessage), nil
	}
	reply, err := a.startProfile(ctx, s, profile)
	if err != nil {
		return domain.Reply{}, err
	}
	reply.Text = "We are sorry for your loss. We will help you work through the procedures step by step.\n\n" + reply.Text
	return reply, nil
}

// startProfile enters PROFILE_COLLECTION and asks for the first missing field.
func (a *Assistant) startProfile(ctx context.Context, s session, profile domain.Profile) (domain.Reply, error) {
	if err := a.flow.SetState(ctx, s.ownerID, domain.FlowProfileCollection, nil, 0); err != nil {
		return domain.Reply{}, err
	}
	return profilePrompt(profile), nil
}

// collectProfile fills the next missing profile field with text.
func (a *Assistant) collectProfile(ctx context.Context, s session, text string) (domain.Reply, error) {
	profile, err := a.profile(ctx, s.ownerID)
	if err != nil {
		return domain.Reply{}, err
	}
	switch {
	case profile.Relationship == "":
		profile.Relationship = text
	case profile.Region == "":
		profile.Region = text
	case profile.Municipality == "":
		profile.Municipality = text
	case profile.ReferenceDate == nil:
		date, ok := parseReferenceDate(text, a.now())
		if !ok {
			return domain.TextReply("Please enter the date as YYYY-MM-DD, for example 2024-04-01."), nil
		}
		profile.ReferenceDate = &date
	}
	if err := a.users.PutProfile(ctx, profile); err != nil {
		return domain.Reply{}, newError(ErrorStore, "profile_write_error", err)
	}
	if !profile.Complete() {
		return profilePrompt(profile), nil
	}

	started, err := a.orch.TriggerBasic(ctx, s.ownerID, s.channelID)
	if err != nil {
		return domain.Reply{}, err
	}
	if !started {
		return domain.TextReply(generatingMessage), nil
	}
	return domain.TextReply("Thank you. We are preparing your checklist and will message you when it is ready."), nil
}

func profilePrompt(profile domain.Profile) domain.Reply {
	switch {
	case profile.Relationship == "":
		return domain.Reply{Kind: domain.ReplyQuestion, Text: askRelationship, Options: relationshipOptions}
	case profile.Region == "":
		return domain.TextReply(askRegion)
	case profile.Municipality == "":
		return domain.TextReply(askMunicipality)
	default:
		return domain.Reply{Kind: domain.ReplyQuestion, Text: askReferenceDate, Actions: []string{domain.ActionSetReferenceDate}}
	}
}

func (a *Assistant) startEdit(ctx context.Context, s session, state domain.FlowState) (domain.Reply, error) {
	if err := a.flow.SetState(ctx, s.ownerID, state, nil, 0); err != nil {
		return domain.Reply{}, err
	}
	switch state {
	case domain.FlowEditingRelationship:
		return domain.Reply{Kind: domain.ReplyQuestion, Text: askRelationship, Options: relationshipOptions}, nil
	case domain.FlowEditingRegion:
		return domain.TextReply(askRegion), nil
	default:
		return domain.Reply{Kind: domain.ReplyQuestion, Text: askReferenceDate, Actions: []string{domain.ActionSetReferenceDate}}, nil
	}
}

// applyEdit updates one profile field according to the editing state.
func (a *Assistant) applyEdit(ctx context.Context, s session, st domain.ConversationState, text string) (domain.Reply, error) {
	if st.Name == domain.FlowEditingRegion {
		data := map[string]string{domain.StateDataRegion: text}
		if err := a.flow.SetState(ctx, s.ownerID, domain.FlowEditingMunicipality, data, 0); err != nil {
			return domain.Reply{}, err
		}
		return domain.TextReply(askMunicipality), nil
	}

	profile, err := a.profile(ctx, s.ownerID)
	if err != nil {
		return domain.Reply{}, err
	}
	offerRegenerate := true
	switch st.Name {
	case domain.FlowEditingRelationship:
		profile.Relationship = text
		offerRegenerate = false
	case domain.FlowEditingMunicipality:
		region := strings.TrimSpace(st.Data[domain.StateDataRegion])
		if region == "" {
			return a.startEdit(ctx, s, domain.FlowEditingRegion)
		}
		profile.Region = region
		profile.Municipality = text
	case domain.FlowEditingReferenceDate:
		date, ok := parseReferenceDate(text, a.now())
		if !ok {
			return domain.TextReply("Please enter the date as YYYY-MM-DD, for example 2024-04-01."), nil
		}
		profile.ReferenceDate = &date
	}
	if err := a.users.PutProfile(ctx, profile); err != nil {
		return domain.Reply{}, newError(ErrorStore, "profile_write_error", err)
	}
	if err := a.flow.ClearState(ctx, s.ownerID, st.Name); err != nil {
		return domain.Reply{}, err
	}
	if !offerRegenerate {
		return domain.TextReply("Your details were updated."), nil
	}
	return domain.Reply{
		Kind:    domain.ReplyConfirm,
		Text:    "Your details were updated. Rebuild your checklist to reflect the change?",
		Actions: []string{domain.ActionRegenerateTasks},
	}, nil
}

// parseReferenceDate accepts YYYY-MM-DD or YYYY/MM/DD not later than today.
func parseReferenceDate(s string, now time.Time) (time.Time, bool) {
	s = normalizeInput(s)
	for _, layout := range []string{"2006-01-02", "2006/01/02"} {
		t, err := time.Parse(layout, s)
		if err != nil {
			continue
		}
		if t.After(now) {
			return time.Time{}, false
		}
		return t, true
	}
	return time.Time{}, false
}
