package domain

import "time"

// Profile is what the owner told us about the bereavement.
type Profile struct {
	OwnerID       string
	Relationship  string
	Region        string
	Municipality  string
	ReferenceDate *time.Time
}

// Complete reports whether every field needed by the basic stage is present.
func (p Profile) Complete() bool {
	return p.Relationship != "" && p.Region != "" && p.Municipality != "" && p.ReferenceDate != nil
}

// Location joins region and municipality for display and prompts.
func (p Profile) Location() string {
	switch {
	case p.Region == "":
		return p.Municipality
	case p.Municipality == "":
		return p.Region
	default:
		return p.Region + " " + p.Municipality
	}
}
