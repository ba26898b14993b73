package reputation

import (
	"errors"
	"strings"
)

// Trigger names an application event that earns reputation
type Trigger string

const (
	TriggerServiceApproved   Trigger = "service_approved"
	TriggerReviewReceived    Trigger = "review_received"
	TriggerEventParticipated Trigger = "event_participated"
	TriggerEventWon          Trigger = "event_won"
)

// ErrUnknownTrigger rejects awards for triggers without a rule
var ErrUnknownTrigger = errors.New("unknown award trigger")

// Rule is what a trigger is worth
type Rule struct {
	Points    int64
	MinRating int    // 0: no rating required
	RefKey    string // metadata key the referenced entity id is stored under
}

var rules = map[Trigger]Rule{
	TriggerServiceApproved:   {Points: 10, RefKey: "service_id"},
	TriggerReviewReceived:    {Points: 5, MinRating: 4, RefKey: "service_id"},
	TriggerEventParticipated: {Points: 20, RefKey: "event_id"},
	TriggerEventWon:          {Points: 100, RefKey: "event_id"},
}

// RuleFor returns the rule of a trigger
func RuleFor(t Trigger) (Rule, bool) {
	r, ok := rules[Trigger(strings.ToLower(string(t)))]
	return r, ok
}

// Tier is the badge level derived from a score
type Tier string

const (
	TierNewcomer Tier = "Newcomer"
	TierTrusted  Tier = "Trusted"
	TierExpert   Tier = "Expert"
	TierLegend   Tier = "Legend"
)

// TierFor maps a score to its tier
func TierFor(points int64) Tier {
	switch {
	case points >= 1000:
		return TierLegend
	case points >= 500:
		return TierExpert
	case points >= 100:
		return TierTrusted
	default:
		return TierNewcomer
	}
}

// Award is one application event to record on a user's chain
type Award struct {
	Trigger Trigger `json:"trigger"`
	UserID  string  `json:"user_id"`
	RefID   string  `json:"ref_id"`
	Rating  int     `json:"rating,omitempty"`
}

func (a Award) metadata(r Rule) map[string]interface{} {
	meta := map[string]interface{}{}
	if a.RefID != "" && r.RefKey != "" {
		meta[r.RefKey] = a.RefID
	}
	if r.MinRating > 0 {
		meta["rating"] = a.Rating
	}
	return meta
}
