package matcher

import (
	"math"
	"strings"
	"time"

	"roulette/pkg/types"
)

// Weights are the additive scoring points
// FUNCTIONAL DISCOVERY: Defaults reproduce the production scoring table exactly;
// PriorityBonus of 0 disables priority weighting entirely
type Weights struct {
	GenderMatch    float64 `json:"gender_match" yaml:"gender_match"`
	AgeMatch       float64 `json:"age_match" yaml:"age_match"`
	SharedInterest float64 `json:"shared_interest" yaml:"shared_interest"`
	SameCountry    float64 `json:"same_country" yaml:"same_country"`
	SameCity       float64 `json:"same_city" yaml:"same_city"`
	WaitDivisorMs  float64 `json:"wait_divisor_ms" yaml:"wait_divisor_ms"`
	WaitBonusCap   float64 `json:"wait_bonus_cap" yaml:"wait_bonus_cap"`
	PriorityBonus  float64 `json:"priority_bonus" yaml:"priority_bonus"`
	Threshold      float64 `json:"threshold" yaml:"threshold"`
}

// DefaultWeights returns the standard scoring table
func DefaultWeights() Weights {
	return Weights{
		GenderMatch:    30,
		AgeMatch:       20,
		SharedInterest: 10,
		SameCountry:    15,
		SameCity:       10,
		WaitDivisorMs:  10000,
		WaitBonusCap:   20,
		PriorityBonus:  5,
		Threshold:      50,
	}
}

// Breakdown is a score split by component
type Breakdown struct {
	Gender    float64
	Age       float64
	Interests float64
	Location  float64
	Wait      float64
}

// Total sums all components
func (b Breakdown) Total() float64 {
	return b.Gender + b.Age + b.Interests + b.Location + b.Wait
}

// Breakdown scores the pair (a, b) at time now
func (m *Matcher) Breakdown(a, b types.QueueEntry, now time.Time) Breakdown {
	w := m.weights
	var out Breakdown

	if a.Filters.AcceptsGender(b.Profile.Gender) {
		out.Gender += w.GenderMatch
	}
	if b.Filters.AcceptsGender(a.Profile.Gender) {
		out.Gender += w.GenderMatch
	}

	if b.Filters.AcceptsAge(a.Profile.Age) {
		out.Age += w.AgeMatch
	}
	if a.Filters.AcceptsAge(b.Profile.Age) {
		out.Age += w.AgeMatch
	}

	out.Interests = float64(sharedInterests(a.Profile.Interests, b.Profile.Interests)) * w.SharedInterest

	// country and city are independent conditions
	if la, lb := a.Profile.Location, b.Profile.Location; la != nil && lb != nil {
		if sameField(la.Country, lb.Country) {
			out.Location += w.SameCountry
		}
		if sameField(la.City, lb.City) {
			out.Location += w.SameCity
		}
	}

	out.Wait = m.waitBonus(a, b, now)
	return out
}

// Score returns the total additive score of the pair (a, b) at time now
func (m *Matcher) Score(a, b types.QueueEntry, now time.Time) float64 {
	return m.Breakdown(a, b, now).Total()
}

// waitBonus is min(cap, avg elapsed ms / divisor + priority levels * PriorityBonus)
func (m *Matcher) waitBonus(a, b types.QueueEntry, now time.Time) float64 {
	w := m.weights
	if w.WaitDivisorMs <= 0 {
		return 0
	}

	avg := (elapsedMs(a.EnqueuedAt, now) + elapsedMs(b.EnqueuedAt, now)) / 2
	bonus := avg/w.WaitDivisorMs + float64(a.Priority+b.Priority)*w.PriorityBonus
	return math.Min(w.WaitBonusCap, bonus)
}

func elapsedMs(since, now time.Time) float64 {
	if since.IsZero() || now.Before(since) {
		return 0
	}
	return float64(now.Sub(since).Milliseconds())
}

// sharedInterests counts case-insensitive overlaps between two interest sets
func sharedInterests(a, b []string) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	set := make(map[string]struct{}, len(a))
	for _, interest := range a {
		set[strings.ToLower(strings.TrimSpace(interest))] = struct{}{}
	}

	count := 0
	seen := make(map[string]struct{}, len(b))
	for _, interest := range b {
		key := strings.ToLower(strings.TrimSpace(interest))
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		if _, ok := set[key]; ok {
			count++
		}
	}
	return count
}

// sameField compares location fields case-insensitively; empty never matches
func sameField(a, b string) bool {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	return a != "" && strings.EqualFold(a, b)
}
