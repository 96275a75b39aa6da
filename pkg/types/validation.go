package types

import (
	"bytes"
	"encoding/json"
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Field limits
const (
	MaxNameLength     = 50
	MinAge            = 18
	MaxAge            = 100
	MaxBioLength      = 200
	MaxInterests      = 20
	MaxInterestLength = 50
	MaxLocationLength = 100
	MaxDetailsLength  = 500
	MaxChatLength     = 500
	MaxQualityLength  = 32
)

// FUNCTIONAL DISCOVERY: Regex compiled once at package initialization
// for better performance in high-frequency validation scenarios
var clientIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// Validate normalizes and checks a profile
// FUNCTIONAL DISCOVERY: Trimming and interest de-duplication happen here so the
// matcher can compare fields without re-normalizing on every scoring pass
func (p *ClientProfile) Validate() error {
	p.Name = strings.TrimSpace(p.Name)
	if n := utf8.RuneCountInString(p.Name); n < 1 || n > MaxNameLength {
		return ErrInvalidName
	}

	if p.Age < MinAge || p.Age > MaxAge {
		return ErrInvalidAge
	}

	p.Gender = strings.ToLower(strings.TrimSpace(p.Gender))
	if !IsValidGender(p.Gender) {
		return ErrInvalidGender
	}

	p.Bio = strings.TrimSpace(p.Bio)
	if utf8.RuneCountInString(p.Bio) > MaxBioLength {
		return ErrBioTooLong
	}

	interests, err := normalizeInterests(p.Interests)
	if err != nil {
		return err
	}
	p.Interests = interests

	if p.Location != nil {
		p.Location.Country = strings.TrimSpace(p.Location.Country)
		p.Location.City = strings.TrimSpace(p.Location.City)
		if utf8.RuneCountInString(p.Location.Country) > MaxLocationLength ||
			utf8.RuneCountInString(p.Location.City) > MaxLocationLength {
			return ErrInvalidLocation
		}
		if p.Location.Country == "" && p.Location.City == "" {
			p.Location = nil
		}
	}

	return nil
}

// Validate applies defaults for omitted fields and checks the filters
func (f *MatchFilters) Validate() error {
	f.GenderPref = strings.ToLower(strings.TrimSpace(f.GenderPref))
	if f.GenderPref == "" {
		f.GenderPref = GenderAny
	}
	if f.AgeMin == 0 {
		f.AgeMin = MinAge
	}
	if f.AgeMax == 0 {
		f.AgeMax = MaxAge
	}

	if !IsValidGenderPref(f.GenderPref) {
		return ErrInvalidGenderPref
	}
	if f.AgeMin < MinAge || f.AgeMax > MaxAge || f.AgeMin > f.AgeMax {
		return ErrInvalidAgeRange
	}
	return nil
}

// UnmarshalJSON tells an omitted age bound from an explicit one
// FUNCTIONAL DISCOVERY: Only omitted bounds fall back to 18/100; an explicit
// bound outside that range (0 included) is a validation error
func (f *MatchFilters) UnmarshalJSON(data []byte) error {
	var raw struct {
		GenderPref string `json:"genderPref"`
		AgeMin     *int   `json:"ageMin"`
		AgeMax     *int   `json:"ageMax"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*f = MatchFilters{GenderPref: raw.GenderPref}
	for _, bound := range []*int{raw.AgeMin, raw.AgeMax} {
		if bound != nil && (*bound < MinAge || *bound > MaxAge) {
			return ErrInvalidAgeRange
		}
	}
	if raw.AgeMin != nil {
		f.AgeMin = *raw.AgeMin
	}
	if raw.AgeMax != nil {
		f.AgeMax = *raw.AgeMax
	}
	return nil
}

// AcceptsGender reports whether the filters admit a partner of the given gender
func (f *MatchFilters) AcceptsGender(gender string) bool {
	return f.GenderPref == GenderAny || f.GenderPref == gender
}

// AcceptsAge reports whether age is within the filter range (inclusive)
func (f *MatchFilters) AcceptsAge(age int) bool {
	return age >= f.AgeMin && age <= f.AgeMax
}

// Validate checks a ready payload
func (p *ReadyPayload) Validate() error {
	if err := p.Profile.Validate(); err != nil {
		return err
	}
	return p.Filters.Validate()
}

// Validate checks a chat payload
func (p *ChatPayload) Validate() error {
	if strings.TrimSpace(p.Message) == "" {
		return ErrEmptyMessage
	}
	if utf8.RuneCountInString(p.Message) > MaxChatLength {
		return ErrMessageTooLong
	}
	return nil
}

// Validate checks a connection quality payload
func (p *QualityPayload) Validate() error {
	if n := utf8.RuneCountInString(p.Quality); n < 1 || n > MaxQualityLength {
		return ErrInvalidQuality
	}
	return nil
}

// Validate checks an offer or answer payload
func (p *SessionDescriptionPayload) Validate() error {
	if !IsValidClientID(p.To) {
		return ErrMissingTarget
	}
	if isEmptyJSON(p.SDP) {
		return ErrMissingPayload
	}
	return nil
}

// Validate checks an ICE payload
func (p *ICEPayload) Validate() error {
	if !IsValidClientID(p.To) {
		return ErrMissingTarget
	}
	if isEmptyJSON(p.Candidate) {
		return ErrMissingPayload
	}
	return nil
}

// Validate checks a report payload from the given reporter
func (p *ReportPayload) Validate(reporterID string) error {
	if err := validateTarget(p.Target, reporterID); err != nil {
		return err
	}
	if !IsValidReason(p.Reason) {
		return ErrInvalidReason
	}
	if utf8.RuneCountInString(p.Details) > MaxDetailsLength {
		return ErrDetailsTooLong
	}
	return nil
}

// Validate checks a block payload from the given blocker
func (p *BlockPayload) Validate(blockerID string) error {
	return validateTarget(p.Target, blockerID)
}

// DecodePayload unmarshals an envelope payload into v
func DecodePayload(env *Envelope, v interface{}) error {
	if isEmptyJSON(env.Payload) {
		return ErrMissingPayload
	}
	if err := json.Unmarshal(env.Payload, v); err != nil {
		if errors.Is(err, ErrValidation) {
			return err
		}
		return ErrInvalidPayload
	}
	return nil
}

// IsValidClientID checks if a client ID meets format requirements
func IsValidClientID(id string) bool {
	if len(id) < 1 || len(id) > 64 {
		return false
	}
	return clientIDRegex.MatchString(id)
}

// IsValidGender checks a profile gender
func IsValidGender(g string) bool {
	switch g {
	case GenderMale, GenderFemale, GenderOther:
		return true
	default:
		return false
	}
}

// IsValidGenderPref checks a filter gender preference
func IsValidGenderPref(g string) bool {
	return g == GenderAny || IsValidGender(g)
}

// IsValidReason checks a report reason against the fixed set
func IsValidReason(reason string) bool {
	switch reason {
	case ReasonInappropriate, ReasonSpam, ReasonHarassment, ReasonFakeProfile, ReasonOther:
		return true
	default:
		return false
	}
}

// IsSevereReason reports reasons that are flagged for human review
func IsSevereReason(reason string) bool {
	return reason == ReasonHarassment || reason == ReasonInappropriate
}

func validateTarget(target, self string) error {
	if !IsValidClientID(target) {
		return ErrMissingTarget
	}
	if target == self {
		return ErrSelfTarget
	}
	return nil
}

func normalizeInterests(in []string) ([]string, error) {
	if len(in) == 0 {
		return nil, nil
	}
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, raw := range in {
		interest := strings.ToLower(strings.TrimSpace(raw))
		if n := utf8.RuneCountInString(interest); n < 1 || n > MaxInterestLength {
			return nil, ErrInvalidInterests
		}
		if seen[interest] {
			continue
		}
		seen[interest] = true
		out = append(out, interest)
	}
	if len(out) > MaxInterests {
		return nil, ErrInvalidInterests
	}
	return out, nil
}

func isEmptyJSON(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
