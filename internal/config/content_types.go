package config

import "fmt"

// ContentType defines one entry in the content type registry. Add new types
// here to extend the channel's repertoire.
type ContentType struct {
	ID           string // e.g. "monthly_releases"
	DisplayName  string // Arabic display name used in prompts and notifications
	Description  string // injected into prompts for context
	ScheduleDay  int    // day of month, 0 = manual/event-based
	ScheduleType string // "monthly", "event" or "manual"
}

// ContentTypes is the registry of content formats the channel produces.
var ContentTypes = []ContentType{
	{
		ID:          "monthly_releases",
		DisplayName: "إصدارات الشهر",
		Description: "A comprehensive roundup of all major game releases for the current month. " +
			"Covers release dates, platforms, pricing, Game Pass availability, and Arabic language support.",
		ScheduleDay:  25,
		ScheduleType: "monthly",
	},
	{
		ID:          "aaa_review",
		DisplayName: "مراجعة لعبة AAA",
		Description: "An in-depth review of a major AAA game title. Covers gameplay, story, graphics, " +
			"performance, value for money, and Arabic support.",
		ScheduleType: "event",
	},
	{
		ID:          "upcoming_games",
		DisplayName: "ألعاب قادمة",
		Description: "A preview of exciting upcoming game releases. Covers trailers, expected features, " +
			"developer track record, and hype analysis.",
		ScheduleType: "event",
	},
}

// ContentTypeByID looks up a registered content type.
func ContentTypeByID(id string) (ContentType, error) {
	for _, ct := range ContentTypes {
		if ct.ID == id {
			return ct, nil
		}
	}
	valid := make([]string, 0, len(ContentTypes))
	for _, ct := range ContentTypes {
		valid = append(valid, ct.ID)
	}
	return ContentType{}, fmt.Errorf("unknown content type %q (valid: %v)", id, valid)
}
