package server

import (
	"dayline/internal/domain"
	"dayline/internal/engine"
)

// Request payloads

// CreateUserRequest carries no variant enum: variant names are catalog data,
// so the engine validates them against the active catalog instead.
type CreateUserRequest struct {
	UserID    string  `json:"user_id"`
	Variant   string  `json:"variant"`
	StartDate *string `json:"start_date,omitempty" format:"date-time"`
}

type SkipTaskRequest struct {
	Reason *string `json:"reason,omitempty"`
}

type NavigateRequest struct {
	Day       *int   `json:"day,omitempty"`
	Direction string `json:"direction,omitempty" enum:"previous,next,today"`
}

// Response payloads

type ProfileResponse struct {
	UserID     string `json:"user_id"`
	Variant    string `json:"variant"`
	StartDate  string `json:"start_date" format:"date-time"`
	CurrentDay int    `json:"current_day"`
	CreatedAt  string `json:"created_at" format:"date-time"`
}

type StateResponse struct {
	State domain.ProgramState `json:"state"`
	Day   domain.DayView      `json:"day"`
}

type OutcomeResponse struct {
	State         domain.ProgramState            `json:"state"`
	Day           domain.DayView                 `json:"day"`
	NewlyUnlocked []domain.AchievementDefinition `json:"newly_unlocked,omitempty"`
}

type NavigateResponse struct {
	State domain.ProgramState `json:"state"`
	Moved bool                `json:"moved"`
}

type AchievementsResponse struct {
	Achievements []engine.AchievementStatus `json:"achievements"`
}

type EventsResponse struct {
	Events []domain.Event `json:"events"`
}

func profileResponse(p domain.Profile) ProfileResponse {
	return ProfileResponse{
		UserID:     p.UserID,
		Variant:    p.Variant,
		StartDate:  p.StartDate,
		CurrentDay: p.CurrentDay,
		CreatedAt:  p.CreatedAt,
	}
}
