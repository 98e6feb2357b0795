package events

import "time"

// CreateInput is a new event, validated before the mutation is queued.
type CreateInput struct {
	Title       string     `json:"title" validate:"required,min=1,max=200"`
	Description string     `json:"description,omitempty" validate:"omitempty,max=2000"`
	Location    string     `json:"location,omitempty" validate:"omitempty,max=200"`
	StartsAt    time.Time  `json:"startsAt" validate:"required"`
	EndsAt      *time.Time `json:"endsAt,omitempty"`
	Capacity    int        `json:"capacity,omitempty" validate:"omitempty,gte=0"`
}

// UpdateInput carries only the fields being changed.
type UpdateInput struct {
	Title       *string    `json:"title,omitempty" validate:"omitempty,min=1,max=200"`
	Description *string    `json:"description,omitempty" validate:"omitempty,max=2000"`
	Location    *string    `json:"location,omitempty" validate:"omitempty,max=200"`
	StartsAt    *time.Time `json:"startsAt,omitempty"`
	EndsAt      *time.Time `json:"endsAt,omitempty"`
	Capacity    *int       `json:"capacity,omitempty" validate:"omitempty,gte=0"`
}

func (u UpdateInput) changes() map[string]any {
	out := make(map[string]any)
	if u.Title != nil {
		out["title"] = *u.Title
	}
	if u.Description != nil {
		out["description"] = *u.Description
	}
	if u.Location != nil {
		out["location"] = *u.Location
	}
	if u.StartsAt != nil {
		out["starts_at"] = *u.StartsAt
	}
	if u.EndsAt != nil {
		out["ends_at"] = *u.EndsAt
	}
	if u.Capacity != nil {
		out["capacity"] = *u.Capacity
	}
	return out
}

// ListFilter narrows cached event reads by schedule window.
type ListFilter struct {
	From *time.Time
	To   *time.Time
}
