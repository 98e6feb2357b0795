package announcements

import "time"

// CreateInput is a new announcement, validated before queuing.
type CreateInput struct {
	Title       string     `json:"title" validate:"required,min=1,max=200"`
	Body        string     `json:"body,omitempty" validate:"omitempty,max=5000"`
	PublishedAt *time.Time `json:"publishedAt,omitempty"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
}

// UpdateInput carries only the fields being changed.
type UpdateInput struct {
	Title     *string    `json:"title,omitempty" validate:"omitempty,min=1,max=200"`
	Body      *string    `json:"body,omitempty" validate:"omitempty,max=5000"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

func (u UpdateInput) changes() map[string]any {
	out := make(map[string]any)
	if u.Title != nil {
		out["title"] = *u.Title
	}
	if u.Body != nil {
		out["body"] = *u.Body
	}
	if u.ExpiresAt != nil {
		out["expires_at"] = *u.ExpiresAt
	}
	return out
}

// ListFilter narrows cached announcement reads.
type ListFilter struct {
	// ActiveOnly keeps announcements that are published and unexpired
	// at the time of the query.
	ActiveOnly bool
}
