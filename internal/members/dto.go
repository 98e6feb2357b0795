package members

import "time"

// CreateInput is a new member, validated before the mutation is queued.
type CreateInput struct {
	Name     string     `json:"name" validate:"required,min=1,max=200"`
	Email    string     `json:"email,omitempty" validate:"omitempty,email"`
	Phone    string     `json:"phone,omitempty" validate:"omitempty,max=32"`
	Role     string     `json:"role,omitempty" validate:"omitempty,max=64"`
	JoinedAt *time.Time `json:"joinedAt,omitempty"`
}

// UpdateInput carries only the fields being changed. Nil means "leave
// as is"; the queued payload serializes only the set fields.
type UpdateInput struct {
	Name     *string    `json:"name,omitempty" validate:"omitempty,min=1,max=200"`
	Email    *string    `json:"email,omitempty" validate:"omitempty,email"`
	Phone    *string    `json:"phone,omitempty" validate:"omitempty,max=32"`
	Role     *string    `json:"role,omitempty" validate:"omitempty,max=64"`
	JoinedAt *time.Time `json:"joinedAt,omitempty"`
}

func (u UpdateInput) changes() map[string]any {
	out := make(map[string]any)
	if u.Name != nil {
		out["name"] = *u.Name
	}
	if u.Email != nil {
		out["email"] = *u.Email
	}
	if u.Phone != nil {
		out["phone"] = *u.Phone
	}
	if u.Role != nil {
		out["role"] = *u.Role
	}
	if u.JoinedAt != nil {
		out["joined_at"] = *u.JoinedAt
	}
	return out
}

// ListFilter narrows cached member reads.
type ListFilter struct {
	Search string
	Role   string
}
