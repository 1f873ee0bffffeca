package model

import "errors"

var (
	// ErrEmptyTitle is returned when a record title is empty after trimming.
	ErrEmptyTitle = errors.New("record title must not be empty")

	// ErrMissingID is returned for records without an identifier.
	ErrMissingID = errors.New("record id must not be empty")

	// ErrClockSkew is returned when UpdatedAt precedes CreatedAt.
	ErrClockSkew = errors.New("record updatedAt precedes createdAt")
)
