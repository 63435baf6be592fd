package models

import "errors"

// ErrNotFound is wrapped by repositories when a row does not exist
var ErrNotFound = errors.New("not found")

// ErrAlreadyExists is wrapped by repositories on unique-key violations
var ErrAlreadyExists = errors.New("already exists")
