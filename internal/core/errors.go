package core

import "errors"

// ErrUploadNotFound is returned by stores when no upload has the requested id.
var ErrUploadNotFound = errors.New("upload not found")

// ErrInvalidTransition is returned when a status change would regress an upload.
var ErrInvalidTransition = errors.New("invalid upload status transition")

// ErrFileNotFound marks an upload whose stored CSV is missing on disk.
var ErrFileNotFound = errors.New("upload file not found")
