// Package core holds the domain types shared by the ingestion pipeline.
//
// # Error Codes Reference
//
// This file defines user-friendly error messages with codes for support
// reference. The worker stores the formatted message on a Failed upload and
// the HTTP layer returns it in error responses.
//
// # Catalog Errors (CAT001-CAT099)
//
//	CAT001 - Catalog error status: the catalog rejected a lookup
//	         Patterns: "catalog returned status"
//
//	CAT002 - Catalog payload: the catalog answered with unreadable data
//	         Patterns: "decode catalog response"
//
//	CAT003 - Catalog unreachable: the lookup request did not complete
//	         Patterns: "catalog request"
//
// # Database Errors (DB001-DB099)
//
//	DB001 - Duplicate key               Patterns: "duplicate key"
//	DB002 - Unique constraint           Patterns: "unique constraint", "violates unique"
//	DB003 - Foreign key                 Patterns: "foreign key constraint", "violates foreign key"
//	DB004 - Connection refused          Patterns: "connection refused"
//	DB005 - Connection reset            Patterns: "connection reset"
//	DB006 - Timeout                     Patterns: "timeout"
//	DB007 - Deadlock                    Patterns: "deadlock"
//
// # File Errors (FILE001-FILE099)
//
//	FILE001 - File too large            Patterns: "file too large"
//	FILE002 - Not a CSV file            Patterns: "invalid file type"
//	FILE003 - Stored file missing       Patterns: "upload file not found"
//	FILE004 - No file                   Patterns: "no file provided"
//
// # Upload Errors (UPL001-UPL099)
//
//	UPL001 - Unknown upload             Patterns: "upload not found"
//	UPL002 - Queue closed               Patterns: "job queue closed"
//	UPL003 - Request cancelled          Patterns: "context canceled"
//	UPL004 - Request timeout            Patterns: "context deadline exceeded"
//	UPL005 - Invalid status change      Patterns: "invalid upload status transition"
//
// # Request Errors (REQ001-REQ099, AUTH001-AUTH099)
//
//	REQ001  - Bad parameter             Patterns: "invalid parameter"
//	AUTH001 - Missing API key           Patterns: "missing api key"
//	AUTH002 - Rejected API key          Patterns: "invalid api key"
//
// # Rate Limiting (RATE001-RATE099)
//
//	RATE001 - Rate limited              Patterns: "rate limit"
//	RATE002 - Upload slots exhausted    Patterns: "too many concurrent uploads"
//
// # Default Error (ERR000)
//
// Fallback when no specific pattern matches. Check the application logs for
// the original technical error.
//
// Patterns are matched case-insensitively using strings.Contains and the
// first match wins, so specific patterns come before general ones.
package core

import (
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened (user-friendly)
	Action  string // What to do about it
	Code    string // Error code for support reference
}

// errorPattern defines a pattern to match and its corresponding user message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns maps technical error patterns (case-insensitive) to user messages.
// Catalog patterns come first: transport errors from the catalog client often
// embed "connection refused" or "timeout", which would otherwise be reported
// as database problems.
var errorPatterns = []errorPattern{
	// =========================================================================
	// Catalog Errors (CAT001-CAT003)
	// =========================================================================
	{
		pattern: "catalog returned status",
		msg: UserMessage{
			Message: "The episode catalog rejected a lookup",
			Action:  "Please try the upload again later",
			Code:    "CAT001",
		},
	},
	{
		pattern: "decode catalog response",
		msg: UserMessage{
			Message: "The episode catalog returned unreadable data",
			Action:  "Please try the upload again later",
			Code:    "CAT002",
		},
	},
	{
		pattern: "catalog request",
		msg: UserMessage{
			Message: "The episode catalog could not be reached",
			Action:  "Check network connectivity and try again",
			Code:    "CAT003",
		},
	},

	// =========================================================================
	// File Errors (FILE001-FILE004)
	// =========================================================================
	{
		pattern: "file too large",
		msg: UserMessage{
			Message: "File exceeds maximum size limit",
			Action:  "Split the file into smaller chunks",
			Code:    "FILE001",
		},
	},
	{
		pattern: "invalid file type",
		msg: UserMessage{
			Message: "Only .csv files are accepted",
			Action:  "Export your data as CSV and upload again",
			Code:    "FILE002",
		},
	},
	{
		pattern: "upload file not found",
		msg: UserMessage{
			Message: "The uploaded file is no longer available",
			Action:  "Please upload the file again",
			Code:    "FILE003",
		},
	},
	{
		pattern: "no file provided",
		msg: UserMessage{
			Message: "No file was selected",
			Action:  "Please select a CSV file to upload",
			Code:    "FILE004",
		},
	},

	// =========================================================================
	// Database Errors (DB001-DB007)
	// =========================================================================
	{
		pattern: "duplicate key",
		msg: UserMessage{
			Message: "A record with this ID already exists",
			Action:  "Please try the upload again",
			Code:    "DB001",
		},
	},
	{
		pattern: "unique constraint",
		msg: UserMessage{
			Message: "This value must be unique but already exists",
			Action:  "Please try the upload again",
			Code:    "DB002",
		},
	},
	{
		pattern: "violates unique",
		msg: UserMessage{
			Message: "A duplicate value was found",
			Action:  "Please try the upload again",
			Code:    "DB002",
		},
	},
	{
		pattern: "foreign key constraint",
		msg: UserMessage{
			Message: "Referenced record does not exist",
			Action:  "Contact support with the error code",
			Code:    "DB003",
		},
	},
	{
		pattern: "violates foreign key",
		msg: UserMessage{
			Message: "Referenced record does not exist",
			Action:  "Contact support with the error code",
			Code:    "DB003",
		},
	},
	{
		pattern: "connection refused",
		msg: UserMessage{
			Message: "Unable to connect to database",
			Action:  "Please try again in a few moments",
			Code:    "DB004",
		},
	},
	{
		pattern: "connection reset",
		msg: UserMessage{
			Message: "Database connection was interrupted",
			Action:  "Please try again",
			Code:    "DB005",
		},
	},
	{
		pattern: "timeout",
		msg: UserMessage{
			Message: "Operation timed out",
			Action:  "Try uploading a smaller file or try again later",
			Code:    "DB006",
		},
	},
	{
		pattern: "deadlock",
		msg: UserMessage{
			Message: "Database was busy with conflicting operations",
			Action:  "Please try again",
			Code:    "DB007",
		},
	},

	// =========================================================================
	// Upload Errors (UPL001-UPL005)
	// =========================================================================
	{
		pattern: "upload not found",
		msg: UserMessage{
			Message: "Upload not found",
			Action:  "Verify the upload id",
			Code:    "UPL001",
		},
	},
	{
		pattern: "job queue closed",
		msg: UserMessage{
			Message: "The server is shutting down",
			Action:  "Please submit the file again in a few moments",
			Code:    "UPL002",
		},
	},
	{
		pattern: "context canceled",
		msg: UserMessage{
			Message: "Request was cancelled",
			Action:  "Please try again",
			Code:    "UPL003",
		},
	},
	{
		pattern: "context deadline exceeded",
		msg: UserMessage{
			Message: "Processing took too long",
			Action:  "Try uploading a smaller file",
			Code:    "UPL004",
		},
	},
	{
		pattern: "invalid upload status transition",
		msg: UserMessage{
			Message: "The upload was already processed",
			Action:  "Submit the file again to process it once more",
			Code:    "UPL005",
		},
	},

	// =========================================================================
	// Request Errors (REQ001, AUTH001-AUTH002)
	// =========================================================================
	{
		pattern: "invalid parameter",
		msg: UserMessage{
			Message: "The request has an invalid parameter",
			Action:  "Check the request path and query string",
			Code:    "REQ001",
		},
	},
	{
		pattern: "missing api key",
		msg: UserMessage{
			Message: "Authentication required",
			Action:  "Send your API key in the X-API-Key header",
			Code:    "AUTH001",
		},
	},
	{
		pattern: "invalid api key",
		msg: UserMessage{
			Message: "The API key was not accepted",
			Action:  "Check the key with your administrator",
			Code:    "AUTH002",
		},
	},

	// =========================================================================
	// Rate Limiting (RATE001-RATE002)
	// =========================================================================
	{
		pattern: "rate limit",
		msg: UserMessage{
			Message: "Too many requests",
			Action:  "Please wait a moment before trying again",
			Code:    "RATE001",
		},
	},
	{
		pattern: "too many concurrent uploads",
		msg: UserMessage{
			Message: "The server is busy receiving other uploads",
			Action:  "Retry the upload in a few seconds",
			Code:    "RATE002",
		},
	},
}

// defaultMessage is returned when no pattern matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
// It searches through known error patterns (case-insensitive) and returns
// the first match. If no pattern matches, a generic fallback message with
// code ERR000 is returned.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	errStr := strings.ToLower(err.Error())

	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// FormatUserError creates a formatted error string for display.
// The format is: "Message (Code: XXX). Action"
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err matches a known pattern rather than the
// ERR000 fallback.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}
