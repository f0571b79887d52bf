package core

// error_messages.go maps technical errors to user-facing messages with codes
// for support reference. Users quote the code; support looks it up here.
//
// # Session Errors (SES001-SES099)
//
//	SES001 - Session not found
//	         Action: Upload your files again to start a new session
//	         Patterns: "session not found"
//
// # File Errors (FILE001-FILE099)
//
//	FILE001 - File too large
//	          Action: Split the file into smaller files
//	          Patterns: "file too large"
//
//	FILE004 - No file was selected
//	          Action: Select at least one CSV or XLSX file
//	          Patterns: "no file provided"
//
//	FILE006 - None of the files can be used
//	          Action: Upload .csv or .xlsx files
//	          Patterns: "no valid files"
//
//	FILE007 - Unsupported file type
//	          Action: Only .csv and .xlsx files are accepted
//	          Patterns: "unsupported file type"
//
// # Query Errors (QRY001-QRY099)
//
//	QRY001 - No question was asked
//	         Action: Type a question about your data
//	         Patterns: "query not provided"
//
//	QRY002 - No sheets selected
//	         Action: Select at least one sheet before asking
//	         Patterns: "no data selected"
//
//	QRY003 - The question could not be answered
//	         Action: Rephrase the question or check the selected sheets
//	         Patterns: "query failed"
//
//	QRY004 - System busy
//	         Action: Please wait a moment and try again
//	         Patterns: "too many concurrent queries"
//
//	QRY005 - No answer yet
//	         Action: Ask a question before downloading the result
//	         Patterns: "no conversation response"
//
// # Artifact Errors (ART001-ART099)
//
//	ART001 - Result file no longer available
//	         Action: Ask the question again to regenerate it
//	         Patterns: "artifact not found"
//
//	ART002 - Chart was not produced
//	         Action: Ask the question again
//	         Patterns: "image file not found"
//
// # Request Errors (REQ001-REQ099)
//
//	REQ001 - Request was cancelled
//	         Patterns: "context canceled"
//
//	REQ002 - Request timed out
//	         Patterns: "context deadline exceeded"
//
//	REQ003 - Malformed request body or parameters
//	         Patterns: "invalid request"
//
// # Other
//
//	RATE001 - Too many requests ("rate limit")
//	AUTH001 - Invalid or missing API key ("api key")
//	ERR000  - Fallback when nothing matches; check the logs for the original error
//
// Patterns are matched case-insensitively with strings.Contains. The first
// match wins, so specific patterns come before general ones.

import (
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string `json:"message"` // What happened (user-friendly)
	Action  string `json:"action"`  // What to do about it
	Code    string `json:"code"`    // Error code for support reference
}

type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns is ordered: QueryError text embeds arbitrary engine output,
// so "query failed" must be checked before anything it might contain.
var errorPatterns = []errorPattern{
	// =========================================================================
	// Query Errors (QRY001-QRY005)
	// =========================================================================
	{
		pattern: "query failed",
		msg: UserMessage{
			Message: "The question could not be answered",
			Action:  "Rephrase the question or check the selected sheets",
			Code:    "QRY003",
		},
	},
	{
		pattern: "query not provided",
		msg: UserMessage{
			Message: "No question was asked",
			Action:  "Type a question about your data",
			Code:    "QRY001",
		},
	},
	{
		pattern: "no data selected",
		msg: UserMessage{
			Message: "No sheets are selected",
			Action:  "Select at least one sheet before asking",
			Code:    "QRY002",
		},
	},
	{
		pattern: "too many concurrent queries",
		msg: UserMessage{
			Message: "System is busy answering other questions",
			Action:  "Please wait a moment and try again",
			Code:    "QRY004",
		},
	},
	{
		pattern: "no conversation response",
		msg: UserMessage{
			Message: "There is no answer to download yet",
			Action:  "Ask a question before downloading the result",
			Code:    "QRY005",
		},
	},

	// =========================================================================
	// Session Errors (SES001)
	// =========================================================================
	{
		pattern: "session not found",
		msg: UserMessage{
			Message: "Session not found",
			Action:  "Upload your files again to start a new session",
			Code:    "SES001",
		},
	},

	// =========================================================================
	// Artifact Errors (ART001-ART002)
	// =========================================================================
	{
		pattern: "artifact not found",
		msg: UserMessage{
			Message: "The result file is no longer available",
			Action:  "Ask the question again to regenerate it",
			Code:    "ART001",
		},
	},
	{
		pattern: "image file not found",
		msg: UserMessage{
			Message: "The chart was not produced",
			Action:  "Ask the question again",
			Code:    "ART002",
		},
	},

	// =========================================================================
	// File Errors (FILE001-FILE007)
	// =========================================================================
	{
		pattern: "file too large",
		msg: UserMessage{
			Message: "File exceeds the maximum size limit",
			Action:  "Split the file into smaller files",
			Code:    "FILE001",
		},
	},
	{
		pattern: "no file provided",
		msg: UserMessage{
			Message: "No file was selected",
			Action:  "Select at least one CSV or XLSX file",
			Code:    "FILE004",
		},
	},
	{
		pattern: "no valid files",
		msg: UserMessage{
			Message: "None of the uploaded files can be used",
			Action:  "Upload .csv or .xlsx files",
			Code:    "FILE006",
		},
	},
	{
		pattern: "unsupported file type",
		msg: UserMessage{
			Message: "Unsupported file type",
			Action:  "Only .csv and .xlsx files are accepted",
			Code:    "FILE007",
		},
	},

	// =========================================================================
	// Request Errors (REQ001-REQ003)
	// =========================================================================
	{
		pattern: "invalid request",
		msg: UserMessage{
			Message: "The request could not be read",
			Action:  "Check the request body and parameters",
			Code:    "REQ003",
		},
	},
	{
		pattern: "context canceled",
		msg: UserMessage{
			Message: "Request was cancelled",
			Action:  "Please try again",
			Code:    "REQ001",
		},
	},
	{
		pattern: "context deadline exceeded",
		msg: UserMessage{
			Message: "Request timed out",
			Action:  "Try a simpler question or select fewer sheets",
			Code:    "REQ002",
		},
	},

	// =========================================================================
	// Rate Limiting & Auth (RATE001, AUTH001)
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
		pattern: "api key",
		msg: UserMessage{
			Message: "Invalid or missing API key",
			Action:  "Provide a valid key in the X-API-Key header",
			Code:    "AUTH001",
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
// It returns the first matching pattern, or ERR000 if none match.
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
