package events

// Machine-readable codes carried in error event payloads and REST error
// responses.
const (
	CodeBadRequest        = "bad_request"
	CodeForbidden         = "forbidden"
	CodeNotFound          = "not_found"
	CodeNotConfigured     = "not_configured"
	CodeStreamError       = "stream_error"
	CodeCancelled         = "cancelled"
	CodeToolRequestFailed = "tool_request_failed"
	CodeToolExecuteFailed = "tool_execute_failed"
	CodeOverloaded        = "overloaded"
	CodeBusy              = "busy"
	CodeHandoffLoop       = "handoff_loop"
)
