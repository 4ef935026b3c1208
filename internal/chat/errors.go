package chat

import "errors"

// Sentinel errors for chat operations.
// These errors are part of the package's public API and should be
// checked using errors.Is().
//
// Example:
//
//	sess, err := store.Session(ctx, id)
//	if errors.Is(err, chat.ErrNotFound) {
//	    // Handle missing session
//	}
var (
	// ErrNotFound indicates the requested session or message does not exist.
	ErrNotFound = errors.New("not found")

	// ErrEmptyContent indicates a message was submitted with no content.
	ErrEmptyContent = errors.New("message content is empty")

	// ErrInvalidRole indicates a message role outside user/assistant/system/tool.
	ErrInvalidRole = errors.New("invalid message role")
)

// ValidRole reports whether role is one of the accepted message roles.
func ValidRole(role string) bool {
	switch role {
	case RoleUser, RoleAssistant, RoleSystem, RoleTool:
		return true
	}
	return false
}
