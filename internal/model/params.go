package model

import "fmt"

// Visibility filters a feed's entries by read state.
type Visibility int

const (
	VisibilityUnread Visibility = iota
	VisibilityRead
	VisibilityAll
)

// ParseVisibility maps a wire token to a Visibility. The empty token selects
// the default, VisibilityUnread; any other unknown token is rejected.
func ParseVisibility(token string) (Visibility, error) {
	switch token {
	case "", "unread":
		return VisibilityUnread, nil
	case "read":
		return VisibilityRead, nil
	case "all":
		return VisibilityAll, nil
	}
	return 0, fmt.Errorf("unknown entries visibility %q", token)
}

func (v Visibility) String() string {
	switch v {
	case VisibilityRead:
		return "read"
	case VisibilityAll:
		return "all"
	default:
		return "unread"
	}
}

// UpdateAction is an action applied to a single entry.
type UpdateAction int

const (
	ActionRefresh UpdateAction = iota + 1
	ActionToggleReadUnread
)

// ParseUpdateAction maps a wire token to an UpdateAction. There is no default.
func ParseUpdateAction(token string) (UpdateAction, error) {
	switch token {
	case "refresh":
		return ActionRefresh, nil
	case "toggle_read_unread":
		return ActionToggleReadUnread, nil
	}
	return 0, fmt.Errorf("unknown entry action %q", token)
}

func (a UpdateAction) String() string {
	switch a {
	case ActionRefresh:
		return "refresh"
	case ActionToggleReadUnread:
		return "toggle_read_unread"
	}
	return fmt.Sprintf("UpdateAction(%d)", int(a))
}
