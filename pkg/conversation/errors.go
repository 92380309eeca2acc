package conversation

import "errors"

var (
	// ErrUnknownConversation is returned when a caller references a
	// conversation ID this Manager has never created.
	ErrUnknownConversation = errors.New("conversation: unknown conversation")
	// ErrNotGroupMember is returned by LeaveGroup (and by meshnode's
	// SendGroup) for a group the local node does not belong to.
	ErrNotGroupMember = errors.New("conversation: not a group member")
	// ErrAlreadyMember is returned by CreateGroup/JoinGroup when the
	// group already exists locally.
	ErrAlreadyMember = errors.New("conversation: already a group member")
)
