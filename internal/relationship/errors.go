package relationship

import "errors"

var (
	ErrUserNotFound            = errors.New("user not found")
	ErrAlreadyPaired           = errors.New("user is already in a relationship")
	ErrInvitationNotFound      = errors.New("invitation not found")
	ErrInvitationAlreadyUsed   = errors.New("invitation has already been used")
	ErrInvitationExpired       = errors.New("invitation has expired")
	ErrSelfInvite              = errors.New("cannot accept your own invitation")
	ErrInviterAlreadyPaired    = errors.New("inviter is already in a relationship")
	ErrCodeGenerationExhausted = errors.New("failed to generate a unique invite code")
	ErrNoPendingRelationship   = errors.New("no relationship pending deletion")
	ErrGracePeriodExpired      = errors.New("grace period has expired")
	ErrNoPendingRequest        = errors.New("no pending resume request")
	ErrNotRequester            = errors.New("only the requester can cancel the resume request")
	ErrNotActive               = errors.New("relationship is not active")
	ErrNoActiveRelationship    = errors.New("no active relationship")
	ErrConcurrentModification  = errors.New("relationship was modified concurrently")
)
