package models

import (
	"fmt"
	"time"
)

// FollowStatus is the state of a follow request.
type FollowStatus string

const (
	FollowPending  FollowStatus = "pending"
	FollowApproved FollowStatus = "approved"
	FollowRejected FollowStatus = "rejected"
)

// ParseFollowStatus validates s as a FollowStatus. The empty string is
// rejected.
func ParseFollowStatus(s string) (FollowStatus, error) {
	switch FollowStatus(s) {
	case FollowPending, FollowApproved, FollowRejected:
		return FollowStatus(s), nil
	}
	return "", fmt.Errorf("unknown follow status %q", s)
}

// FollowRequest is a directed connection from one MindOp to another. An
// approved request allows the requester to collaborate with the target.
type FollowRequest struct {
	ID                string       `json:"id"`
	RequesterMindOpID string       `json:"requester_mindop_id"`
	TargetMindOpID    string       `json:"target_mindop_id"`
	Status            FollowStatus `json:"status"`
	CreatedAt         time.Time    `json:"created_at"`
	UpdatedAt         time.Time    `json:"updated_at"`
}

// FollowDirection selects which side of a follow request a listing is for.
type FollowDirection string

const (
	FollowIncoming FollowDirection = "incoming"
	FollowOutgoing FollowDirection = "outgoing"
)

// FollowRequestFilter narrows a follow request listing.
type FollowRequestFilter struct {
	RequesterMindOpID string
	TargetMindOpID    string
	Status            FollowStatus
	Limit             int
}
