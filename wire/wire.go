// Package wire defines the message shapes exchanged with the premium backend
// over the event bus: the outbound request envelope (correlation id, issue
// timestamp, optional room scope stamped onto domain fields) and the inbound
// response envelope (status, typed message tag, payload, optional correlation
// id echo).
package wire

import (
	"encoding/json"
	"fmt"
	"time"
)

// Status is the coarse outcome carried by every inbound response.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// MessageTag identifies the logical message carried by an inbound response.
// The backend is expected to grow new tags over time; unrecognized tags are
// not an error (see KnownTag).
type MessageTag string

const (
	TagLoginSuccess     MessageTag = "loginSuccess"
	TagLogoutSuccess    MessageTag = "logoutSuccess"
	TagProfileRetrieved MessageTag = "profileRetrieved"
	TagStateRestored    MessageTag = "sessionRestored"
	TagAuthShared       MessageTag = "authShared"
	TagResourceList     MessageTag = "resourceList"
	TagUsageUpdated     MessageTag = "usageUpdated"
	TagSessionCount     MessageTag = "sessionCountUpdated"
	TagRoomLimitReached MessageTag = "roomLimitReached"

	// Error tags.
	TagNotAuthenticated MessageTag = "notAuthenticated"
	TagResourceLimit    MessageTag = "resourceLimitExceeded"
)

var knownTags = map[MessageTag]struct{}{
	TagLoginSuccess:     {},
	TagLogoutSuccess:    {},
	TagProfileRetrieved: {},
	TagStateRestored:    {},
	TagAuthShared:       {},
	TagResourceList:     {},
	TagUsageUpdated:     {},
	TagSessionCount:     {},
	TagRoomLimitReached: {},
	TagNotAuthenticated: {},
	TagResourceLimit:    {},
}

// KnownTag reports whether the tag is one this client version understands.
func KnownTag(tag MessageTag) bool {
	_, ok := knownTags[tag]
	return ok
}

// Channel names the client subscribes to for inbound traffic.
const (
	// ChannelResponse carries correlated request outcomes and most broadcast
	// state messages.
	ChannelResponse = "premium:response"
	// ChannelBroadcast carries unsolicited pushes (restores, shared auth,
	// room-limit notifications).
	ChannelBroadcast = "premium:broadcast"
	// ChannelUsage carries bare usage counter ticks.
	ChannelUsage = "premium:usage"
)

// Event names for outbound requests.
const (
	EventLogin              = "premium:login"
	EventLogout             = "premium:logout"
	EventProfileGet         = "premium:profile:get"
	EventResourceList       = "premium:resources:list"
	EventResourceActivate   = "premium:resource:activate"
	EventResourcePause      = "premium:resource:pause"
	EventResourceResume     = "premium:resource:resume"
	EventResourceDelete     = "premium:resource:delete"
	EventResourceDisconnect = "premium:resource:disconnect"
)

// Response is the inbound envelope delivered on every response channel.
type Response struct {
	Status        Status          `json:"status"`
	Message       MessageTag      `json:"message"`
	Data          json.RawMessage `json:"data,omitempty"`
	CorrelationID string          `json:"correlationId,omitempty"`
}

// Ok reports whether the response carries a success status.
func (r *Response) Ok() bool {
	return r.Status == StatusSuccess
}

// UnmarshalJSON enforces envelope structure: a status is mandatory and must
// be one of the two defined values, and a message tag must be present.
func (r *Response) UnmarshalJSON(data []byte) error {
	type raw struct {
		Status        Status          `json:"status"`
		Message       MessageTag      `json:"message"`
		Data          json.RawMessage `json:"data,omitempty"`
		CorrelationID string          `json:"correlationId,omitempty"`
	}

	var rr raw
	if err := json.Unmarshal(data, &rr); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}

	switch rr.Status {
	case StatusSuccess, StatusError:
	default:
		return fmt.Errorf("invalid response status: %q", rr.Status)
	}
	if rr.Message == "" {
		return fmt.Errorf("response is missing a message tag")
	}

	r.Status = rr.Status
	r.Message = rr.Message
	r.Data = rr.Data
	r.CorrelationID = rr.CorrelationID
	return nil
}

// User identifies the authenticated principal. Premium state is never valid
// without one.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
}

// SubscriptionInfo describes the backend-side premium subscription.
type SubscriptionInfo struct {
	Plan       string     `json:"plan,omitempty"`
	ValidUntil *time.Time `json:"validUntil,omitempty"`
}

// SessionPayload is the data object for login, restore, shared-auth and
// profile messages. Counter fields use pointers so a patch-style message can
// omit them without zeroing current values.
type SessionPayload struct {
	User               *User             `json:"user,omitempty"`
	SessionToken       string            `json:"sessionToken,omitempty"`
	RefreshToken       string            `json:"refreshToken,omitempty"`
	ExpiresAt          *time.Time        `json:"expiresAt,omitempty"`
	Premium            bool              `json:"premium,omitempty"`
	Subscription       *SubscriptionInfo `json:"subscription,omitempty"`
	ActiveSessionCount *int              `json:"activeSessionCount,omitempty"`
	MaxSessionCount    *int              `json:"maxSessionCount,omitempty"`
}

// UsagePayload is the data object for usage and session-count ticks.
type UsagePayload struct {
	ActiveSessionCount *int `json:"activeSessionCount,omitempty"`
	MaxSessionCount    *int `json:"maxSessionCount,omitempty"`
}

// ResourceStatus is the backend-reported lifecycle state of a managed
// resource.
type ResourceStatus string

const (
	ResourceActive  ResourceStatus = "active"
	ResourcePaused  ResourceStatus = "paused"
	ResourceStopped ResourceStatus = "stopped"
)

// Resource is one item owned by or visible to the session. The Plan field is
// an opaque payload owned by the backend; this client never inspects it.
type Resource struct {
	ID      string          `json:"id"`
	Name    string          `json:"name,omitempty"`
	Status  ResourceStatus  `json:"status,omitempty"`
	Public  bool            `json:"public,omitempty"`
	OwnerID string          `json:"ownerId,omitempty"`
	Plan    json.RawMessage `json:"plan,omitempty"`
}

// ResourceListPayload is the data object for resource-list messages.
type ResourceListPayload struct {
	Resources []Resource `json:"resources"`
}

// NewRequestData builds the outbound data object for a correlated request:
// the caller's domain fields plus the correlation id, issue timestamp, and
// optional room scope. Domain fields named like the reserved keys are
// overwritten; callers must not rely on them.
func NewRequestData(fields map[string]any, room, correlationID string, issuedAt time.Time) (json.RawMessage, error) {
	data := make(map[string]any, len(fields)+3)
	for k, v := range fields {
		data[k] = v
	}
	data["correlationId"] = correlationID
	data["issuedAt"] = issuedAt.UTC().Format(time.RFC3339Nano)
	if room != "" {
		data["room"] = room
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request data: %w", err)
	}
	return raw, nil
}
