// Copyright 2026 The Parlor Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"encoding/json"

	"github.com/parlor-chat/parlor/lib/ref"
)

// LoginRequest is the body of POST /_matrix/client/v3/login for
// password authentication.
type LoginRequest struct {
	Type                     string `json:"type"`
	User                     string `json:"user"`
	Password                 string `json:"password"`
	InitialDeviceDisplayName string `json:"initial_device_display_name,omitempty"`
}

// AuthResponse is returned by Login.
type AuthResponse struct {
	UserID      ref.UserID `json:"user_id"`
	AccessToken string     `json:"access_token"`
	DeviceID    string     `json:"device_id"`
}

// WhoAmIResponse is returned by WhoAmI.
type WhoAmIResponse struct {
	UserID ref.UserID `json:"user_id"`
}

// ResolveAliasResponse is returned by ResolveAlias.
type ResolveAliasResponse struct {
	RoomID ref.RoomID `json:"room_id"`
}

// SendEventResponse is returned by SendMessage.
type SendEventResponse struct {
	EventID ref.EventID `json:"event_id"`
}

// MessageContent is the content body of an m.room.message event.
type MessageContent struct {
	MsgType string `json:"msgtype"`
	Body    string `json:"body"`
}

// NewTextMessage creates a plain text message.
func NewTextMessage(body string) MessageContent {
	return MessageContent{
		MsgType: "m.text",
		Body:    body,
	}
}

// Event represents a Matrix event from the server.
type Event struct {
	EventID        ref.EventID    `json:"event_id"`
	Type           string         `json:"type"`
	Sender         ref.UserID     `json:"sender"`
	OriginServerTS int64          `json:"origin_server_ts"`
	Content        map[string]any `json:"content"`
	RoomID         ref.RoomID     `json:"room_id,omitempty"`
	StateKey       *string        `json:"state_key,omitempty"`
}

// MessageBody extracts the plain-text body from an m.room.message
// event. Returns ok=false for non-message events and for message
// types other than m.text (images, files, notices).
func (e Event) MessageBody() (body string, ok bool) {
	if e.Type != "m.room.message" {
		return "", false
	}
	msgType, _ := e.Content["msgtype"].(string)
	if msgType != "m.text" {
		return "", false
	}
	body, ok = e.Content["body"].(string)
	return body, ok
}

// RoomMessagesOptions configures a RoomMessages backfill call.
type RoomMessagesOptions struct {
	// From is the pagination token to start from. Empty starts at the
	// live edge of the timeline.
	From string
	// Direction is "b" (backward, newest first — the default) or "f".
	Direction string
	// Limit caps the number of events returned.
	Limit int
}

// RoomMessagesResponse is returned by RoomMessages.
type RoomMessagesResponse struct {
	Chunk []Event `json:"chunk"`
	Start string  `json:"start"`
	End   string  `json:"end"`
}

// SyncOptions configures a /sync call.
type SyncOptions struct {
	// Since is the batch token from the previous sync. Empty performs
	// an initial sync.
	Since string
	// Timeout is the server-side long-poll hold in milliseconds.
	Timeout int
	// SetTimeout forces the timeout query parameter to be sent even
	// when Timeout is zero (an explicit "return immediately").
	SetTimeout bool
	// Filter is an inline JSON filter restricting the response.
	Filter string
}

// SyncResponse is returned by Sync.
type SyncResponse struct {
	NextBatch string `json:"next_batch"`
	Rooms     Rooms  `json:"rooms"`
}

// Rooms groups per-room sync data by membership.
type Rooms struct {
	Join map[ref.RoomID]JoinedRoom `json:"join"`
}

// JoinedRoom holds sync data for a room the user has joined.
type JoinedRoom struct {
	Timeline Timeline `json:"timeline"`
}

// Timeline holds the timeline section of a joined room's sync data.
type Timeline struct {
	Events    []Event `json:"events"`
	Limited   bool    `json:"limited"`
	PrevBatch string  `json:"prev_batch"`
}

// RoomMessageFilter builds the inline JSON /sync filter used by the
// bridge: only m.room.message timeline events from the single watched
// room, no state, no presence, no account data. limit caps timeline
// events per response; zero leaves the server default.
func RoomMessageFilter(roomID ref.RoomID, limit int) string {
	timeline := map[string]any{
		"types": []string{"m.room.message"},
	}
	if limit > 0 {
		timeline["limit"] = limit
	}

	top := map[string]any{
		"room": map[string]any{
			"rooms":    []string{roomID.String()},
			"timeline": timeline,
			"state":    map[string]any{"types": []string{}},
			"ephemeral": map[string]any{
				"types": []string{},
			},
			"account_data": map[string]any{"types": []string{}},
		},
		"presence":     map[string]any{"types": []string{}},
		"account_data": map[string]any{"types": []string{}},
	}

	data, _ := json.Marshal(top)
	return string(data)
}
