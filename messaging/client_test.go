// Copyright 2026 The Parlor Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/parlor-chat/parlor/lib/ref"
	"github.com/parlor-chat/parlor/lib/secret"
)

// testBuffer creates a secret.Buffer from a string for testing. The
// buffer is automatically closed when the test completes.
func testBuffer(t *testing.T, value string) *secret.Buffer {
	t.Helper()
	buffer, err := secret.NewFromString(value)
	if err != nil {
		t.Fatalf("creating test buffer: %v", err)
	}
	t.Cleanup(func() { buffer.Close() })
	return buffer
}

// testLogin spins up a session against the given test server.
func testLogin(t *testing.T, serverURL string) *Session {
	t.Helper()
	client, err := NewClient(ClientConfig{HomeserverURL: serverURL})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	session, err := client.Login(context.Background(), "bridge", testBuffer(t, "pw"))
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	t.Cleanup(func() { session.Close() })
	return session
}

// loginHandler responds to the login endpoint with a fixed identity,
// delegating everything else to next.
func loginHandler(next http.HandlerFunc) http.HandlerFunc {
	return func(writer http.ResponseWriter, request *http.Request) {
		if request.URL.Path == "/_matrix/client/v3/login" {
			json.NewEncoder(writer).Encode(map[string]any{
				"user_id":      "@bridge:example.org",
				"access_token": "syt_test_token",
				"device_id":    "DEVICE",
			})
			return
		}
		next(writer, request)
	}
}

func TestNewClient(t *testing.T) {
	t.Run("valid URL", func(t *testing.T) {
		client, err := NewClient(ClientConfig{HomeserverURL: "http://localhost:8008"})
		if err != nil {
			t.Fatalf("NewClient failed: %v", err)
		}
		if client == nil {
			t.Fatal("NewClient returned nil")
		}
	})

	t.Run("empty URL", func(t *testing.T) {
		if _, err := NewClient(ClientConfig{}); err == nil {
			t.Fatal("expected error for empty URL")
		}
	})

	t.Run("invalid URL", func(t *testing.T) {
		if _, err := NewClient(ClientConfig{HomeserverURL: "://invalid"}); err == nil {
			t.Fatal("expected error for invalid URL")
		}
	})
}

func TestLogin(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			if request.URL.Path != "/_matrix/client/v3/login" {
				t.Errorf("unexpected path: %s", request.URL.Path)
				writer.WriteHeader(http.StatusNotFound)
				return
			}
			var body LoginRequest
			if err := json.NewDecoder(request.Body).Decode(&body); err != nil {
				t.Fatalf("decoding login body: %v", err)
			}
			if body.Type != "m.login.password" {
				t.Errorf("login type = %q", body.Type)
			}
			if body.User != "bridge" || body.Password != "pw" {
				t.Errorf("credentials = %q/%q", body.User, body.Password)
			}
			json.NewEncoder(writer).Encode(map[string]any{
				"user_id":      "@bridge:example.org",
				"access_token": "syt_test_token",
				"device_id":    "DEVICE",
			})
		}))
		defer server.Close()

		session := testLogin(t, server.URL)
		if got := session.UserID().String(); got != "@bridge:example.org" {
			t.Errorf("UserID() = %q", got)
		}
		if session.DeviceID() != "DEVICE" {
			t.Errorf("DeviceID() = %q", session.DeviceID())
		}
	})

	t.Run("forbidden surfaces MatrixError", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			writer.Header().Set("Content-Type", "application/json")
			writer.WriteHeader(http.StatusForbidden)
			json.NewEncoder(writer).Encode(map[string]any{
				"errcode": "M_FORBIDDEN",
				"error":   "Invalid password",
			})
		}))
		defer server.Close()

		client, err := NewClient(ClientConfig{HomeserverURL: server.URL})
		if err != nil {
			t.Fatalf("NewClient failed: %v", err)
		}
		_, err = client.Login(context.Background(), "bridge", testBuffer(t, "wrong"))
		if err == nil {
			t.Fatal("Login succeeded, want error")
		}
		if !IsMatrixError(err, ErrCodeForbidden) {
			t.Errorf("error = %v, want M_FORBIDDEN MatrixError", err)
		}
	})

	t.Run("missing credentials", func(t *testing.T) {
		client, err := NewClient(ClientConfig{HomeserverURL: "http://localhost:8008"})
		if err != nil {
			t.Fatalf("NewClient failed: %v", err)
		}
		if _, err := client.Login(context.Background(), "", testBuffer(t, "pw")); err == nil {
			t.Error("Login with empty username succeeded")
		}
		if _, err := client.Login(context.Background(), "bridge", nil); err == nil {
			t.Error("Login with nil password succeeded")
		}
	})
}

func TestSession_JoinRoom(t *testing.T) {
	server := httptest.NewServer(loginHandler(func(writer http.ResponseWriter, request *http.Request) {
		if !strings.HasPrefix(request.URL.Path, "/_matrix/client/v3/join/") {
			t.Errorf("unexpected path: %s", request.URL.Path)
			writer.WriteHeader(http.StatusNotFound)
			return
		}
		if got := request.Header.Get("Authorization"); got != "Bearer syt_test_token" {
			t.Errorf("Authorization = %q", got)
		}
		json.NewEncoder(writer).Encode(map[string]any{"room_id": "!room:example.org"})
	}))
	defer server.Close()

	session := testLogin(t, server.URL)
	roomID, err := session.JoinRoom(context.Background(), ref.MustParseRoomID("!room:example.org"))
	if err != nil {
		t.Fatalf("JoinRoom failed: %v", err)
	}
	if roomID.String() != "!room:example.org" {
		t.Errorf("JoinRoom() = %q", roomID)
	}
}

func TestSession_SendMessage(t *testing.T) {
	var paths []string
	server := httptest.NewServer(loginHandler(func(writer http.ResponseWriter, request *http.Request) {
		if request.Method != http.MethodPut {
			t.Errorf("method = %s, want PUT", request.Method)
		}
		paths = append(paths, request.URL.Path)
		var content MessageContent
		if err := json.NewDecoder(request.Body).Decode(&content); err != nil {
			t.Fatalf("decoding content: %v", err)
		}
		if content.MsgType != "m.text" || content.Body != "hello" {
			t.Errorf("content = %+v", content)
		}
		json.NewEncoder(writer).Encode(map[string]any{"event_id": "$sent1"})
	}))
	defer server.Close()

	session := testLogin(t, server.URL)
	roomID := ref.MustParseRoomID("!room:example.org")

	eventID, err := session.SendMessage(context.Background(), roomID, NewTextMessage("hello"))
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if eventID.String() != "$sent1" {
		t.Errorf("event ID = %q", eventID)
	}

	// A second send must use a distinct transaction ID.
	if _, err := session.SendMessage(context.Background(), roomID, NewTextMessage("hello")); err != nil {
		t.Fatalf("second SendMessage failed: %v", err)
	}
	if len(paths) != 2 || paths[0] == paths[1] {
		t.Errorf("transaction IDs not unique: %v", paths)
	}
}

func TestSession_Sync(t *testing.T) {
	server := httptest.NewServer(loginHandler(func(writer http.ResponseWriter, request *http.Request) {
		if request.URL.Path != "/_matrix/client/v3/sync" {
			t.Errorf("unexpected path: %s", request.URL.Path)
		}
		query := request.URL.Query()
		if query.Get("since") != "batch-1" {
			t.Errorf("since = %q", query.Get("since"))
		}
		if query.Get("timeout") != "30000" {
			t.Errorf("timeout = %q", query.Get("timeout"))
		}
		json.NewEncoder(writer).Encode(map[string]any{
			"next_batch": "batch-2",
			"rooms": map[string]any{
				"join": map[string]any{
					"!room:example.org": map[string]any{
						"timeline": map[string]any{
							"events": []map[string]any{
								{
									"event_id":         "$ev1",
									"type":             "m.room.message",
									"sender":           "@alice:example.org",
									"origin_server_ts": 1700000000000,
									"content":          map[string]any{"msgtype": "m.text", "body": "hi"},
								},
							},
						},
					},
				},
			},
		})
	}))
	defer server.Close()

	session := testLogin(t, server.URL)
	response, err := session.Sync(context.Background(), SyncOptions{
		Since:      "batch-1",
		Timeout:    30000,
		SetTimeout: true,
	})
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if response.NextBatch != "batch-2" {
		t.Errorf("NextBatch = %q", response.NextBatch)
	}

	room, ok := response.Rooms.Join[ref.MustParseRoomID("!room:example.org")]
	if !ok {
		t.Fatal("joined room missing from sync response")
	}
	if len(room.Timeline.Events) != 1 {
		t.Fatalf("timeline has %d events, want 1", len(room.Timeline.Events))
	}
	body, ok := room.Timeline.Events[0].MessageBody()
	if !ok || body != "hi" {
		t.Errorf("MessageBody() = %q, %v", body, ok)
	}
}

func TestSession_RoomMessages(t *testing.T) {
	server := httptest.NewServer(loginHandler(func(writer http.ResponseWriter, request *http.Request) {
		query := request.URL.Query()
		if query.Get("dir") != "b" {
			t.Errorf("dir = %q, want b", query.Get("dir"))
		}
		if query.Get("limit") != "50" {
			t.Errorf("limit = %q, want 50", query.Get("limit"))
		}
		json.NewEncoder(writer).Encode(map[string]any{
			"chunk": []map[string]any{
				{"event_id": "$ev2", "type": "m.room.message", "sender": "@alice:example.org",
					"content": map[string]any{"msgtype": "m.text", "body": "newer"}},
				{"event_id": "$ev1", "type": "m.room.message", "sender": "@bob:example.org",
					"content": map[string]any{"msgtype": "m.text", "body": "older"}},
			},
			"start": "s", "end": "e",
		})
	}))
	defer server.Close()

	session := testLogin(t, server.URL)
	response, err := session.RoomMessages(context.Background(), ref.MustParseRoomID("!room:example.org"),
		RoomMessagesOptions{Limit: 50})
	if err != nil {
		t.Fatalf("RoomMessages failed: %v", err)
	}
	if len(response.Chunk) != 2 {
		t.Fatalf("chunk has %d events, want 2", len(response.Chunk))
	}
	if body, _ := response.Chunk[0].MessageBody(); body != "newer" {
		t.Errorf("first chunk event body = %q, want newest-first order", body)
	}
}

func TestSession_Logout(t *testing.T) {
	var loggedOut bool
	server := httptest.NewServer(loginHandler(func(writer http.ResponseWriter, request *http.Request) {
		if request.URL.Path == "/_matrix/client/v3/logout" {
			loggedOut = true
			writer.Write([]byte("{}"))
			return
		}
		writer.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	session := testLogin(t, server.URL)
	if err := session.Logout(context.Background()); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}
	if !loggedOut {
		t.Error("logout endpoint was not called")
	}
}

func TestEvent_MessageBody(t *testing.T) {
	tests := []struct {
		name     string
		event    Event
		wantBody string
		wantOK   bool
	}{
		{
			name: "text message",
			event: Event{Type: "m.room.message",
				Content: map[string]any{"msgtype": "m.text", "body": "hello"}},
			wantBody: "hello", wantOK: true,
		},
		{
			name: "image message",
			event: Event{Type: "m.room.message",
				Content: map[string]any{"msgtype": "m.image", "body": "cat.png"}},
			wantOK: false,
		},
		{
			name:   "state event",
			event:  Event{Type: "m.room.member", Content: map[string]any{}},
			wantOK: false,
		},
		{
			name:   "missing body",
			event:  Event{Type: "m.room.message", Content: map[string]any{"msgtype": "m.text"}},
			wantOK: false,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			body, ok := test.event.MessageBody()
			if ok != test.wantOK || body != test.wantBody {
				t.Errorf("MessageBody() = %q, %v; want %q, %v", body, ok, test.wantBody, test.wantOK)
			}
		})
	}
}

func TestRoomMessageFilter(t *testing.T) {
	filter := RoomMessageFilter(ref.MustParseRoomID("!room:example.org"), 50)

	var decoded map[string]any
	if err := json.Unmarshal([]byte(filter), &decoded); err != nil {
		t.Fatalf("filter is not valid JSON: %v", err)
	}

	room := decoded["room"].(map[string]any)
	rooms := room["rooms"].([]any)
	if len(rooms) != 1 || rooms[0] != "!room:example.org" {
		t.Errorf("filter rooms = %v", rooms)
	}
	timeline := room["timeline"].(map[string]any)
	types := timeline["types"].([]any)
	if len(types) != 1 || types[0] != "m.room.message" {
		t.Errorf("timeline types = %v", types)
	}
	if timeline["limit"].(float64) != 50 {
		t.Errorf("timeline limit = %v", timeline["limit"])
	}
}
