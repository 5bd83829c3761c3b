package schema

import "testing"

type joinRoomPayload struct {
	RoomID string `json:"roomId" validate:"required"`
}

type userJoinedPayload struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
}

func TestSafeParseAcceptsValidPayload(t *testing.T) {
	resp := New[userJoinedPayload]("USER_JOINED")
	def := New[joinRoomPayload]("JOIN_ROOM", WithResponse(resp))

	result := def.SafeParse(map[string]any{
		"type": "JOIN_ROOM",
		"meta": map[string]any{"timestamp": 1},
		"payload": map[string]any{
			"roomId": "general",
		},
	})
	if !result.OK {
		t.Fatalf("expected ok, got issues: %+v", result.Issues)
	}
	payload, ok := result.Payload.(joinRoomPayload)
	if !ok || payload.RoomID != "general" {
		t.Fatalf("expected decoded payload, got %+v", result.Payload)
	}
}

func TestSafeParseRejectsWrongType(t *testing.T) {
	def := New[joinRoomPayload]("JOIN_ROOM")
	result := def.SafeParse(map[string]any{
		"type":    "WRONG_TYPE",
		"meta":    map[string]any{},
		"payload": map[string]any{"roomId": "general"},
	})
	if result.OK {
		t.Fatal("expected type mismatch to fail")
	}
}

func TestSafeParseRejectsMissingRequiredField(t *testing.T) {
	def := New[joinRoomPayload]("JOIN_ROOM")
	result := def.SafeParse(map[string]any{
		"type":    "JOIN_ROOM",
		"meta":    map[string]any{},
		"payload": map[string]any{},
	})
	if result.OK {
		t.Fatal("expected missing required field to fail validation")
	}
	if len(result.Issues) == 0 {
		t.Fatal("expected at least one issue")
	}
}

// Schemas MUST reject unknown keys at every level (spec §3).
func TestSafeParseRejectsUnknownPayloadKeys(t *testing.T) {
	def := New[joinRoomPayload]("JOIN_ROOM")
	result := def.SafeParse(map[string]any{
		"type": "JOIN_ROOM",
		"meta": map[string]any{},
		"payload": map[string]any{
			"roomId":      "general",
			"unknownKey": "sneaky",
		},
	})
	if result.OK {
		t.Fatal("expected unknown payload key to be rejected")
	}
}

func TestResponseDescriptorIsCarried(t *testing.T) {
	resp := New[userJoinedPayload]("USER_JOINED")
	def := New[joinRoomPayload]("JOIN_ROOM", WithResponse(resp))
	if def.Response() == nil {
		t.Fatal("expected response descriptor to be set")
	}
	if def.Response().Type() != "USER_JOINED" {
		t.Fatalf("expected response type USER_JOINED, got %s", def.Response().Type())
	}
}

func TestValidateOutgoingDefaultsTrue(t *testing.T) {
	def := New[joinRoomPayload]("JOIN_ROOM")
	if !def.ValidateOutgoing() {
		t.Fatal("expected validateOutgoing to default to true")
	}
	def2 := New[joinRoomPayload]("JOIN_ROOM", WithValidateOutgoing(false))
	if def2.ValidateOutgoing() {
		t.Fatal("expected validateOutgoing(false) to be honored")
	}
}
