package models

import (
	"encoding/json"
	"testing"
	"time"
)

// ============ Mode ============

func TestParseMode(t *testing.T) {
	tests := []struct {
		input   string
		want    Mode
		wantErr bool
	}{
		{"local", ModeLocal, false},
		{"", ModeLocal, false},
		{"  Paper ", ModePaper, false},
		{"LIVE", ModeLive, false},
		{"demo", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseMode(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseMode(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseMode(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestMode_Requirements(t *testing.T) {
	tests := []struct {
		mode        Mode
		wantStream  bool
		wantSession bool
	}{
		{ModeLocal, false, false},
		{ModePaper, true, true},
		{ModeLive, true, true},
	}

	for _, tt := range tests {
		if got := tt.mode.RequiresStream(); got != tt.wantStream {
			t.Errorf("%s.RequiresStream() = %v, want %v", tt.mode, got, tt.wantStream)
		}
		if got := tt.mode.RequiresSession(); got != tt.wantSession {
			t.Errorf("%s.RequiresSession() = %v, want %v", tt.mode, got, tt.wantSession)
		}
	}
}

// ============ Events ============

func TestIsKnownEventType(t *testing.T) {
	for _, et := range KnownEventTypes {
		if !IsKnownEventType(et) {
			t.Errorf("IsKnownEventType(%q) = false", et)
		}
	}
	if !IsKnownEventType(EventMessage) {
		t.Error("catch-all message type should be known")
	}
	for _, et := range []string{"", "BotStatus", "tradeUpdate"} {
		if IsKnownEventType(et) {
			t.Errorf("IsKnownEventType(%q) = true", et)
		}
	}
}

func TestStreamEvent_JSON(t *testing.T) {
	ev := StreamEvent{
		ID:        "01HZX3K9T1",
		Type:      EventBotStatus,
		Data:      json.RawMessage(`{"bot_id":"bot-1","status":"running"}`),
		CreatedAt: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	raw, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}
	data, ok := decoded["data"].(map[string]interface{})
	if !ok {
		t.Fatalf("data should stay a JSON object, got %T", decoded["data"])
	}
	if data["bot_id"] != "bot-1" {
		t.Errorf("data.bot_id = %v", data["bot_id"])
	}
}
