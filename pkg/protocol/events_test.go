package protocol

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestEncodeSetsDiscriminant(t *testing.T) {
	tests := []struct {
		name string
		ev   Event
		want MessageType
	}{
		{"transcription", TranscriptionUpdate{RequestID: "r1"}, TypeTranscriptionUpdate},
		{"ai response", AIResponse{RequestID: "r1"}, TypeAIResponse},
		{"error", ErrorEvent{RequestID: "r1"}, TypeError},
		{"connected", Connected{SessionID: "s1"}, TypeConnected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := Encode(tt.ev)
			if err != nil {
				t.Fatalf("Encode() error = %v", err)
			}
			var head map[string]any
			if err := json.Unmarshal(data, &head); err != nil {
				t.Fatalf("invalid JSON: %v", err)
			}
			if head["type"] != string(tt.want) {
				t.Errorf("type = %v, want %s", head["type"], tt.want)
			}
		})
	}
}

func TestEncodeNil(t *testing.T) {
	if _, err := Encode(nil); err == nil {
		t.Error("expected error for nil event")
	}
}

func TestEventJSONShape(t *testing.T) {
	ev := NewAIResponse("c1", "r1", "hi there", "https://example.com/a", 42)
	data, err := Encode(ev)
	if err != nil {
		t.Fatal(err)
	}

	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"type", "requestId", "conversationId", "response", "audioUrl", "timestamp"} {
		if _, ok := fields[key]; !ok {
			t.Errorf("missing field %q in %s", key, data)
		}
	}
}

func TestParseEvent(t *testing.T) {
	t.Run("transcription update", func(t *testing.T) {
		data, _ := Encode(NewTranscriptionUpdate("c1", "r1", "hello world", 10))
		ev, err := ParseEvent(data)
		if err != nil {
			t.Fatalf("ParseEvent() error = %v", err)
		}
		got, ok := ev.(TranscriptionUpdate)
		if !ok {
			t.Fatalf("got %T, want TranscriptionUpdate", ev)
		}
		if got.Transcript != "hello world" || got.EventRequestID() != "r1" {
			t.Errorf("unexpected event: %+v", got)
		}
	})

	t.Run("error event", func(t *testing.T) {
		data, _ := Encode(NewErrorEvent("c1", "r1", "boom", 10))
		ev, err := ParseEvent(data)
		if err != nil {
			t.Fatalf("ParseEvent() error = %v", err)
		}
		if ev.EventType() != TypeError {
			t.Errorf("type = %s", ev.EventType())
		}
	})

	t.Run("unknown type", func(t *testing.T) {
		_, err := ParseEvent([]byte(`{"type":"SOMETHING"}`))
		if !errors.Is(err, ErrUnknownType) {
			t.Errorf("expected ErrUnknownType, got %v", err)
		}
	})

	t.Run("invalid json", func(t *testing.T) {
		if _, err := ParseEvent([]byte(`{`)); err == nil {
			t.Error("expected error")
		}
	})
}

func TestPayloadConstructors(t *testing.T) {
	sa := NewSubmitAudio("c1", "u1", "s1", "r1", "input/u1/c1/r1.audio", 5)
	if sa.Type != TypeSubmitAudio || sa.AudioRef == "" {
		t.Errorf("unexpected payload: %+v", sa)
	}
	gr := NewGenerateResponse("c1", "u1", "r1", "hello", 6)
	if gr.Type != TypeGenerateResponse || gr.Transcript != "hello" {
		t.Errorf("unexpected payload: %+v", gr)
	}
}
