package elevenlabs

import (
	"encoding/base64"
	"encoding/json"
	"testing"
)

// ---- upstream message shapes ----

func TestUserAudioMessage_Shape(t *testing.T) {
	pcm := []byte{0x01, 0x02, 0x03, 0x04}
	data, err := json.Marshal(userAudioMessage{UserAudioChunk: base64.StdEncoding.EncodeToString(pcm)})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	encoded, ok := raw["user_audio_chunk"]
	if !ok {
		t.Fatal("expected 'user_audio_chunk' field")
	}
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(decoded) != string(pcm) {
		t.Errorf("round-trip mismatch: got %v, want %v", decoded, pcm)
	}
}

func TestPongMessage_Shape(t *testing.T) {
	data, err := json.Marshal(pongMessage{Type: "pong", EventID: 17})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if string(raw["type"]) != `"pong"` {
		t.Errorf("expected type 'pong', got %s", raw["type"])
	}
	if string(raw["event_id"]) != "17" {
		t.Errorf("expected event_id 17, got %s", raw["event_id"])
	}
}

// ---- server event parsing ----

func TestServerEvent_Audio(t *testing.T) {
	msg := []byte(`{"type":"audio","audio_event":{"audio_base_64":"` +
		base64.StdEncoding.EncodeToString([]byte("pcmdata")) + `","event_id":3}}`)

	var evt serverEvent
	if err := json.Unmarshal(msg, &evt); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if evt.Type != "audio" {
		t.Errorf("expected type 'audio', got %q", evt.Type)
	}
	if evt.AudioEvent == nil {
		t.Fatal("expected audio_event payload")
	}
	pcm, err := base64.StdEncoding.DecodeString(evt.AudioEvent.AudioBase64)
	if err != nil {
		t.Fatalf("decode audio: %v", err)
	}
	if string(pcm) != "pcmdata" {
		t.Errorf("expected 'pcmdata', got %q", pcm)
	}
	if evt.AudioEvent.EventID != 3 {
		t.Errorf("expected event_id 3, got %d", evt.AudioEvent.EventID)
	}
}

func TestServerEvent_Ping(t *testing.T) {
	var evt serverEvent
	if err := json.Unmarshal([]byte(`{"type":"ping","ping_event":{"event_id":9}}`), &evt); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if evt.Type != "ping" || evt.PingEvent == nil || evt.PingEvent.EventID != 9 {
		t.Errorf("unexpected ping event: %+v", evt)
	}
}

func TestServerEvent_Transcripts(t *testing.T) {
	var evt serverEvent
	if err := json.Unmarshal([]byte(`{"type":"agent_response","agent_response_event":{"agent_response":"Hi there"}}`), &evt); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if evt.AgentResponseEvent == nil || evt.AgentResponseEvent.AgentResponse != "Hi there" {
		t.Errorf("unexpected agent_response event: %+v", evt)
	}

	evt = serverEvent{}
	if err := json.Unmarshal([]byte(`{"type":"user_transcript","user_transcription_event":{"user_transcript":"hello"}}`), &evt); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if evt.UserTranscriptionEvent == nil || evt.UserTranscriptionEvent.UserTranscript != "hello" {
		t.Errorf("unexpected user_transcript event: %+v", evt)
	}
}

func TestServerEvent_UnknownTypeIgnored(t *testing.T) {
	var evt serverEvent
	if err := json.Unmarshal([]byte(`{"type":"conversation_initiation_metadata","conversation_initiation_metadata_event":{}}`), &evt); err != nil {
		t.Fatalf("unknown event types must still parse: %v", err)
	}
	if evt.AudioEvent != nil || evt.PingEvent != nil {
		t.Error("unknown event must not populate other payloads")
	}
}
