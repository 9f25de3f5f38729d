package agent

import (
	"testing"

	"cloud.google.com/go/dialogflow/apiv2/dialogflowpb"
	"github.com/dollyzn/whaticket-cero/internal/domain"
	"google.golang.org/protobuf/types/known/structpb"
)

func textMessage(s string) *dialogflowpb.Intent_Message {
	return &dialogflowpb.Intent_Message{
		Message: &dialogflowpb.Intent_Message_Text_{
			Text: &dialogflowpb.Intent_Message_Text{Text: []string{s}},
		},
	}
}

func mustStruct(t *testing.T, m map[string]interface{}) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(m)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestParseResponseEmpty(t *testing.T) {
	if r := ParseResponse(&dialogflowpb.DetectIntentResponse{}); r != nil {
		t.Errorf("empty response = %+v, want nil", r)
	}
	if r := ParseResponse(nil); r != nil {
		t.Errorf("nil response = %+v, want nil", r)
	}
}

func TestParseResponseSegmentsAndDirectives(t *testing.T) {
	resp := &dialogflowpb.DetectIntentResponse{
		QueryResult: &dialogflowpb.QueryResult{
			FulfillmentMessages: []*dialogflowpb.Intent_Message{
				textMessage("Olá!"),
				{},
				textMessage("Como posso ajudar?"),
			},
			DiagnosticInfo: mustStruct(t, map[string]interface{}{"end_conversation": true}),
			Parameters: mustStruct(t, map[string]interface{}{
				"image":   "https://example.com/a.png",
				"react":   "👍",
				"button1": "Agendar",
				"button2": "Preços",
				"button4": "ignored",
				"option1": "Matriz",
			}),
		},
		OutputAudio: []byte("OggS"),
	}

	r := ParseResponse(resp)
	if r == nil {
		t.Fatal("reply is nil")
	}
	if len(r.Segments) != 2 || r.Segments[1] != "Como posso ajudar?" {
		t.Errorf("segments = %q", r.Segments)
	}
	if !r.EndConversation {
		t.Error("end_conversation not read")
	}
	d := r.Directives
	if d.ImageURL != "https://example.com/a.png" || d.Reaction != "👍" {
		t.Errorf("directives = %+v", d)
	}
	if len(d.Buttons) != 2 || d.Buttons[0] != "Agendar" || d.Buttons[1] != "Preços" {
		t.Errorf("buttons = %q", d.Buttons)
	}
	if len(d.List) != 1 || !d.Interactive() {
		t.Errorf("list = %q", d.List)
	}
	if string(d.Audio) != "OggS" {
		t.Errorf("audio = %q", d.Audio)
	}
	if d.Booking != nil {
		t.Errorf("unexpected booking %+v", d.Booking)
	}
}

func TestParseResponseBooking(t *testing.T) {
	resp := &dialogflowpb.DetectIntentResponse{
		QueryResult: &dialogflowpb.QueryResult{
			FulfillmentMessages: []*dialogflowpb.Intent_Message{textMessage("Um momento")},
			Parameters: mustStruct(t, map[string]interface{}{
				"booking":   BookingCreate,
				"unity":     "unit-1",
				"service":   "svc-1",
				"name":      "Maria",
				"email":     "maria@example.com",
				"start":     "2024-03-05T15:30:00-03:00",
				"previous":  "2024-03-06T12:00:00-03:00",
				"unityName": "Matriz",
			}),
		},
	}
	b := ParseResponse(resp).Directives.Booking
	if b == nil {
		t.Fatal("booking missing")
	}
	want := BookingIntent{BookingCreate, "unit-1", "svc-1", "Maria", "maria@example.com", "2024-03-05T15:30:00-03:00", "2024-03-06T12:00:00-03:00", "Matriz"}
	if *b != want {
		t.Errorf("booking = %+v, want %+v", *b, want)
	}
}

func TestBuildRequest(t *testing.T) {
	a := &domain.Agent{ProjectName: "cero-bot"}

	req := buildRequest(a, Query{SessionID: "5511999990000", Text: "oi"})
	if req.Session != "projects/cero-bot/agent/sessions/5511999990000" {
		t.Errorf("session = %s", req.Session)
	}
	text := req.GetQueryInput().GetText()
	if text.GetText() != "oi" || text.GetLanguageCode() != "pt-BR" {
		t.Errorf("text input = %+v", text)
	}

	a.Language = "en"
	req = buildRequest(a, Query{SessionID: "s", Text: "ignored", Audio: []byte{1, 2}})
	audio := req.GetQueryInput().GetAudioConfig()
	if audio.GetAudioEncoding() != dialogflowpb.AudioEncoding_AUDIO_ENCODING_OGG_OPUS || audio.GetSampleRateHertz() != 16000 || audio.GetLanguageCode() != "en" {
		t.Errorf("audio config = %+v", audio)
	}
	if len(req.InputAudio) != 2 {
		t.Errorf("input audio = %v", req.InputAudio)
	}
}

func TestIsReaction(t *testing.T) {
	for s, want := range map[string]bool{
		"👍":  true,
		"❤":  true,
		"©":  true,
		"ok": false,
		"":   false,
	} {
		if got := IsReaction(s); got != want {
			t.Errorf("IsReaction(%q) = %v, want %v", s, got, want)
		}
	}
}
