// Package broadcast fans transcript and verdict events out to connected
// viewers over independent per-session queues.
package broadcast

import (
	"encoding/json"
	"time"

	"github.com/ppiankov/uhmm/internal/model"
)

// EventType is the "type" field of the wire envelope
type EventType string

const (
	TypeConnection EventType = "connection"
	TypeTranscript EventType = "transcript"
	TypeVerdict    EventType = "verdict"
	TypePong       EventType = "pong"
)

// ConnectedMessage is sent in the acknowledgment every new viewer receives
const ConnectedMessage = "Successfully connected to fact-checker backend"

// Event is one of TranscriptEvent, VerdictEvent, ConnectionEvent or PongEvent
type Event interface {
	Type() EventType
	At() time.Time
	data() any
}

// TranscriptEvent carries speech text as it arrives
type TranscriptEvent struct {
	Text      string
	Speaker   string
	IsFinal   bool
	Timestamp time.Time
}

// VerdictEvent carries the verdict for one claim and the sentence it came from
type VerdictEvent struct {
	Transcript string
	Speaker    string
	Verdict    model.Verdict
	Timestamp  time.Time
}

// ConnectionEvent reports connection lifecycle to a single viewer
type ConnectionEvent struct {
	Action    string
	Message   string
	Timestamp time.Time
}

// PongEvent answers a viewer ping
type PongEvent struct {
	Timestamp time.Time
}

func (e TranscriptEvent) Type() EventType { return TypeTranscript }
func (e VerdictEvent) Type() EventType    { return TypeVerdict }
func (e ConnectionEvent) Type() EventType { return TypeConnection }
func (e PongEvent) Type() EventType       { return TypePong }

func (e TranscriptEvent) At() time.Time { return e.Timestamp }
func (e VerdictEvent) At() time.Time    { return e.Timestamp }
func (e ConnectionEvent) At() time.Time { return e.Timestamp }
func (e PongEvent) At() time.Time       { return e.Timestamp }

type transcriptData struct {
	Text    string `json:"text"`
	Speaker string `json:"speaker,omitempty"`
	IsFinal bool   `json:"is_final"`
}

type verdictData struct {
	Transcript  string       `json:"transcript"`
	Claim       string       `json:"claim"`
	Status      model.Status `json:"status"`
	Confidence  float64      `json:"confidence"`
	Rationale   string       `json:"rationale"`
	EvidenceURL string       `json:"evidence_url,omitempty"`
	Speaker     string       `json:"speaker,omitempty"`
}

type connectionData struct {
	Action  string `json:"action"`
	Message string `json:"message"`
}

func (e TranscriptEvent) data() any {
	return transcriptData{Text: e.Text, Speaker: e.Speaker, IsFinal: e.IsFinal}
}

func (e VerdictEvent) data() any {
	return verdictData{
		Transcript:  e.Transcript,
		Claim:       e.Verdict.ClaimText,
		Status:      e.Verdict.Status,
		Confidence:  e.Verdict.Confidence,
		Rationale:   e.Verdict.Rationale,
		EvidenceURL: e.Verdict.EvidenceURL,
		Speaker:     e.Speaker,
	}
}

func (e ConnectionEvent) data() any {
	return connectionData{Action: e.Action, Message: e.Message}
}

func (e PongEvent) data() any { return nil }

// Connected builds the acknowledgment sent on subscribe
func Connected(at time.Time) ConnectionEvent {
	return ConnectionEvent{Action: "connected", Message: ConnectedMessage, Timestamp: at}
}

type envelope struct {
	Type      EventType `json:"type"`
	Timestamp string    `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
}

// Encode renders an event in the wire format:
// {"type": ..., "timestamp": RFC3339Nano, "data": {...}}
func Encode(e Event) ([]byte, error) {
	at := e.At()
	if at.IsZero() {
		at = time.Now()
	}
	return json.Marshal(envelope{
		Type:      e.Type(),
		Timestamp: at.UTC().Format(time.RFC3339Nano),
		Data:      e.data(),
	})
}
