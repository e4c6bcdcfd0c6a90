// Package audit emits structured JSON audit events for decisions and system
// activity. Events go to a configurable writer so tests and custom sinks can
// capture them.
package audit

import (
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType categorizes an audit event.
type EventType string

const (
	EventDecision EventType = "DECISION"
	EventDegraded EventType = "DEGRADED"
	EventSystem   EventType = "SYSTEM"
)

// Event is one structured audit record.
type Event struct {
	ID         string         `json:"id"`
	TenantKey  string         `json:"tenant_key"`
	Type       EventType      `json:"type"`
	DecisionID string         `json:"decision_id,omitempty"`
	Verdict    string         `json:"verdict,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Logger records audit events.
type Logger interface {
	Record(tenantKey string, eventType EventType, decisionID, verdict string, metadata map[string]any)
}

type logger struct {
	mu     sync.Mutex
	writer io.Writer
}

// NewLogger creates a Logger writing to os.Stdout.
func NewLogger() Logger {
	return NewLoggerWithWriter(os.Stdout)
}

// NewLoggerWithWriter creates a Logger writing to the given writer.
func NewLoggerWithWriter(w io.Writer) Logger {
	if w == nil {
		w = os.Stdout
	}
	return &logger{writer: w}
}

func (l *logger) Record(tenantKey string, eventType EventType, decisionID, verdict string, metadata map[string]any) {
	event := Event{
		ID:         uuid.NewString(),
		TenantKey:  tenantKey,
		Type:       eventType,
		DecisionID: decisionID,
		Verdict:    verdict,
		Timestamp:  time.Now().UTC(),
		Metadata:   metadata,
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	bytes, err := json.Marshal(event)
	if err != nil {
		return
	}
	// Prefix with AUDIT: for easy filtering
	_, _ = l.writer.Write(append([]byte("AUDIT: "), append(bytes, '\n')...))
}

// Nop discards all events.
func Nop() Logger { return nopLogger{} }

type nopLogger struct{}

func (nopLogger) Record(string, EventType, string, string, map[string]any) {}
