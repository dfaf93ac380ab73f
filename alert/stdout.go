package alert

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"
)

// Stdout writes alerts as JSON lines, one per alert.
type Stdout struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewStdout creates a Stdout sink. If w is nil, os.Stdout is used.
func NewStdout(w io.Writer) *Stdout {
	if w == nil {
		w = os.Stdout
	}
	return &Stdout{enc: json.NewEncoder(w)}
}

func (s *Stdout) Send(_ context.Context, a Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enc.Encode(line{Type: "alert", Severity: SeverityOf(a.Label), Alert: a})
}

func (s *Stdout) Close() error { return nil }

// line is one Stdout record.
type line struct {
	Type     string   `json:"type"`
	Severity Severity `json:"severity"`
	Alert    Alert    `json:"alert"`
}
