package protocol

import "time"

// SessionOutcome is broadcast once a synthesis request has finished and its
// artifacts have been released.
type SessionOutcome struct {
	SessionID  string    `json:"session_id"`
	Mode       string    `json:"mode"`
	Chunks     int       `json:"chunks"`
	Completed  bool      `json:"completed"`
	Category   string    `json:"category,omitempty"`
	Error      string    `json:"error,omitempty"`
	AudioBytes int       `json:"audio_bytes,omitempty"`
	DurationMS int64     `json:"duration_ms"`
	Timestamp  time.Time `json:"timestamp"`
}

const (
	SubjectSessionCompleted = "tts.session.completed"
	SubjectSessionFailed    = "tts.session.failed"
)

// SubjectFor picks the subject an outcome is published on.
func SubjectFor(outcome SessionOutcome) string {
	if outcome.Completed {
		return SubjectSessionCompleted
	}
	return SubjectSessionFailed
}
