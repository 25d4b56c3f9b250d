package pipeline

import (
	"context"
	"sync"

	"github.com/seesafe/seesafe-agent/internal/logger"
)

const (
	MessageNearby = "Warning! Nearby object detected!"
	MessageClear  = "No nearby objects."
)

// Speaker renders a warning message to the user (text-to-speech, haptics)
type Speaker interface {
	Speak(ctx context.Context, message string) error
}

// LogSpeaker writes messages to the log; used when no speech device is present
type LogSpeaker struct{}

func (LogSpeaker) Speak(_ context.Context, message string) error {
	logger.Info("Speaker", "%s", message)
	return nil
}

// Announcer speaks the obstacle signal only when it changes
type Announcer struct {
	speaker Speaker

	mu   sync.Mutex
	prev string
}

// NewAnnouncer uses LogSpeaker when speaker is nil
func NewAnnouncer(speaker Speaker) *Announcer {
	if speaker == nil {
		speaker = LogSpeaker{}
	}
	return &Announcer{speaker: speaker}
}

// Announce returns the message spoken, or "" when the signal is unchanged
func (a *Announcer) Announce(ctx context.Context, nearby bool) string {
	msg := MessageClear
	if nearby {
		msg = MessageNearby
	}

	a.mu.Lock()
	if msg == a.prev {
		a.mu.Unlock()
		return ""
	}
	a.prev = msg
	a.mu.Unlock()

	if err := a.speaker.Speak(ctx, msg); err != nil {
		logger.Warn("Pipeline", "Speaker failed: %v", err)
	}
	return msg
}

// Reset forgets the last message so the next signal is spoken again
func (a *Announcer) Reset() {
	a.mu.Lock()
	a.prev = ""
	a.mu.Unlock()
}
