package webmonitor

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/seesafe/seesafe-agent/internal/eventcodec"
	"github.com/seesafe/seesafe-agent/internal/logger"
)

// sseStream is one open text/event-stream response
type sseStream struct {
	w http.ResponseWriter
	f http.Flusher
}

// openSSE writes the stream headers; contentFormat goes to X-Content-Format
// when set. It fails with a 500 when w cannot flush.
func openSSE(w http.ResponseWriter, contentFormat string) (*sseStream, bool) {
	f, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return nil, false
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	if contentFormat != "" {
		h.Set("X-Content-Format", contentFormat)
	}
	w.WriteHeader(http.StatusOK)
	f.Flush()
	return &sseStream{w: w, f: f}, true
}

func (s *sseStream) data(payload string) error {
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", payload); err != nil {
		return err
	}
	s.f.Flush()
	return nil
}

func (s *sseStream) json(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.data(string(b))
}

func (s *sseStream) keepAlive() error {
	if _, err := fmt.Fprint(s.w, ": keepalive\n\n"); err != nil {
		return err
	}
	s.f.Flush()
	return nil
}

// streamEvents relays pre-serialized obstacle events until the channel is
// closed or the client leaves. Protobuf payloads are sent base64 encoded.
// A comment line is written after keepAlive of silence.
func streamEvents(w http.ResponseWriter, r *http.Request, events <-chan *eventcodec.Serialized, format eventcodec.Format, keepAlive time.Duration) {
	contentFormat := "application/json"
	if format == eventcodec.FormatProtobuf {
		contentFormat = "application/protobuf"
	}
	stream, ok := openSSE(w, contentFormat)
	if !ok {
		return
	}

	idle := time.NewTimer(keepAlive)
	defer idle.Stop()

	for {
		var err error
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-events:
			if !open {
				return
			}
			payload := ev.JSON
			if format == eventcodec.FormatProtobuf {
				payload = ev.Base64()
			}
			err = stream.data(string(payload))
		case <-idle.C:
			err = stream.keepAlive()
		}
		if err != nil {
			logger.Debug("Monitor", "Stream client gone: %v", err)
			return
		}
		if !idle.Stop() {
			select {
			case <-idle.C:
			default:
			}
		}
		idle.Reset(keepAlive)
	}
}
