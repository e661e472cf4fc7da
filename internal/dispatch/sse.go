package dispatch

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/harunnryd/kokoro/internal/emotion"
	"github.com/harunnryd/kokoro/internal/form"
	"github.com/harunnryd/kokoro/internal/graph"
)

// sseWriter emits id-event-data frames with a per-turn monotonic id.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	nextID  int
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	return &sseWriter{w: w, flusher: flusher}, true
}

// frame is the data payload of one event: a typed envelope around the
// node-level value. Frames tied to an external step carry its actionID.
type frame struct {
	Type     string  `json:"type"`
	Payload  any     `json:"payload,omitempty"`
	ActionID *string `json:"actionID,omitempty"`
}

// envelope shapes one graph event into its wire frame.
func envelope(ev graph.Event, id int) frame {
	switch ev.Type {
	case graph.EventText:
		empty := ""
		return frame{
			Type: "text",
			Payload: map[string]any{
				"content": fmt.Sprintf("%v", ev.Data),
				"meta":    map[string]any{"id": id},
			},
			ActionID: &empty,
		}

	case graph.EventEmotion:
		if st, ok := ev.Data.(emotion.State); ok {
			return frame{Type: "emotion", Payload: map[string]any{
				"primary":    st.Primary,
				"confidence": st.Confidence,
			}}
		}
		return frame{Type: "emotion", Payload: ev.Data}

	case graph.EventHITL:
		f := frame{Type: "hitl", Payload: ev.Data}
		if req, ok := ev.Data.(*form.Request); ok && req != nil {
			f.ActionID = &req.ID
		}
		return f

	case graph.EventStatus:
		return frame{Type: "statusText", Payload: ev.Data}

	case graph.EventError:
		return frame{Type: "error", Payload: map[string]any{
			"message": fmt.Sprintf("%v", ev.Data),
		}}

	case graph.EventDone:
		return frame{Type: "done"}
	}
	return frame{Type: string(ev.Type), Payload: ev.Data}
}

// event writes one frame. Unserializable payloads degrade to their string
// form rather than breaking the stream.
func (s *sseWriter) event(ev graph.Event) {
	data, err := json.Marshal(envelope(ev, s.nextID))
	if err != nil {
		data, _ = json.Marshal(frame{Type: string(ev.Type), Payload: fmt.Sprintf("%v", ev.Data)})
	}
	fmt.Fprintf(s.w, "id: %d\nevent: %s\ndata: %s\n\n", s.nextID, ev.Type, data)
	s.nextID++
	s.flusher.Flush()
}

// terminate writes the closing sentinel frame.
func (s *sseWriter) terminate() {
	fmt.Fprintf(s.w, "data: [DONE]\n\n")
	s.flusher.Flush()
}
