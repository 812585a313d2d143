package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// streamLogs streams newly appended log entries as SSE. Clients may filter
// by level via ?levels=info,error query parameter.
func (s *Server) streamLogs(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	var levelFilter map[string]bool
	if q := r.URL.Query().Get("levels"); q != "" {
		levelFilter = make(map[string]bool)
		for _, lv := range strings.Split(q, ",") {
			if lv = strings.TrimSpace(lv); lv != "" {
				levelFilter[strings.ToLower(lv)] = true
			}
		}
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	flusher.Flush()

	id, ch := s.broker.Subscribe()
	defer s.broker.Unsubscribe(id)

	for {
		select {
		case <-r.Context().Done():
			return
		case entry, ok := <-ch:
			if !ok {
				return
			}
			if levelFilter != nil && !levelFilter[strings.ToLower(entry.Level)] {
				continue
			}
			payload, err := json.Marshal(entry)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: log\ndata: %s\n\n", payload)
			flusher.Flush()
		}
	}
}
