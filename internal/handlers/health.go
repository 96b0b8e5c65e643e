package handlers

import (
	"log/slog"
	"net/http"
)

// HandleHealthRetry restarts the availability checks after the backend was declared offline,
// tearing down the previous polling session first. The response carries the refreshed status
// banner so the page can swap it in without waiting for the next SSE update.
func (m Main) HandleHealthRetry(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		m.logger.Error("Method not allowed", slog.String("method", r.Method))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	m.monitor.Retry()

	snap := m.monitor.Snapshot()
	err := m.templates.ExecuteTemplate(w, "status_banner", statusBanner{
		Status:  string(snap.Status),
		Elapsed: snap.Elapsed,
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
}
