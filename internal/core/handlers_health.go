package core

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"
	"time"

	"saloncore/internal/queue"
	"saloncore/internal/senders"
	"saloncore/internal/tenant"
	"saloncore/internal/types"
)

// monitoredQueues are the streams reported by the queue health and metrics
// endpoints.
func monitoredQueues() []string {
	names := []string{types.QueueTx, types.QueueMk}
	for _, ch := range senders.Channels {
		names = append(names, types.SendQueue(ch))
	}
	return names
}

// requireHealthToken gates the operational endpoints when a health token is
// configured. The token may come from the usual auth headers or a token
// query parameter for scrapers that cannot set headers.
func (s *Server) requireHealthToken(w http.ResponseWriter, r *http.Request) bool {
	expected := s.Config.Security.HealthToken.Unmask()
	if expected == "" {
		return true
	}
	token := tenant.ExtractToken(r)
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(expected)) != 1 {
		Error(w, r, types.NewAppError(types.ErrCodeAuthTokenInvalid, "invalid health token", nil))
		return false
	}
	return true
}

// HandleHealth reports liveness plus Redis reachability.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if !s.requireHealthToken(w, r) {
		return
	}
	redisStatus := "up"
	if err := s.Redis.Ping(r.Context()).Err(); err != nil {
		redisStatus = "down"
	}
	status := http.StatusOK
	if redisStatus == "down" {
		status = http.StatusServiceUnavailable
	}
	JSON(w, r, status, map[string]any{
		"ok":          redisStatus == "up",
		"service":     s.Config.Service,
		"environment": s.Config.Environment,
		"redis":       redisStatus,
		"time":        time.Now().UTC().Format(time.RFC3339),
	})
}

// HandleHealthQueues reports depth, pending, and dead-letter counts for
// every monitored queue plus the reminder backlog.
func (s *Server) HandleHealthQueues(w http.ResponseWriter, r *http.Request) {
	if !s.requireHealthToken(w, r) {
		return
	}
	stats := make([]queue.Stats, 0, len(monitoredQueues()))
	for _, name := range monitoredQueues() {
		st, err := s.Queue.Stats(r.Context(), name)
		if err != nil {
			Error(w, r, err)
			return
		}
		stats = append(stats, st)
	}
	reminderCount, err := s.Scheduler.PendingCount(r.Context())
	if err != nil {
		Error(w, r, err)
		return
	}
	JSON(w, r, http.StatusOK, map[string]any{
		"queues":    stats,
		"reminders": map[string]any{"pending": reminderCount},
	})
}

// HandleHealthMetrics exposes queue depths in Prometheus text format.
func (s *Server) HandleHealthMetrics(w http.ResponseWriter, r *http.Request) {
	if !s.requireHealthToken(w, r) {
		return
	}
	var b strings.Builder
	b.WriteString("# TYPE salon_queue_length gauge\n")
	b.WriteString("# TYPE salon_queue_pending gauge\n")
	b.WriteString("# TYPE salon_queue_dead gauge\n")
	for _, name := range monitoredQueues() {
		st, err := s.Queue.Stats(r.Context(), name)
		if err != nil {
			Error(w, r, err)
			return
		}
		fmt.Fprintf(&b, "salon_queue_length{queue=%q} %d\n", st.Queue, st.Length)
		fmt.Fprintf(&b, "salon_queue_pending{queue=%q} %d\n", st.Queue, st.Pending)
		fmt.Fprintf(&b, "salon_queue_dead{queue=%q} %d\n", st.Queue, st.Dead)
	}
	reminderCount, err := s.Scheduler.PendingCount(r.Context())
	if err != nil {
		Error(w, r, err)
		return
	}
	b.WriteString("# TYPE salon_reminders_zset gauge\n")
	fmt.Fprintf(&b, "salon_reminders_zset %d\n", reminderCount)

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(b.String()))
}
