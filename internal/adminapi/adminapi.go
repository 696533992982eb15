// Package adminapi serves a read-only HTTP view of the collector's
// in-memory databases: which clients are tracked, their alarm state,
// and the fleet-wide latency aggregate. It changes nothing; every
// handler takes the same locks in the same order as the scanners.
package adminapi

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/andrewsitengineering/fslatency/internal/collectorstate"
	"github.com/andrewsitengineering/fslatency/internal/wire"
)

// Server exposes a status database over HTTP.
type Server struct {
	DB      *collectorstate.DB
	Stat    *collectorstate.GlobalStat
	Metrics http.Handler // optional; mounted at /metrics when non-nil
}

// Router builds the read-only route table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Compress(5))

	r.Get("/clients", s.clientsHandler)
	r.Get("/clients/{id}", s.clientHandler)
	r.Get("/stat", s.statHandler)
	r.Get("/healthz", s.healthHandler)
	if s.Metrics != nil {
		r.Get("/metrics", s.Metrics.ServeHTTP)
	}
	return r
}

// clientInfo is the JSON shape of one tracked client.
type clientInfo struct {
	ID            int       `json:"id"`
	Hostname      string    `json:"hostname"`
	Text          string    `json:"text"`
	LastArrival   time.Time `json:"lastArrival"`
	Alarm         uint32    `json:"alarm"`
	LastAlarmTime time.Time `json:"lastAlarmTime,omitempty"`
	BufferLen     int       `json:"bufferLen"`
}

func (s *Server) clientInfoByID(id int) (clientInfo, bool) {
	name, ok := s.DB.Names.GetByID(id)
	if !ok {
		return clientInfo{}, false
	}
	info := clientInfo{
		ID:       id,
		Hostname: trimNameField(name[:wire.HostnameLen]),
		Text:     trimNameField(name[wire.HostnameLen:]),
	}
	entry := s.DB.Entries[id]
	entry.Mu.Lock()
	info.LastArrival = entry.LastArrival
	info.Alarm = entry.Alarm
	info.LastAlarmTime = entry.LastAlarmTime
	info.BufferLen = entry.Buffer.Len()
	entry.Mu.Unlock()
	return info, true
}

func (s *Server) clientsHandler(w http.ResponseWriter, r *http.Request) {
	s.DB.AddRemoveMu.Lock()
	ids := s.DB.Names.Occupied()
	clients := make([]clientInfo, 0, len(ids))
	for _, id := range ids {
		if info, ok := s.clientInfoByID(id); ok {
			clients = append(clients, info)
		}
	}
	s.DB.AddRemoveMu.Unlock()

	writeJSON(w, clients)
}

func (s *Server) clientHandler(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id < 0 || id >= len(s.DB.Entries) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("Bad client id"))
		return
	}

	s.DB.AddRemoveMu.Lock()
	info, ok := s.clientInfoByID(id)
	s.DB.AddRemoveMu.Unlock()
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("Unknown client id"))
		return
	}

	writeJSON(w, info)
}

func (s *Server) statHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.Stat.Snapshot())
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte("ok"))
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Println("adminapi:", err)
	}
}

func trimNameField(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
