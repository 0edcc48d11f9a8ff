package refill

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// handleListRefills returns every logged refill
func (s *Server) handleListRefills(w http.ResponseWriter, r *http.Request) {
	refills, err := s.service.ListRefills()
	if err != nil {
		slog.Error("Error listing refills", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	// Ensure we always return an array, not nil
	if refills == nil {
		refills = []*Refill{}
	}
	writeJSON(w, refills)
}

// handleGetRefill returns a single refill
func (s *Server) handleGetRefill(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		http.Error(w, "Refill ID required", http.StatusBadRequest)
		return
	}
	refill, err := s.service.GetRefill(id)
	if err != nil {
		http.Error(w, "Refill not found", http.StatusNotFound)
		return
	}
	writeJSON(w, refill)
}

// handleListRejects returns every receipt that failed to parse
func (s *Server) handleListRejects(w http.ResponseWriter, r *http.Request) {
	rejects, err := s.service.ListRejects()
	if err != nil {
		slog.Error("Error listing rejects", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if rejects == nil {
		rejects = []*Reject{}
	}
	writeJSON(w, rejects)
}

// handleGetRejectRaw returns the archived message of a rejected receipt
func (s *Server) handleGetRejectRaw(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		http.Error(w, "Reject ID required", http.StatusBadRequest)
		return
	}
	data, err := s.service.GetRejectRaw(id)
	if err != nil {
		http.Error(w, "Message not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "message/rfc822")
	if _, err := w.Write(data); err != nil {
		slog.Error("Error writing response", "error", err)
	}
}

// handleBaseline returns the mileage the next reading must exceed
func (s *Server) handleBaseline(w http.ResponseWriter, r *http.Request) {
	mileage, err := s.service.Baseline(r.Context())
	if err != nil {
		slog.Error("Error loading baseline", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]int{"mileage": mileage})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}
