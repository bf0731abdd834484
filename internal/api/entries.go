package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/hid-climate-bridge/internal/entry"
	"github.com/nerrad567/hid-climate-bridge/internal/flow"
)

// entryView is an entry as returned by the API.
type entryView struct {
	entry.Entry

	// State is the coordinator's registration state, empty when the entry
	// is not loaded.
	State string `json:"state,omitempty"`
}

func (s *Server) viewOf(e *entry.Entry) entryView {
	v := entryView{Entry: *e}
	if s.topology != nil {
		v.State = s.topology.RegistrationState(e)
	}
	return v
}

// handleListEntries returns every config entry.
func (s *Server) handleListEntries(w http.ResponseWriter, r *http.Request) {
	entries, err := s.entries.List(r.Context())
	if err != nil {
		s.logger.Error("listing entries failed", "error", err)
		writeInternalError(w, "failed to list entries")
		return
	}

	views := make([]entryView, 0, len(entries))
	for i := range entries {
		views = append(views, s.viewOf(&entries[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": views,
		"count":   len(views),
	})
}

// handleGetEntry returns one config entry.
func (s *Server) handleGetEntry(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	e, err := s.entries.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, entry.ErrEntryNotFound) {
			writeNotFound(w, "entry not found")
			return
		}
		writeInternalError(w, "failed to get entry")
		return
	}
	writeJSON(w, http.StatusOK, s.viewOf(e))
}

// handleCreateEntry runs the user step of the config flow.
func (s *Server) handleCreateEntry(w http.ResponseWriter, r *http.Request) {
	var in flow.UserInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	res, err := s.flow.UserStep(r.Context(), in)
	if err != nil {
		writeFlowError(w, err)
		return
	}

	s.hub.Broadcast(ChannelEntryUpdated, s.viewOf(res.Entry))
	writeJSON(w, http.StatusCreated, map[string]any{
		"entry":       s.viewOf(res.Entry),
		"description": res.Description,
	})
}

// handleDeleteEntry unloads and removes a config entry.
func (s *Server) handleDeleteEntry(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := s.flow.RemoveEntry(r.Context(), id); err != nil {
		if !errors.Is(err, entry.ErrEntryNotFound) {
			s.logger.Error("removing entry failed", "entry_id", id, "error", err)
		}
		writeFlowError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
