package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"securiwatch/core"
	"securiwatch/normalize"
	"securiwatch/storage"

	"github.com/gorilla/mux"
	"github.com/vmihailenco/msgpack/v5"
)

// maxIngestBody caps a single ingestion payload at 1 MiB.
const maxIngestBody = 1 << 20

type errorResponse struct {
	Error string `json:"error"`
}

type ingestResponse struct {
	ID        string `json:"id"`
	Duplicate bool   `json:"duplicate"`
}

func (a *API) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		a.logger.Errorw("Failed to encode response", "error", err)
	}
}

func (a *API) writeError(w http.ResponseWriter, status int, message string) {
	a.writeJSON(w, status, errorResponse{Error: message})
}

// ingestLog accepts one raw log record, JSON by default or msgpack when the
// Content-Type says so. Duplicates are acknowledged with 200 instead of 201
// so collectors can re-send without special-casing.
func (a *API) ingestLog(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxIngestBody))
	if err != nil {
		a.writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	var raw normalize.RawRecord
	contentType := r.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "application/msgpack") || strings.HasPrefix(contentType, "application/x-msgpack") {
		err = msgpack.Unmarshal(body, &raw)
	} else {
		err = json.Unmarshal(body, &raw)
	}
	if err != nil {
		a.writeError(w, http.StatusBadRequest, "malformed payload: "+err.Error())
		return
	}

	result, err := a.pipeline.Ingest(r.Context(), &raw)
	if err != nil {
		if core.IsMalformedRecord(err) {
			a.writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		a.logger.Errorw("Log ingestion failed", "error", err)
		a.writeError(w, http.StatusInternalServerError, "ingestion failed")
		return
	}

	status := http.StatusCreated
	if !result.Created {
		status = http.StatusOK
	}
	a.writeJSON(w, status, ingestResponse{ID: result.Record.ID, Duplicate: !result.Created})
}

func (a *API) getLogs(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r, 100)
	logs, err := a.logs.GetLogs(r.Context(), limit, offset)
	if err != nil {
		a.logger.Errorw("Failed to list logs", "error", err)
		a.writeError(w, http.StatusInternalServerError, "failed to list logs")
		return
	}
	a.writeJSON(w, http.StatusOK, logs)
}

func (a *API) getIncidents(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r, 50)
	incidents, err := a.incidents.GetIncidents(r.Context(), limit, offset)
	if err != nil {
		a.logger.Errorw("Failed to list incidents", "error", err)
		a.writeError(w, http.StatusInternalServerError, "failed to list incidents")
		return
	}
	a.writeJSON(w, http.StatusOK, incidents)
}

func (a *API) getIncident(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	incident, err := a.incidents.GetIncident(r.Context(), vars["id"])
	if err != nil {
		if errors.Is(err, storage.ErrIncidentNotFound) {
			a.writeError(w, http.StatusNotFound, "incident not found")
			return
		}
		a.logger.Errorw("Failed to load incident", "incident_id", vars["id"], "error", err)
		a.writeError(w, http.StatusInternalServerError, "failed to load incident")
		return
	}
	a.writeJSON(w, http.StatusOK, incident)
}

// incidentUpdateRequest carries the operator-owned fields. Pointer fields
// distinguish "leave unchanged" from "set to empty".
type incidentUpdateRequest struct {
	Status     *string `json:"status"`
	AssignedTo *string `json:"assigned_to"`
	Notes      *string `json:"notes"`
}

// updateIncident applies an operator edit. Status changes follow the
// lifecycle transitions; closing an incident cancels its pending alert
// retries.
func (a *API) updateIncident(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["id"]

	var req incidentUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.writeError(w, http.StatusBadRequest, "malformed payload: "+err.Error())
		return
	}

	incident, err := a.incidents.GetIncident(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrIncidentNotFound) {
			a.writeError(w, http.StatusNotFound, "incident not found")
			return
		}
		a.logger.Errorw("Failed to load incident", "incident_id", id, "error", err)
		a.writeError(w, http.StatusInternalServerError, "failed to load incident")
		return
	}

	if req.Status != nil {
		newStatus := core.IncidentStatus(*req.Status)
		if !newStatus.IsValid() {
			a.writeError(w, http.StatusBadRequest, "invalid status: "+*req.Status)
			return
		}
		if err := incident.TransitionTo(newStatus); err != nil {
			a.writeError(w, http.StatusConflict, err.Error())
			return
		}
	}
	if req.AssignedTo != nil {
		incident.AssignedTo = *req.AssignedTo
	}
	if req.Notes != nil {
		incident.Notes = *req.Notes
	}

	if err := a.incidents.UpdateOperatorFields(r.Context(), id, incident.Status, incident.AssignedTo, incident.Notes); err != nil {
		a.logger.Errorw("Failed to update incident", "incident_id", id, "error", err)
		a.writeError(w, http.StatusInternalServerError, "failed to update incident")
		return
	}

	if incident.Status.IsTerminal() && a.dispatcher != nil {
		a.dispatcher.CancelIncident(id)
	}

	a.logger.Infow("Incident updated", "incident_id", id, "status", incident.Status)
	a.writeJSON(w, http.StatusOK, incident)
}

func (a *API) getIncidentAlerts(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	alerts, err := a.alerts.GetAlertsByIncident(r.Context(), vars["id"])
	if err != nil {
		a.logger.Errorw("Failed to list alerts", "incident_id", vars["id"], "error", err)
		a.writeError(w, http.StatusInternalServerError, "failed to list alerts")
		return
	}
	a.writeJSON(w, http.StatusOK, alerts)
}

func (a *API) getStats(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, http.StatusOK, a.pipeline.Stats())
}

func (a *API) healthCheck(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// pagination parses limit/offset query params with a per-endpoint default.
func pagination(r *http.Request, defaultLimit int) (limit, offset int) {
	limit = defaultLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}
