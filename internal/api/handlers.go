package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"strconv"

	"github.com/mfgtest/orchestrator/internal/session"
	"github.com/mfgtest/orchestrator/internal/storage"
)

// handleStartSession implements POST /api/v1/sessions (spec.md §6.4 start).
func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest("invalid request body: "+err.Error()))

		return
	}

	if req.SerialNumber == "" {
		WriteErrorResponse(w, r, s.logger, BadRequest("serial_number is required"))

		return
	}

	stopOnFail := true
	if req.StopOnFail != nil {
		stopOnFail = *req.StopOnFail
	}

	e, err := s.registry.Start(r.Context(), session.StartRequest{
		SerialNumber: req.SerialNumber,
		StationID:    req.StationID,
		ProjectID:    req.ProjectID,
		OperatorID:   req.OperatorID,
		PlanName:     req.PlanName,
		StopOnFail:   stopOnFail,
		RequestedAt:  req.RequestedAt,
	})
	if err != nil {
		if errors.Is(err, storage.ErrTestPlanEmpty) {
			WriteErrorResponse(w, r, s.logger, NotFound(err.Error()))

			return
		}

		WriteErrorResponse(w, r, s.logger, InternalServerError(err.Error()))

		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"id":     e.ID(),
		"status": string(e.Status()),
	})
}

// handleStopSession implements POST /api/v1/sessions/{id}/stop (spec.md §6.4 stop).
func (s *Server) handleStopSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if err := s.registry.Stop(id); err != nil {
		switch {
		case errors.Is(err, session.ErrNotFound):
			WriteErrorResponse(w, r, s.logger, NotFound(err.Error()))
		case errors.Is(err, session.ErrNotRunning):
			WriteErrorResponse(w, r, s.logger, BadRequest(err.Error()))
		default:
			WriteErrorResponse(w, r, s.logger, InternalServerError(err.Error()))
		}

		return
	}

	w.WriteHeader(http.StatusAccepted)
}

// handleGetSession implements GET /api/v1/sessions/{id} (spec.md §6.4 status).
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if e, ok := s.registry.Status(id); ok {
		writeJSON(w, http.StatusOK, map[string]any{
			"id":     e.ID(),
			"status": string(e.Status()),
		})

		return
	}

	sess, err := s.repo.GetSession(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrSessionNotFound) {
			WriteErrorResponse(w, r, s.logger, NotFound(err.Error()))

			return
		}

		WriteErrorResponse(w, r, s.logger, InternalServerError(err.Error()))

		return
	}

	writeJSON(w, http.StatusOK, toSessionResponse(sess))
}

// handleListSessions implements GET /api/v1/sessions (supplements the
// distilled spec per original_source/app/api/results/sessions.py).
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := storage.SessionFilter{
		StationID:    q.Get("station_id"),
		ProjectID:    q.Get("project_id"),
		SerialNumber: q.Get("serial_number"),
		Status:       storage.SessionStatus(q.Get("status")),
	}

	if limit, err := strconv.Atoi(q.Get("limit")); err == nil {
		filter.Limit = limit
	}

	if offset, err := strconv.Atoi(q.Get("offset")); err == nil {
		filter.Offset = offset
	}

	sessions, err := s.repo.ListSessions(r.Context(), filter)
	if err != nil {
		WriteErrorResponse(w, r, s.logger, InternalServerError(err.Error()))

		return
	}

	out := make([]sessionResponse, len(sessions))
	for i, sess := range sessions {
		out[i] = toSessionResponse(sess)
	}

	writeJSON(w, http.StatusOK, out)
}

// handleListResults implements GET /api/v1/sessions/{id}/results.
func (s *Server) handleListResults(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	results, err := s.repo.ListResults(r.Context(), id)
	if err != nil {
		WriteErrorResponse(w, r, s.logger, InternalServerError(err.Error()))

		return
	}

	out := make([]resultResponse, len(results))
	for i, res := range results {
		out[i] = resultResponse{
			ItemNo:              res.ItemNo,
			ItemName:            res.ItemName,
			Result:              res.Result,
			MeasuredValue:       res.MeasuredValue,
			LowerLimit:          res.LowerLimit,
			UpperLimit:          res.UpperLimit,
			Unit:                res.Unit,
			ErrorMessage:        res.ErrorMessage,
			ExecutionDurationMs: res.ExecutionDurationMs,
			StartedAt:           res.StartedAt,
		}
	}

	writeJSON(w, http.StatusOK, out)
}

// handleDownloadReport implements GET /api/v1/sessions/{id}/report,
// streaming the CSV file previously written by report.Writer (spec.md §6.1).
func (s *Server) handleDownloadReport(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	sess, err := s.repo.GetSession(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrSessionNotFound) {
			WriteErrorResponse(w, r, s.logger, NotFound(err.Error()))

			return
		}

		WriteErrorResponse(w, r, s.logger, InternalServerError(err.Error()))

		return
	}

	if sess.ReportPath == "" {
		WriteErrorResponse(w, r, s.logger, NotFound("report not yet available for this session"))

		return
	}

	f, err := os.Open(sess.ReportPath)
	if err != nil {
		WriteErrorResponse(w, r, s.logger, InternalServerError("report file unavailable: "+err.Error()))

		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="`+sess.ID+`.csv"`)
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, f)
}

// handleGetTestPlan implements GET /api/v1/testplans/{project}/{station}
// (supplements the distilled spec per original_source/app/api/testplan/queries.py).
func (s *Server) handleGetTestPlan(w http.ResponseWriter, r *http.Request) {
	project := r.PathValue("project")
	station := r.PathValue("station")
	plan := r.URL.Query().Get("plan")

	items, err := s.repo.LoadTestPlan(r.Context(), project, station, plan)
	if err != nil {
		if errors.Is(err, storage.ErrTestPlanEmpty) {
			WriteErrorResponse(w, r, s.logger, NotFound(err.Error()))

			return
		}

		WriteErrorResponse(w, r, s.logger, InternalServerError(err.Error()))

		return
	}

	out := make([]testPlanItemResponse, len(items))
	for i, item := range items {
		out[i] = testPlanItemResponse{
			ItemNo:     item.ItemNo,
			ItemName:   item.ItemName,
			ItemKey:    item.ItemKey,
			Command:    item.Command,
			SwitchMode: item.SwitchMode,
			Parameters: item.Parameters,
			ValueType:  string(item.ValueType),
			LimitType:  string(item.LimitType),
			LowerLimit: item.LowerLimit,
			UpperLimit: item.UpperLimit,
			EqLimit:    item.EqLimit,
			Unit:       item.Unit,
			Enabled:    item.Enabled,
			UseResult:  item.UseResult,
		}
	}

	writeJSON(w, http.StatusOK, out)
}

func toSessionResponse(sess storage.Session) sessionResponse {
	resp := sessionResponse{
		ID:           sess.ID,
		SerialNumber: sess.SerialNumber,
		StationID:    sess.StationID,
		ProjectID:    sess.ProjectID,
		OperatorID:   sess.OperatorID,
		PlanName:     sess.PlanName,
		Status:       string(sess.Status),
		StartedAt:    sess.StartedAt,
		EndedAt:      sess.EndedAt,
		TotalItems:   sess.TotalItems,
		PassItems:    sess.PassItems,
		FailItems:    sess.FailItems,
		ErrorItems:   sess.ErrorItems,
		DurationMs:   sess.DurationMs,
		ReportPath:   sess.ReportPath,
	}

	if sess.FinalResult != nil {
		resp.FinalResult = string(*sess.FinalResult)
	}

	return resp
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
