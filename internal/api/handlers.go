package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"coachbook/internal/metrics"
	"coachbook/internal/models"
	"coachbook/internal/service"
)

func (s *HTTPServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) handleUpsertAccount(w http.ResponseWriter, r *http.Request) {
	var account models.Account
	if !decodeBody(w, r, &account) {
		return
	}
	if account.ID <= 0 {
		writeError(w, http.StatusBadRequest, "validation_failed", "invalid id: is required", map[string]any{"field": "id"})
		return
	}
	if err := s.accounts.UpsertAccount(r.Context(), &account); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

func (s *HTTPServer) handleCreateReservation(w http.ResponseWriter, r *http.Request) {
	var req service.CreateReservationRequest
	if !decodeBody(w, r, &req) {
		metrics.IncReservationRejected("validation_failed")
		return
	}

	res, err := s.svc.CreateReservation(r.Context(), req, s.now())
	if err != nil {
		e := s.writeServiceError(w, r, err)
		metrics.IncReservationRejected(e.code)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *HTTPServer) handleListReservations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filter models.ReservationFilter
	var err error

	if filter.ClientID, err = queryInt(q.Get("client_id")); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "invalid client_id", map[string]any{"field": "client_id"})
		return
	}
	if filter.ProviderID, err = queryInt(q.Get("provider_id")); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "invalid provider_id", map[string]any{"field": "provider_id"})
		return
	}
	if status := strings.TrimSpace(q.Get("status")); status != "" {
		filter.Status = models.ReservationStatus(status)
		if !filter.Status.Valid() {
			writeError(w, http.StatusBadRequest, "validation_failed", "unknown status", map[string]any{"field": "status"})
			return
		}
	}
	if filter.From, err = queryTime(q.Get("from")); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "invalid from; expected RFC3339", map[string]any{"field": "from"})
		return
	}
	if filter.To, err = queryTime(q.Get("to")); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "invalid to; expected RFC3339", map[string]any{"field": "to"})
		return
	}

	list, err := s.svc.ListReservations(r.Context(), filter, s.now())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if list == nil {
		list = []*models.Reservation{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"reservations": list})
}

func (s *HTTPServer) handleGetReservation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	res, err := s.svc.GetReservation(r.Context(), id, s.now())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *HTTPServer) handleCancelReservation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var body struct {
		Actor string `json:"actor"`
	}
	if r.ContentLength != 0 && !decodeBody(w, r, &body) {
		return
	}
	if body.Actor == "" {
		body.Actor = "api"
	}

	res, err := s.svc.CancelReservation(r.Context(), id, body.Actor, s.now())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *HTTPServer) handleSettleExternal(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	res, err := s.svc.MarkSettledExternally(r.Context(), id, s.now())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type settlementRequest struct {
	ReservationID int64                    `json:"reservation_id"`
	Outcome       models.SettlementOutcome `json:"outcome"`
}

type settlementResponse struct {
	Reservation *models.Reservation `json:"reservation"`
	Changed     bool                `json:"changed"`
	Superseded  bool                `json:"superseded"`
	Rejected    bool                `json:"rejected"`
}

// handleSettlement acknowledges every callback it could apply, including a
// failed payment, so the gateway stops redelivering it.
func (s *HTTPServer) handleSettlement(w http.ResponseWriter, r *http.Request) {
	var req settlementRequest
	if !decodeBody(w, r, &req) {
		return
	}

	res, err := s.svc.HandleSettlement(r.Context(), req.ReservationID, req.Outcome, s.now())
	rejected := errors.Is(err, service.ErrSettlementRejected)
	if err != nil && !(rejected && res != nil) {
		s.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, settlementResponse{
		Reservation: res.Reservation,
		Changed:     res.Changed,
		Superseded:  res.Superseded,
		Rejected:    rejected,
	})
}

func (s *HTTPServer) handlePurchasePackage(w http.ResponseWriter, r *http.Request) {
	var req service.PurchasePackageRequest
	if !decodeBody(w, r, &req) {
		return
	}
	pkg, err := s.svc.PurchasePackage(r.Context(), req, s.now())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, pkg)
}

func (s *HTTPServer) handleScheduleSession(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req service.ScheduleSessionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.PackageID = id

	session, err := s.svc.ScheduleSession(r.Context(), req, s.now())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (s *HTTPServer) handlePackageUsage(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	usage, err := s.svc.PackageUsage(r.Context(), id, s.now())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, usage)
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "invalid JSON body", nil)
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "validation_failed", "invalid id", map[string]any{"field": "id"})
		return 0, false
	}
	return id, true
}

func queryInt(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}

func queryTime(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, raw)
}
