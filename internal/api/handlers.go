package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hackgods/token-queue-scheduling/internal/account"
	"github.com/hackgods/token-queue-scheduling/internal/appointment"
	"github.com/hackgods/token-queue-scheduling/internal/monitor"
)

func requireActor(w http.ResponseWriter, r *http.Request) (Actor, bool) {
	actor, ok := GetActor(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing_actor", "request has no actor identity")
		return Actor{}, false
	}
	return actor, true
}

func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_"+name, name+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func createAppointmentHandler(svc *appointment.Service, loc *time.Location) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}

		var req CreateAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		in := appointment.CreateAppointmentInput{
			Title:       req.Title,
			DoctorID:    actor.ID,
			MaxPatients: req.MaxPatients,
			StartTime:   req.StartTime,
			EndTime:     req.EndTime,
			TokenRules:  req.TokenRules.rules(),
		}
		if req.Date != "" {
			d, err := time.ParseInLocation(time.DateOnly, req.Date, loc)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
				return
			}
			in.Date = &d
		}

		appt, err := svc.CreateAppointment(r.Context(), in)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
	}
}

func bookTokenHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}
		id, ok := pathUUID(w, r, "id")
		if !ok {
			return
		}

		appt, tok, err := svc.BookToken(r.Context(), id, actor.ID)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, BookTokenResponse{
			Appointment: toAppointmentResponse(appt),
			Token:       toTokenResponse(tok),
		})
	}
}

func queueHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}
		id, ok := pathUUID(w, r, "id")
		if !ok {
			return
		}

		view, err := svc.GetQueueView(r.Context(), id, actor.ID)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, QueueResponse{
			Appointment: toAppointmentResponse(view.Appointment),
			Tokens:      toTokenResponses(view.Tokens),
			Current:     toOptionalToken(view.Current),
			Penalties:   toRelocationResponses(view.Penalties),
		})
	}
}

func currentTokenHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}
		id, ok := pathUUID(w, r, "id")
		if !ok {
			return
		}

		tok, err := svc.GetCurrentToken(r.Context(), id, actor.ID)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, CurrentTokenResponse{Current: toOptionalToken(tok)})
	}
}

func callNextHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}
		id, ok := pathUUID(w, r, "id")
		if !ok {
			return
		}

		res, err := svc.CallNextPatient(r.Context(), id, actor.ID)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, CallNextResponse{
			Token:     toTokenResponse(res.Token),
			Penalties: toRelocationResponses(res.Penalties),
		})
	}
}

type tokenAction func(ctx context.Context, appointmentID, tokenID, actorID uuid.UUID) (*appointment.Appointment, *appointment.Token, error)

func tokenActionHandler(action tokenAction) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}
		id, ok := pathUUID(w, r, "id")
		if !ok {
			return
		}
		tokenID, ok := pathUUID(w, r, "tokenID")
		if !ok {
			return
		}

		_, tok, err := action(r.Context(), id, tokenID, actor.ID)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toTokenResponse(tok))
	}
}

func updateDelayHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}
		id, ok := pathUUID(w, r, "id")
		if !ok {
			return
		}

		var req UpdateDelayRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Minutes == nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "minutes is required")
			return
		}

		appt, err := svc.UpdateGlobalDelay(r.Context(), id, actor.ID, *req.Minutes)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

// doctorStatsHandler is limited to the doctor themself and admins.
func doctorStatsHandler(svc *appointment.Service, loc *time.Location) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, ok := requireSelfOrAdmin(w, r)
		if !ok {
			return
		}

		day := svc.Now()
		if raw := r.URL.Query().Get("date"); raw != "" {
			d, err := time.ParseInLocation(time.DateOnly, raw, loc)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
				return
			}
			day = d
		}

		stats, err := svc.DoctorDayStats(r.Context(), doctorID, day)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toDayStatsResponse(stats))
	}
}

func bookableHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, ok := pathUUID(w, r, "id")
		if !ok {
			return
		}

		list, err := svc.ListBookable(r.Context(), doctorID)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		out := make([]BookableResponse, 0, len(list))
		for _, b := range list {
			out = append(out, BookableResponse{
				Appointment: toAppointmentResponse(b.Appointment),
				Booked:      b.Booked,
				Available:   b.Available,
			})
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// requireSelfOrAdmin resolves the {id} path account and rejects callers
// other than that account or an admin.
func requireSelfOrAdmin(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	actor, ok := requireActor(w, r)
	if !ok {
		return uuid.Nil, false
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return uuid.Nil, false
	}
	if actor.ID != id && actor.Role != account.RoleAdmin {
		writeServiceError(w, r, appointment.ErrNotOwner)
		return uuid.Nil, false
	}
	return id, true
}

func patientTokensHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		patientID, ok := requireSelfOrAdmin(w, r)
		if !ok {
			return
		}

		list, err := svc.PatientTokens(r.Context(), patientID)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toPatientTokenResponses(list))
	}
}

func patientTokenCountsHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		patientID, ok := requireSelfOrAdmin(w, r)
		if !ok {
			return
		}

		counts, err := svc.PatientTokenCounts(r.Context(), patientID)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toPatientTokenCountsResponse(counts))
	}
}

func lifecycleTickHandler(m *monitor.Monitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}
		if actor.Role != account.RoleAdmin {
			writeError(w, http.StatusForbidden, "admin_required", "lifecycle tick requires the admin role")
			return
		}
		if m == nil {
			writeError(w, http.StatusServiceUnavailable, "monitor_disabled", "lifecycle monitor is not configured")
			return
		}
		writeJSON(w, http.StatusOK, toTickResponse(m.Tick(r.Context())))
	}
}
