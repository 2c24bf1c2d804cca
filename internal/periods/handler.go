package periods

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/grandlivre/grandlivre/internal/platform/httpx"
)

const dateLayout = "2006-01-02"

// Handler exposes period registry endpoints.
type Handler struct {
	service  *Service
	logger   *slog.Logger
	validate *validator.Validate
}

// NewHandler constructs the period registry HTTP handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{service: service, logger: logger, validate: validator.New()}
}

// MountRoutes attaches fiscal year and period routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/fiscal-years", h.CreateFiscalYear)
	r.Get("/fiscal-years", h.ListFiscalYears)
	r.Get("/fiscal-years/{id}", h.GetFiscalYear)
	r.Post("/periods/{id}/close", h.ClosePeriod)
	r.Post("/periods/{id}/lock", h.LockPeriod)
	r.Post("/periods/{id}/unlock", h.UnlockPeriod)
}

type rangeRequest struct {
	StartDate string `json:"startDate" validate:"required"`
	EndDate   string `json:"endDate" validate:"required"`
}

type createYearRequest struct {
	Name      string         `json:"name" validate:"required"`
	StartDate string         `json:"startDate" validate:"required"`
	EndDate   string         `json:"endDate" validate:"required"`
	Periods   []rangeRequest `json:"periods" validate:"dive"`
}

type periodResponse struct {
	ID        int64  `json:"id"`
	Number    int    `json:"periodNumber"`
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
	IsClosed  bool   `json:"isClosed"`
	IsLocked  bool   `json:"isLocked"`
}

type fiscalYearResponse struct {
	ID        int64            `json:"id"`
	Name      string           `json:"name"`
	StartDate string           `json:"startDate"`
	EndDate   string           `json:"endDate"`
	IsClosed  bool             `json:"isClosed"`
	Periods   []periodResponse `json:"periods,omitempty"`
}

func toPeriodResponse(p Period) periodResponse {
	return periodResponse{
		ID:        p.ID,
		Number:    p.Number,
		StartDate: p.StartDate.Format(dateLayout),
		EndDate:   p.EndDate.Format(dateLayout),
		IsClosed:  p.IsClosed,
		IsLocked:  p.LockedAt != nil,
	}
}

func toYearResponse(y FiscalYear) fiscalYearResponse {
	out := fiscalYearResponse{
		ID:        y.ID,
		Name:      y.Name,
		StartDate: y.StartDate.Format(dateLayout),
		EndDate:   y.EndDate.Format(dateLayout),
		IsClosed:  y.IsClosed,
	}
	for _, p := range y.Periods {
		out.Periods = append(out.Periods, toPeriodResponse(p))
	}
	return out
}

func parseDate(value string) (time.Time, error) {
	return time.Parse(dateLayout, value)
}

func (h *Handler) CreateFiscalYear(w http.ResponseWriter, r *http.Request) {
	var req createYearRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	start, err := parseDate(req.StartDate)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	end, err := parseDate(req.EndDate)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	input := CreateYearInput{Name: req.Name, StartDate: start, EndDate: end}
	for _, p := range req.Periods {
		ps, err := parseDate(p.StartDate)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
			return
		}
		pe, err := parseDate(p.EndDate)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
			return
		}
		input.Periods = append(input.Periods, RangeInput{StartDate: ps, EndDate: pe})
	}
	year, err := h.service.CreateFiscalYear(r.Context(), input)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toYearResponse(year))
}

func (h *Handler) ListFiscalYears(w http.ResponseWriter, r *http.Request) {
	years, err := h.service.ListFiscalYears(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	out := make([]fiscalYearResponse, 0, len(years))
	for _, y := range years {
		out = append(out, toYearResponse(y))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) GetFiscalYear(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", err.Error())
		return
	}
	year, err := h.service.GetFiscalYear(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toYearResponse(year))
}

func (h *Handler) ClosePeriod(w http.ResponseWriter, r *http.Request) {
	h.periodAction(w, r, h.service.ClosePeriod)
}

func (h *Handler) LockPeriod(w http.ResponseWriter, r *http.Request) {
	h.periodAction(w, r, h.service.LockPeriod)
}

func (h *Handler) UnlockPeriod(w http.ResponseWriter, r *http.Request) {
	h.periodAction(w, r, h.service.UnlockPeriod)
}

func (h *Handler) periodAction(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, periodID, actorID int64) (Period, error)) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", err.Error())
		return
	}
	period, err := fn(r.Context(), id, actorFrom(r))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toPeriodResponse(period))
}

// actorFrom reads the actor id supplied by the authenticating collaborator.
func actorFrom(r *http.Request) int64 {
	v, _ := strconv.ParseInt(r.Header.Get("X-Actor-ID"), 10, 64)
	return v
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrYearNotFound), errors.Is(err, ErrPeriodNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrPartition), errors.Is(err, ErrOverlap):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrOutOfOrder), errors.Is(err, ErrHasDraftEntries),
		errors.Is(err, ErrAlreadyClosed), errors.Is(err, ErrYearClosed), errors.Is(err, ErrOpenPeriods):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, ErrLockBusy):
		httpx.Problem(w, http.StatusServiceUnavailable, "Busy", err.Error())
	default:
		h.logger.Error("periods handler", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
