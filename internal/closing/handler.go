package closing

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/grandlivre/grandlivre/internal/journal"
	"github.com/grandlivre/grandlivre/internal/money"
	"github.com/grandlivre/grandlivre/internal/periods"
	"github.com/grandlivre/grandlivre/internal/platform/httpx"
)

// Handler exposes the fiscal year close endpoint.
type Handler struct {
	service  *Service
	logger   *slog.Logger
	currency string
}

// NewHandler constructs the closing HTTP handler.
func NewHandler(logger *slog.Logger, service *Service, currency string) *Handler {
	return &Handler{service: service, logger: logger, currency: currency}
}

// MountRoutes attaches closing routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/fiscal-years/{id}/close", h.CloseFiscalYear)
}

type closeResponse struct {
	YearID        int64   `json:"yearId"`
	YearName      string  `json:"yearName"`
	EntriesPosted int     `json:"entriesPosted"`
	EntryIDs      []int64 `json:"entryIds,omitempty"`
	NetResult     string  `json:"netResult"`
	ClosedAt      string  `json:"closedAt"`
}

func (h *Handler) CloseFiscalYear(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", err.Error())
		return
	}
	actorID, _ := strconv.ParseInt(r.Header.Get("X-Actor-ID"), 10, 64)
	result, err := h.service.CloseFiscalYear(r.Context(), id, actorID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	net, formatErr := money.Format(result.NetResult, h.currency)
	if formatErr != nil {
		net = strconv.FormatInt(result.NetResult, 10)
	}
	httpx.JSON(w, http.StatusOK, closeResponse{
		YearID:        result.YearID,
		YearName:      result.Year.Name,
		EntriesPosted: result.EntriesPosted,
		EntryIDs:      result.EntryIDs,
		NetResult:     net,
		ClosedAt:      result.ClosedAt.Format(time.RFC3339),
	})
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, periods.ErrYearNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, periods.ErrYearClosed), errors.Is(err, periods.ErrOpenPeriods),
		errors.Is(err, ErrRetainedEarnings), errors.Is(err, journal.ErrNegativeBalance):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, periods.ErrLockBusy):
		httpx.Problem(w, http.StatusServiceUnavailable, "Close In Progress", err.Error())
	default:
		h.logger.Error("closing handler", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
