package journal

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/grandlivre/grandlivre/internal/coa"
	"github.com/grandlivre/grandlivre/internal/money"
	"github.com/grandlivre/grandlivre/internal/periods"
	"github.com/grandlivre/grandlivre/internal/platform/httpx"
)

const dateLayout = "2006-01-02"

// Handler exposes journal entry endpoints.
type Handler struct {
	service  *Service
	logger   *slog.Logger
	validate *validator.Validate
	currency string
}

// NewHandler constructs the journal HTTP handler.
func NewHandler(logger *slog.Logger, service *Service, currency string) *Handler {
	return &Handler{service: service, logger: logger, validate: validator.New(), currency: currency}
}

// MountRoutes attaches journal routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.List)
	r.Post("/", h.CreateDraft)
	r.Post("/post", h.CreateAndPost)
	r.Get("/{id}", h.Get)
	r.Post("/{id}/lines", h.AddLine)
	r.Delete("/{id}/lines/{lineID}", h.RemoveLine)
	r.Post("/{id}/validate", h.Validate)
	r.Post("/{id}/post", h.Post)
	r.Post("/{id}/reverse", h.Reverse)
	r.Post("/{id}/archive", h.Archive)
}

type lineRequest struct {
	AccountCode       string `json:"accountCode" validate:"required"`
	Description       string `json:"description"`
	Debit             string `json:"debit"`
	Credit            string `json:"credit"`
	AnalyticAccountID *int64 `json:"analyticAccountId"`
}

func (h *Handler) toLineInput(req lineRequest) (LineInput, error) {
	in := LineInput{
		AccountCode:       req.AccountCode,
		Description:       req.Description,
		AnalyticAccountID: req.AnalyticAccountID,
	}
	var err error
	if req.Debit != "" {
		if in.Debit, err = money.ToMinorUnits(req.Debit, h.currency); err != nil {
			return LineInput{}, err
		}
	}
	if req.Credit != "" {
		if in.Credit, err = money.ToMinorUnits(req.Credit, h.currency); err != nil {
			return LineInput{}, err
		}
	}
	return in, nil
}

type entryRequest struct {
	Date        string        `json:"date" validate:"required"`
	Description string        `json:"description"`
	Reference   string        `json:"reference"`
	Notes       string        `json:"notes"`
	SourceRef   string        `json:"sourceRef" validate:"omitempty,uuid4"`
	Lines       []lineRequest `json:"lines"`
}

type lineResponse struct {
	ID                int64  `json:"id"`
	AccountCode       string `json:"accountCode"`
	Description       string `json:"description,omitempty"`
	Debit             string `json:"debit"`
	Credit            string `json:"credit"`
	AnalyticAccountID *int64 `json:"analyticAccountId,omitempty"`
}

type entryResponse struct {
	ID          int64          `json:"id"`
	Number      string         `json:"number"`
	Date        string         `json:"date"`
	Description string         `json:"description,omitempty"`
	Reference   string         `json:"reference,omitempty"`
	Notes       string         `json:"notes,omitempty"`
	Status      string         `json:"status"`
	SourceRef   string         `json:"sourceRef,omitempty"`
	ReversalOf  *int64         `json:"reversalOf,omitempty"`
	ReversedBy  *int64         `json:"reversedBy,omitempty"`
	TotalDebit  string         `json:"totalDebit"`
	TotalCredit string         `json:"totalCredit"`
	PostedAt    string         `json:"postedAt,omitempty"`
	Lines       []lineResponse `json:"lines,omitempty"`
}

func (h *Handler) toResponse(e Entry) entryResponse {
	resp := entryResponse{
		ID:          e.ID,
		Number:      e.Number,
		Date:        e.Date.Format(dateLayout),
		Description: e.Description,
		Reference:   e.Reference,
		Notes:       e.Notes,
		Status:      string(e.Status),
		ReversalOf:  e.ReversalOf,
		ReversedBy:  e.ReversedBy,
		TotalDebit:  h.format(e.TotalDebit),
		TotalCredit: h.format(e.TotalCredit),
	}
	if e.SourceRef != nil {
		resp.SourceRef = e.SourceRef.String()
	}
	if e.PostedAt != nil {
		resp.PostedAt = e.PostedAt.Format(time.RFC3339)
	}
	for _, l := range e.Lines {
		resp.Lines = append(resp.Lines, lineResponse{
			ID:                l.ID,
			AccountCode:       l.AccountCode,
			Description:       l.Description,
			Debit:             h.format(l.Debit),
			Credit:            h.format(l.Credit),
			AnalyticAccountID: l.AnalyticAccountID,
		})
	}
	return resp
}

func (h *Handler) format(minor int64) string {
	out, err := money.Format(minor, h.currency)
	if err != nil {
		return strconv.FormatInt(minor, 10)
	}
	return out
}

type decodedEntry struct {
	Date        time.Time
	Description string
	Reference   string
	Notes       string
	SourceRef   *uuid.UUID
	Lines       []LineInput
}

func (h *Handler) decodeEntry(w http.ResponseWriter, r *http.Request) (decodedEntry, bool) {
	var req entryRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return decodedEntry{}, false
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return decodedEntry{}, false
	}
	date, err := time.Parse(dateLayout, req.Date)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Date", err.Error())
		return decodedEntry{}, false
	}
	out := decodedEntry{Date: date, Description: req.Description, Reference: req.Reference, Notes: req.Notes}
	if req.SourceRef != "" {
		parsed, err := uuid.Parse(req.SourceRef)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Source Ref", err.Error())
			return decodedEntry{}, false
		}
		out.SourceRef = &parsed
	}
	out.Lines = make([]LineInput, 0, len(req.Lines))
	for _, lr := range req.Lines {
		in, err := h.toLineInput(lr)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Amount", err.Error())
			return decodedEntry{}, false
		}
		out.Lines = append(out.Lines, in)
	}
	return out, true
}

func (h *Handler) CreateDraft(w http.ResponseWriter, r *http.Request) {
	in, ok := h.decodeEntry(w, r)
	if !ok {
		return
	}
	entry, err := h.service.CreateDraft(r.Context(), DraftInput{
		Date:        in.Date,
		Description: in.Description,
		Reference:   in.Reference,
		Notes:       in.Notes,
		SourceRef:   in.SourceRef,
		Lines:       in.Lines,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, h.toResponse(entry))
}

func (h *Handler) CreateAndPost(w http.ResponseWriter, r *http.Request) {
	in, ok := h.decodeEntry(w, r)
	if !ok {
		return
	}
	entry, err := h.service.CreateAndPost(r.Context(), PostingInput{
		Date:        in.Date,
		Description: in.Description,
		Reference:   in.Reference,
		Notes:       in.Notes,
		SourceRef:   in.SourceRef,
		Lines:       in.Lines,
	}, actorFrom(r))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, h.toResponse(entry))
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.entryID(w, r)
	if !ok {
		return
	}
	entry, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, h.toResponse(entry))
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	f := EntryFilter{Status: Status(r.URL.Query().Get("status"))}
	if raw := r.URL.Query().Get("from"); raw != "" {
		f.From, _ = time.Parse(dateLayout, raw)
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		f.To, _ = time.Parse(dateLayout, raw)
	}
	f.Limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	f.Offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))
	entries, err := h.service.List(r.Context(), f)
	if err != nil {
		h.respondError(w, err)
		return
	}
	out := make([]entryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, h.toResponse(e))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) AddLine(w http.ResponseWriter, r *http.Request) {
	id, ok := h.entryID(w, r)
	if !ok {
		return
	}
	var req lineRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	in, err := h.toLineInput(req)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Amount", err.Error())
		return
	}
	line, err := h.service.AddLine(r.Context(), id, in)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, lineResponse{
		ID:                line.ID,
		AccountCode:       line.AccountCode,
		Description:       line.Description,
		Debit:             h.format(line.Debit),
		Credit:            h.format(line.Credit),
		AnalyticAccountID: line.AnalyticAccountID,
	})
}

func (h *Handler) RemoveLine(w http.ResponseWriter, r *http.Request) {
	id, ok := h.entryID(w, r)
	if !ok {
		return
	}
	lineID, err := strconv.ParseInt(chi.URLParam(r, "lineID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", err.Error())
		return
	}
	if err := h.service.RemoveLine(r.Context(), id, lineID); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Validate(w http.ResponseWriter, r *http.Request) {
	id, ok := h.entryID(w, r)
	if !ok {
		return
	}
	entry, err := h.service.ValidateBalance(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, h.toResponse(entry))
}

func (h *Handler) Post(w http.ResponseWriter, r *http.Request) {
	id, ok := h.entryID(w, r)
	if !ok {
		return
	}
	entry, err := h.service.Post(r.Context(), id, actorFrom(r))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, h.toResponse(entry))
}

type reverseRequest struct {
	Date        string `json:"date"`
	Description string `json:"description"`
}

func (h *Handler) Reverse(w http.ResponseWriter, r *http.Request) {
	id, ok := h.entryID(w, r)
	if !ok {
		return
	}
	var req reverseRequest
	if r.ContentLength > 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
			return
		}
	}
	in := ReverseInput{Description: req.Description}
	if req.Date != "" {
		date, err := time.Parse(dateLayout, req.Date)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Date", err.Error())
			return
		}
		in.Date = date
	}
	entry, err := h.service.Reverse(r.Context(), id, actorFrom(r), in)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, h.toResponse(entry))
}

func (h *Handler) Archive(w http.ResponseWriter, r *http.Request) {
	id, ok := h.entryID(w, r)
	if !ok {
		return
	}
	entry, err := h.service.Archive(r.Context(), id, actorFrom(r))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, h.toResponse(entry))
}

func (h *Handler) entryID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", err.Error())
		return 0, false
	}
	return id, true
}

// actorFrom reads the actor id supplied by the authenticating collaborator.
func actorFrom(r *http.Request) int64 {
	v, _ := strconv.ParseInt(r.Header.Get("X-Actor-ID"), 10, 64)
	return v
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, coa.ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrInvalidState), errors.Is(err, ErrAlreadyReversed),
		errors.Is(err, ErrSourceConflict), errors.Is(err, ErrNegativeBalance),
		errors.Is(err, ErrPeriodOpen), errors.Is(err, periods.ErrNotOpen):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, ErrUnbalanced), errors.Is(err, ErrTooFewLines),
		errors.Is(err, ErrBadLine), errors.Is(err, ErrAccountInactive),
		errors.Is(err, ErrAnalyticAccount):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
	default:
		h.logger.Error("journal handler", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
