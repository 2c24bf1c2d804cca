package coa

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/grandlivre/grandlivre/internal/money"
	"github.com/grandlivre/grandlivre/internal/platform/httpx"
)

// Handler exposes chart of accounts endpoints.
type Handler struct {
	service  *Service
	logger   *slog.Logger
	validate *validator.Validate
	currency string
}

// NewHandler constructs the CoA HTTP handler. currency is the ledger's
// default currency used when requests omit one.
func NewHandler(logger *slog.Logger, service *Service, currency string) *Handler {
	return &Handler{service: service, logger: logger, validate: validator.New(), currency: currency}
}

// MountRoutes attaches account routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Get("/{code}", h.Get)
	r.Get("/{code}/children", h.Children)
	r.Get("/{code}/ancestors", h.Ancestors)
	r.Patch("/{code}", h.Update)
	r.Post("/{code}/deactivate", h.Deactivate)
	r.Post("/{code}/reactivate", h.Reactivate)
}

type createAccountRequest struct {
	Code           string `json:"code" validate:"required"`
	Name           string `json:"name" validate:"required"`
	Description    string `json:"description"`
	Type           string `json:"accountType" validate:"required,oneof=ASSET LIABILITY EQUITY REVENUE EXPENSE"`
	ParentCode     string `json:"parentCode"`
	Currency       string `json:"currency" validate:"omitempty,len=3"`
	IsAnalytic     bool   `json:"isAnalytic"`
	AllowNegative  bool   `json:"allowNegative"`
	OpeningBalance string `json:"openingBalance"`
}

type accountResponse struct {
	Code           string `json:"code"`
	Name           string `json:"name"`
	Description    string `json:"description,omitempty"`
	Type           string `json:"accountType"`
	ParentCode     string `json:"parentCode,omitempty"`
	NormalSide     string `json:"normalSide"`
	Currency       string `json:"currency"`
	IsActive       bool   `json:"isActive"`
	IsAnalytic     bool   `json:"isAnalytic"`
	AllowNegative  bool   `json:"allowNegative"`
	OpeningBalance string `json:"openingBalance"`
}

func (h *Handler) toResponse(a Account, parentCode string) accountResponse {
	opening, err := money.Format(a.OpeningBalance, a.Currency)
	if err != nil {
		opening = "0"
	}
	return accountResponse{
		Code:           a.Code,
		Name:           a.Name,
		Description:    a.Description,
		Type:           string(a.Type),
		ParentCode:     parentCode,
		NormalSide:     string(a.NormalSide()),
		Currency:       a.Currency,
		IsActive:       a.IsActive,
		IsAnalytic:     a.IsAnalytic,
		AllowNegative:  a.AllowNegative,
		OpeningBalance: opening,
	}
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	cur := req.Currency
	if cur == "" {
		cur = h.currency
	}
	var opening int64
	if req.OpeningBalance != "" {
		v, err := money.ToMinorUnits(req.OpeningBalance, cur)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
			return
		}
		opening = v
	}
	account, err := h.service.Create(r.Context(), CreateInput{
		Code:           req.Code,
		Name:           req.Name,
		Description:    req.Description,
		Type:           AccountType(req.Type),
		ParentCode:     req.ParentCode,
		Currency:       cur,
		IsAnalytic:     req.IsAnalytic,
		AllowNegative:  req.AllowNegative,
		OpeningBalance: opening,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, h.toResponse(account, req.ParentCode))
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	account, err := h.service.Get(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, h.toResponse(account, ""))
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	accounts, err := h.service.List(r.Context(), Filter{
		Type:       AccountType(q.Get("type")),
		ParentCode: q.Get("parent"),
		ActiveOnly: q.Get("active") == "true",
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondAccounts(w, accounts)
}

func (h *Handler) Children(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.service.Children(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondAccounts(w, accounts)
}

func (h *Handler) Ancestors(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.service.Ancestors(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondAccounts(w, accounts)
}

type updateAccountRequest struct {
	Name        string `json:"name" validate:"required"`
	Description string `json:"description"`
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	var req updateAccountRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	account, err := h.service.UpdateDetails(r.Context(), chi.URLParam(r, "code"), req.Name, req.Description)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, h.toResponse(account, ""))
}

func (h *Handler) Deactivate(w http.ResponseWriter, r *http.Request) {
	account, err := h.service.Deactivate(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, h.toResponse(account, ""))
}

func (h *Handler) Reactivate(w http.ResponseWriter, r *http.Request) {
	account, err := h.service.Reactivate(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, h.toResponse(account, ""))
}

func (h *Handler) respondAccounts(w http.ResponseWriter, accounts []Account) {
	out := make([]accountResponse, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, h.toResponse(a, ""))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrDuplicateCode):
		httpx.Problem(w, http.StatusConflict, "Duplicate Code", err.Error())
	case errors.Is(err, ErrHasActiveChildren), errors.Is(err, ErrInactiveParent):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, ErrInvalidParent), errors.Is(err, ErrInvalidType):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		h.logger.Error("coa handler", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
