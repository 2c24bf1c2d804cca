package balances

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/singleflight"

	"github.com/grandlivre/grandlivre/internal/coa"
	"github.com/grandlivre/grandlivre/internal/money"
	"github.com/grandlivre/grandlivre/internal/periods"
	"github.com/grandlivre/grandlivre/internal/platform/httpx"
)

const dateLayout = "2006-01-02"

// Handler exposes balance and trial balance endpoints.
type Handler struct {
	service  *Service
	logger   *slog.Logger
	currency string
	tbGroup  singleflight.Group
}

// NewHandler constructs the balances HTTP handler.
func NewHandler(logger *slog.Logger, service *Service, currency string) *Handler {
	return &Handler{service: service, logger: logger, currency: currency}
}

// MountRoutes attaches balance routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/accounts/{code}", h.AccountBalance)
	r.Get("/trial-balance/{periodID}", h.TrialBalance)
}

type balanceResponse struct {
	AccountCode string `json:"accountCode"`
	Name        string `json:"name"`
	Type        string `json:"accountType"`
	NormalSide  string `json:"normalSide"`
	Balance     string `json:"balance"`
	AsOf        string `json:"asOf"`
}

func (h *Handler) AccountBalance(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	asOf := time.Now()
	if raw := r.URL.Query().Get("as_of"); raw != "" {
		parsed, err := time.Parse(dateLayout, raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Date", err.Error())
			return
		}
		asOf = parsed
	}
	balance, err := h.service.BalanceAsOf(r.Context(), code, asOf)
	if err != nil {
		h.respondError(w, err)
		return
	}
	amount, err := money.Format(balance.Balance, h.currency)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, balanceResponse{
		AccountCode: balance.AccountCode,
		Name:        balance.Name,
		Type:        string(balance.Type),
		NormalSide:  string(balance.Type.NormalSide()),
		Balance:     amount,
		AsOf:        balance.AsOf.Format(dateLayout),
	})
}

type trialBalanceRowResponse struct {
	AccountCode string `json:"accountCode"`
	Name        string `json:"name"`
	Debit       string `json:"debit"`
	Credit      string `json:"credit"`
}

type trialBalanceGroupResponse struct {
	Key    string                    `json:"group"`
	Rows   []trialBalanceRowResponse `json:"rows"`
	Debit  string                    `json:"debit"`
	Credit string                    `json:"credit"`
}

type trialBalanceResponse struct {
	PeriodID    int64                       `json:"periodId"`
	Groups      []trialBalanceGroupResponse `json:"groups"`
	TotalDebit  string                      `json:"totalDebit"`
	TotalCredit string                      `json:"totalCredit"`
}

// TrialBalance builds the report, collapsing concurrent identical requests
// into a single computation.
func (h *Handler) TrialBalance(w http.ResponseWriter, r *http.Request) {
	periodID, err := strconv.ParseInt(chi.URLParam(r, "periodID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", err.Error())
		return
	}
	key := fmt.Sprintf("tb:%d", periodID)
	v, err, _ := h.tbGroup.Do(key, func() (any, error) {
		return h.service.TrialBalanceForPeriod(r.Context(), periodID)
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	tb := v.(TrialBalance)
	resp := trialBalanceResponse{
		PeriodID:    periodID,
		TotalDebit:  h.format(tb.TotalDebit),
		TotalCredit: h.format(tb.TotalCredit),
	}
	for _, grp := range tb.Groups {
		group := trialBalanceGroupResponse{
			Key:    grp.Key,
			Debit:  h.format(grp.Debit),
			Credit: h.format(grp.Credit),
		}
		for _, row := range grp.Rows {
			group.Rows = append(group.Rows, trialBalanceRowResponse{
				AccountCode: row.AccountCode,
				Name:        row.Name,
				Debit:       h.format(row.Debit),
				Credit:      h.format(row.Credit),
			})
		}
		resp.Groups = append(resp.Groups, group)
	}
	httpx.JSON(w, http.StatusOK, resp)
}

func (h *Handler) format(minor int64) string {
	out, err := money.Format(minor, h.currency)
	if err != nil {
		return strconv.FormatInt(minor, 10)
	}
	return out
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, coa.ErrNotFound), errors.Is(err, ErrAccountNotFound),
		errors.Is(err, periods.ErrPeriodNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	default:
		h.logger.Error("balances handler", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
