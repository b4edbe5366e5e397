package api

import (
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/bitfsorg/libpayplan-go/batch"
	"github.com/bitfsorg/libpayplan-go/engine"
	"github.com/bitfsorg/libpayplan-go/ledger"
	"github.com/bitfsorg/libpayplan-go/payout"
	"github.com/bitfsorg/libpayplan-go/plan"
)

// Response is the envelope of every JSON reply.
type Response struct {
	Status  int         `json:"status"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

type registerRequest struct {
	Username        string      `json:"username" validate:"required"`
	Sponsor         string      `json:"sponsor"`
	PlacementParent string      `json:"placementParent"`
	Side            ledger.Side `json:"side" validate:"omitempty,oneof=L R"`
}

type amountRequest struct {
	Username string          `json:"username" validate:"required"`
	Amount   decimal.Decimal `json:"amount" validate:"gt=0"`
}

type creditRequest struct {
	Username string          `json:"username" validate:"required"`
	Amount   decimal.Decimal `json:"amount" validate:"gt=0"`
	Type     string          `json:"type" validate:"required"`
	Remark   string          `json:"remark"`
}

type dayRequest struct {
	Day string `json:"day" validate:"omitempty,datetime=2006-01-02"`
}

type binaryRequest struct {
	Percent decimal.Decimal `json:"percent" validate:"gte=0"`
}

type globalRequest struct {
	OverrideTotal decimal.Decimal            `json:"overrideTotal" validate:"gte=0"`
	PoolPercents  map[string]decimal.Decimal `json:"poolPercents"`
}

func (r globalRequest) options() payout.GlobalOptions {
	return payout.GlobalOptions{OverrideTotal: r.OverrideTotal, PoolPercents: r.PoolPercents}
}

// bind decodes and validates the request body into req.
func bind(c echo.Context, req interface{}) error {
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := c.Validate(req); err != nil {
		return err
	}
	return nil
}

var planErrors = []error{
	plan.ErrUnknownIncomeType,
	plan.ErrInvalidCapMultiplier,
	plan.ErrNegativePercent,
	plan.ErrTooManyLevels,
	plan.ErrInvalidLevel,
	plan.ErrInvalidRankTier,
	plan.ErrInvalidGlobalTier,
	plan.ErrInvalidHopLimit,
}

// statusOf maps an engine error to an HTTP status.
func statusOf(err error) int {
	var ve validator.ValidationErrors
	var he *echo.HTTPError
	switch {
	case errors.As(err, &he):
		return he.Code
	case errors.As(err, &ve),
		errors.Is(err, engine.ErrInvalidAmount),
		errors.Is(err, engine.ErrInvalidUsername),
		errors.Is(err, ledger.ErrInvalidUsername),
		errors.Is(err, engine.ErrInvalidSide),
		errors.Is(err, engine.ErrSponsorNotFound),
		errors.Is(err, engine.ErrPlacementNotFound),
		errors.Is(err, batch.ErrInvalidDay):
		return http.StatusBadRequest
	case errors.Is(err, ledger.ErrAccountNotFound):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrAccountExists),
		errors.Is(err, batch.ErrRunInProgress),
		errors.Is(err, ledger.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, engine.ErrInsufficientFunds),
		errors.Is(err, engine.ErrNotPremium),
		errors.Is(err, engine.ErrNoOpenSlot):
		return http.StatusUnprocessableEntity
	}
	for _, pe := range planErrors {
		if errors.Is(err, pe) {
			return http.StatusBadRequest
		}
	}
	return http.StatusInternalServerError
}

func (s *Server) fail(c echo.Context, err error, data interface{}) error {
	code := statusOf(err)
	msg := err.Error()
	var he *echo.HTTPError
	if errors.As(err, &he) {
		if m, ok := he.Message.(string); ok {
			msg = m
		}
	}
	if code >= http.StatusInternalServerError {
		s.log.Error("api: request failed", "path", c.Path(), "error", err)
	}
	return c.JSON(code, Response{Status: code, Message: msg, Data: data})
}

func ok(c echo.Context, msg string, data interface{}) error {
	return c.JSON(http.StatusOK, Response{Status: http.StatusOK, Message: msg, Data: data})
}

// ---------------------------------------------------------------------------
// Members
// ---------------------------------------------------------------------------

func (s *Server) register(c echo.Context) error {
	var req registerRequest
	if err := bind(c, &req); err != nil {
		return s.fail(c, err, nil)
	}
	a, err := s.eng.Register(c.Request().Context(), engine.RegisterRequest{
		Username:        req.Username,
		Sponsor:         req.Sponsor,
		PlacementParent: req.PlacementParent,
		Side:            req.Side,
	})
	if err != nil {
		return s.fail(c, err, nil)
	}
	return c.JSON(http.StatusCreated, Response{Status: http.StatusCreated, Message: "member registered", Data: a})
}

func (s *Server) getAccount(c echo.Context) error {
	a, err := s.eng.Account(c.Request().Context(), c.Param("username"))
	if err != nil {
		return s.fail(c, err, nil)
	}
	return ok(c, "ok", a)
}

func (s *Server) getSummary(c echo.Context) error {
	sum, err := s.eng.Summary(c.Request().Context(), c.Param("username"))
	if err != nil {
		return s.fail(c, err, nil)
	}
	return ok(c, "ok", sum)
}

func (s *Server) getHistory(c echo.Context) error {
	h, err := s.eng.History(c.Request().Context(), c.Param("username"))
	if err != nil {
		return s.fail(c, err, nil)
	}
	if h == nil {
		h = []*ledger.HistoryEntry{}
	}
	return ok(c, "ok", h)
}

// ---------------------------------------------------------------------------
// Money movements
// ---------------------------------------------------------------------------

func (s *Server) runDeposit(c echo.Context, msg string, fn func(req amountRequest) (*engine.DepositResult, error)) error {
	var req amountRequest
	if err := bind(c, &req); err != nil {
		return s.fail(c, err, nil)
	}
	res, err := fn(req)
	if err != nil {
		// A non-nil result means the deposit committed and a follow-up
		// distribution failed.
		return s.fail(c, err, res)
	}
	return ok(c, msg, res)
}

func (s *Server) deposit(c echo.Context) error {
	return s.runDeposit(c, "deposit recorded", func(req amountRequest) (*engine.DepositResult, error) {
		return s.eng.OnDeposit(c.Request().Context(), req.Username, req.Amount)
	})
}

func (s *Server) upgrade(c echo.Context) error {
	return s.runDeposit(c, "upgrade recorded", func(req amountRequest) (*engine.DepositResult, error) {
		return s.eng.OnUpgrade(c.Request().Context(), req.Username, req.Amount)
	})
}

func (s *Server) walletUpgrade(c echo.Context) error {
	return s.runDeposit(c, "upgrade recorded", func(req amountRequest) (*engine.DepositResult, error) {
		return s.eng.UpgradeFromWallet(c.Request().Context(), req.Username, req.Amount)
	})
}

func (s *Server) fundWallet(c echo.Context) error {
	var req amountRequest
	if err := bind(c, &req); err != nil {
		return s.fail(c, err, nil)
	}
	a, err := s.eng.FundWallet(c.Request().Context(), req.Username, req.Amount)
	if err != nil {
		return s.fail(c, err, nil)
	}
	return ok(c, "wallet funded", a)
}

func (s *Server) withdraw(c echo.Context) error {
	var req amountRequest
	if err := bind(c, &req); err != nil {
		return s.fail(c, err, nil)
	}
	a, err := s.eng.Withdraw(c.Request().Context(), req.Username, req.Amount)
	if err != nil {
		return s.fail(c, err, nil)
	}
	return ok(c, "withdrawal recorded", a)
}

func (s *Server) manualCredit(c echo.Context) error {
	var req creditRequest
	if err := bind(c, &req); err != nil {
		return s.fail(c, err, nil)
	}
	t, err := plan.ParseIncomeType(req.Type)
	if err != nil {
		return s.fail(c, err, nil)
	}
	res, err := s.eng.SendManualCredit(c.Request().Context(), req.Username, req.Amount, t, req.Remark)
	if err != nil {
		return s.fail(c, err, nil)
	}
	msg := "credited"
	if !res.OK {
		msg = "rejected: " + res.Reason.Label()
	}
	return ok(c, msg, res)
}

// ---------------------------------------------------------------------------
// Batches
// ---------------------------------------------------------------------------

func (s *Server) summary(c echo.Context, sum *batch.Summary, err error) error {
	if err != nil {
		return s.fail(c, err, sum)
	}
	return ok(c, "run finished", sum)
}

func (s *Server) runROI(c echo.Context) error {
	var req dayRequest
	if err := bind(c, &req); err != nil {
		return s.fail(c, err, nil)
	}
	sum, err := s.eng.RunDailyROI(c.Request().Context(), req.Day)
	return s.summary(c, sum, err)
}

func (s *Server) runRank(c echo.Context) error {
	var req dayRequest
	if err := bind(c, &req); err != nil {
		return s.fail(c, err, nil)
	}
	sum, err := s.eng.RunRank(c.Request().Context(), req.Day)
	return s.summary(c, sum, err)
}

func (s *Server) runBinary(c echo.Context) error {
	var req binaryRequest
	if err := bind(c, &req); err != nil {
		return s.fail(c, err, nil)
	}
	sum, err := s.eng.RunBinary(c.Request().Context(), req.Percent)
	return s.summary(c, sum, err)
}

func (s *Server) runGlobal(c echo.Context) error {
	var req globalRequest
	if err := bind(c, &req); err != nil {
		return s.fail(c, err, nil)
	}
	sum, err := s.eng.RunGlobalBonus(c.Request().Context(), req.options())
	return s.summary(c, sum, err)
}

func (s *Server) runTeam(c echo.Context) error {
	sum, err := s.eng.RunTeamRecalc(c.Request().Context())
	return s.summary(c, sum, err)
}

func (s *Server) previewGlobal(c echo.Context) error {
	var opts payout.GlobalOptions
	if v := c.QueryParam("override"); v != "" {
		d, err := decimal.NewFromString(v)
		if err != nil || d.IsNegative() {
			return s.fail(c, echo.NewHTTPError(http.StatusBadRequest, "invalid override"), nil)
		}
		opts.OverrideTotal = d
	}
	pv, err := s.eng.PreviewGlobal(c.Request().Context(), opts)
	if err != nil {
		return s.fail(c, err, nil)
	}
	return ok(c, "ok", pv)
}

// ---------------------------------------------------------------------------
// Plan
// ---------------------------------------------------------------------------

func (s *Server) getPlan(c echo.Context) error {
	p, err := s.eng.Plan(c.Request().Context())
	if err != nil {
		return s.fail(c, err, nil)
	}
	return ok(c, "ok", p)
}

func (s *Server) putPlan(c echo.Context) error {
	p := plan.Default()
	if err := c.Bind(p); err != nil {
		return s.fail(c, echo.NewHTTPError(http.StatusBadRequest, "invalid plan body"), nil)
	}
	saved, err := s.eng.SavePlan(c.Request().Context(), p)
	if err != nil {
		return s.fail(c, err, nil)
	}
	return ok(c, "plan saved", saved)
}
