package ebarimt

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/shurenclinic/clinic-api/internal/platform/auth"
	"github.com/shurenclinic/clinic-api/pkg/pagination"
)

// Handler exposes the fiscal receipt operations over HTTP.
type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes mounts the receipt endpoints on the API group.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	billing := auth.RequireRole("billing")

	g.POST("/invoices/:id/ebarimt", h.Issue, billing)
	g.DELETE("/invoices/:id/ebarimt", h.Refund, billing)
	g.GET("/invoices/:id/ebarimt", h.GetReceipt, billing)

	eb := g.Group("/ebarimt", billing)
	eb.GET("/receipts", h.ListReceipts)
	eb.GET("/info", h.Info)
	eb.POST("/send", h.SendData)
	eb.GET("/bank-accounts", h.BankAccounts)
}

func invoiceIDParam(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid invoice id")
	}
	return id, nil
}

func (h *Handler) Issue(c echo.Context) error {
	id, err := invoiceIDParam(c)
	if err != nil {
		return err
	}
	userID := auth.UserIDFromContext(c.Request().Context())
	result, err := h.service.Issue(c.Request().Context(), id, userID)
	if err != nil {
		if IsPrecondition(err) {
			return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to issue receipt")
	}
	return c.JSON(http.StatusOK, result)
}

func (h *Handler) Refund(c echo.Context) error {
	id, err := invoiceIDParam(c)
	if err != nil {
		return err
	}
	userID := auth.UserIDFromContext(c.Request().Context())
	if err := h.service.Refund(c.Request().Context(), id, userID); err != nil {
		if IsPrecondition(err) {
			return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
		}
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]bool{"success": true})
}

func (h *Handler) GetReceipt(c echo.Context) error {
	id, err := invoiceIDParam(c)
	if err != nil {
		return err
	}
	rec, err := h.service.Get(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) ListReceipts(c echo.Context) error {
	p := pagination.FromContext(c)
	receipts, total, err := h.service.List(c.Request().Context(), c.QueryParam("status"), p.Limit, p.Offset)
	if err != nil {
		if IsPrecondition(err) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list receipts")
	}
	if receipts == nil {
		receipts = []*Receipt{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(receipts, total, p.Limit, p.Offset))
}

func (h *Handler) Info(c echo.Context) error {
	info, err := h.service.Info(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.JSON(http.StatusOK, info)
}

func (h *Handler) SendData(c echo.Context) error {
	resp, err := h.service.SendData(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) BankAccounts(c echo.Context) error {
	accounts, err := h.service.BankAccounts(c.Request().Context(), c.QueryParam("tin"))
	if err != nil {
		if IsPrecondition(err) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.JSON(http.StatusOK, accounts)
}
