package reporting

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/optiflow/flow/internal/domain/patientflow"
	"github.com/optiflow/flow/internal/platform/auth"
)

// Handler serves the flow report download.
type Handler struct {
	svc *patientflow.Service
}

func NewHandler(svc *patientflow.Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/reports", auth.RequireRole(auth.RoleFloorLead))
	g.GET("/flow.xlsx", h.FlowReport)
}

const xlsxMIME = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

func (h *Handler) FlowReport(c echo.Context) error {
	engine := h.svc.Engine()
	now := engine.Clock().Now()
	f, err := FlowReport(engine.List(), engine.Zones(), now)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	defer f.Close()

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, xlsxMIME)
	res.Header().Set(echo.HeaderContentDisposition,
		fmt.Sprintf(`attachment; filename="flow-%s.xlsx"`, now.Format("20060102-1504")))
	res.WriteHeader(http.StatusOK)
	_, err = f.WriteTo(res)
	return err
}
