package patientflow

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/optiflow/flow/internal/platform/auth"
	"github.com/optiflow/flow/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts staff endpoints on api and the patient-facing
// tracking endpoint on public.
func (h *Handler) RegisterRoutes(api *echo.Group, public *echo.Group) {
	api.GET("/patients", h.ListPatients)
	api.GET("/patients/:id", h.GetPatient)
	api.GET("/queues/:department", h.GetQueue)

	desk := api.Group("", auth.RequireRole(auth.RoleStaff))
	desk.POST("/patients/register", h.RegisterPatient)
	desk.POST("/patients", h.AdmitPatient)

	clinical := api.Group("", auth.RequireRole(auth.RoleFloorLead, auth.RoleDoctor))
	clinical.POST("/patients/:id/advance", h.Advance)
	clinical.PATCH("/patients/:id/status", h.SetStatus)
	clinical.PUT("/patients/:id/records/:zone", h.SaveRecord)
	clinical.PUT("/patients/:id/drafts/:zone", h.SaveDraft)

	floor := api.Group("", auth.RequireRole(auth.RoleFloorLead))
	floor.POST("/patients/:id/reroute", h.Reroute)
	floor.GET("/board", h.GetBoard)

	public.GET("/track/:token", h.Track)
}

// httpError maps engine error kinds to HTTP statuses.
func httpError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrInvalidTransition):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

func (h *Handler) RegisterPatient(c echo.Context) error {
	var req RegistrationRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	reg, err := h.svc.Register(c.Request().Context(), req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, reg)
}

func (h *Handler) AdmitPatient(c echo.Context) error {
	var p Patient
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	admitted, err := h.svc.Admit(c.Request().Context(), &p)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, admitted)
}

func (h *Handler) ListPatients(c echo.Context) error {
	var f ListFilter
	if v := c.QueryParam("department"); v != "" {
		d, ok := ParseDepartment(v)
		if !ok {
			return echo.NewHTTPError(http.StatusBadRequest, "unknown department: "+v)
		}
		f.Department = d
	}
	if v := c.QueryParam("status"); v != "" {
		s := PatientStatus(v)
		if !validStatuses[s] {
			return echo.NewHTTPError(http.StatusBadRequest, "unknown status: "+v)
		}
		f.Status = s
	}

	all := h.svc.List(c.Request().Context(), f)
	pg := pagination.FromContext(c)
	start, end := pg.Window(len(all))
	return c.JSON(http.StatusOK, pagination.NewResponse(all[start:end], len(all), pg))
}

func (h *Handler) GetPatient(c echo.Context) error {
	p, err := h.svc.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) Advance(c echo.Context) error {
	p, err := h.svc.Advance(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, p)
}

type statusRequest struct {
	Department string `json:"department"`
	Status     string `json:"status"`
}

func (h *Handler) SetStatus(c echo.Context) error {
	var req statusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	dept, ok := ParseDepartment(req.Department)
	if !ok {
		return echo.NewHTTPError(http.StatusBadRequest, "unknown department: "+req.Department)
	}
	p, err := h.svc.SetStatus(c.Request().Context(), c.Param("id"), dept, PatientStatus(req.Status))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, p)
}

type rerouteRequest struct {
	SkipDepartment string `json:"skip_department"`
}

func (h *Handler) Reroute(c echo.Context) error {
	var req rerouteRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	dept, ok := ParseDepartment(req.SkipDepartment)
	if !ok {
		return echo.NewHTTPError(http.StatusBadRequest, "unknown department: "+req.SkipDepartment)
	}
	p, err := h.svc.Reroute(c.Request().Context(), c.Param("id"), dept)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func zoneParam(c echo.Context) (ZoneKind, error) {
	z, ok := ParseZoneKind(c.Param("zone"))
	if !ok {
		return "", echo.NewHTTPError(http.StatusBadRequest, "unknown zone: "+c.Param("zone"))
	}
	return z, nil
}

func (h *Handler) SaveRecord(c echo.Context) error {
	zone, err := zoneParam(c)
	if err != nil {
		return err
	}
	var rec ZoneRecord
	switch zone {
	case ZoneRefraction:
		rec = &RefractionData{}
	case ZoneDilation:
		rec = &DilationData{}
	case ZoneConsultation:
		rec = &ConsultationData{}
	}
	if err := c.Bind(rec); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p, err := h.svc.SaveRecord(c.Request().Context(), c.Param("id"), rec)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) SaveDraft(c echo.Context) error {
	zone, err := zoneParam(c)
	if err != nil {
		return err
	}
	var draft ZoneDraft
	switch zone {
	case ZoneRefraction:
		draft = &RefractionDraft{}
	case ZoneDilation:
		draft = &DilationDraft{}
	case ZoneConsultation:
		draft = &ConsultationDraft{}
	}
	if err := c.Bind(draft); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.SaveDraft(c.Request().Context(), c.Param("id"), draft); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) GetQueue(c echo.Context) error {
	dept, ok := ParseDepartment(c.Param("department"))
	if !ok {
		return echo.NewHTTPError(http.StatusBadRequest, "unknown department: "+c.Param("department"))
	}
	return c.JSON(http.StatusOK, h.svc.Queue(c.Request().Context(), dept))
}

func (h *Handler) GetBoard(c echo.Context) error {
	return c.JSON(http.StatusOK, h.svc.Board(c.Request().Context()))
}

func (h *Handler) Track(c echo.Context) error {
	v, err := h.svc.Track(c.Request().Context(), c.Param("token"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, v)
}
