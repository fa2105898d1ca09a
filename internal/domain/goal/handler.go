package goal

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/psyrehab/rehab/internal/platform/auth"
	"github.com/psyrehab/rehab/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole(auth.RoleTherapist, auth.RoleCaretaker))
	read.GET("/milestones/:id", h.GetMilestone)
	read.GET("/patients/:id/milestones", h.ListMilestones)
	read.GET("/patients/:id/milestones/tree", h.GetTree)
	read.GET("/patients/:id/cascade", h.GetPendingCascade)

	edit := api.Group("", auth.RequireRole(auth.RoleTherapist, auth.RoleCaretaker))
	edit.PUT("/milestones/:id/status", h.UpdateLeafStatus)

	confirm := api.Group("", auth.RequireRole(auth.RoleTherapist))
	confirm.POST("/milestones", h.CreateMilestone)
	confirm.POST("/cascades/:outcome_id/confirm", h.ConfirmCascade)
	confirm.POST("/cascades/:outcome_id/decline", h.DeclineCascade)
	confirm.POST("/patients/:id/acknowledge-completion", h.AcknowledgeCompletion)
}

// httpError maps engine errors onto HTTP statuses.
func httpError(err error) error {
	switch {
	case errors.Is(err, ErrInvalidInput):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "milestone not found")
	case errors.Is(err, ErrInvalidStateTransition):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrStoreRead), errors.Is(err, ErrStoreWrite):
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

func parseID(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return id, nil
}

func (h *Handler) CreateMilestone(c echo.Context) error {
	var m Milestone
	if err := c.Bind(&m); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateMilestone(c.Request().Context(), &m); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, m)
}

func (h *Handler) GetMilestone(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	m, err := h.svc.GetMilestone(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, m)
}

func (h *Handler) ListMilestones(c echo.Context) error {
	pid, err := parseID(c, "id")
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListMilestonesByPatient(c.Request().Context(), pid, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset).WithNext(c.Request().URL.Path))
}

func (h *Handler) GetTree(c echo.Context) error {
	pid, err := parseID(c, "id")
	if err != nil {
		return err
	}
	tree, err := h.svc.Tree(c.Request().Context(), pid)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, tree)
}

func (h *Handler) GetPendingCascade(c echo.Context) error {
	pid, err := parseID(c, "id")
	if err != nil {
		return err
	}
	conf, err := h.svc.PendingConfirmation(c.Request().Context(), pid)
	if err != nil {
		return httpError(err)
	}
	if conf == nil {
		return c.NoContent(http.StatusNoContent)
	}
	return c.JSON(http.StatusOK, conf)
}

type statusRequest struct {
	Status Status `json:"status"`
}

type statusResponse struct {
	Milestone      *Milestone `json:"milestone"`
	CascadeOffered *Milestone `json:"cascade_offered"`
}

func (h *Handler) UpdateLeafStatus(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var req statusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	leaf, res, err := h.svc.UpdateLeafStatus(c.Request().Context(), id, req.Status)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, statusResponse{Milestone: leaf, CascadeOffered: res.Offered})
}

func (h *Handler) ConfirmCascade(c echo.Context) error {
	id, err := parseID(c, "outcome_id")
	if err != nil {
		return err
	}
	res, err := h.svc.ConfirmCascade(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) DeclineCascade(c echo.Context) error {
	id, err := parseID(c, "outcome_id")
	if err != nil {
		return err
	}
	if err := h.svc.DeclineCascade(c.Request().Context(), id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) AcknowledgeCompletion(c echo.Context) error {
	pid, err := parseID(c, "id")
	if err != nil {
		return err
	}
	if err := h.svc.AcknowledgeAllGoalsComplete(c.Request().Context(), pid); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}
