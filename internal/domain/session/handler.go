package session

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinisys/consult/internal/domain/command"
	"github.com/clinisys/consult/internal/domain/completion"
	"github.com/clinisys/consult/internal/domain/draft"
	"github.com/clinisys/consult/internal/domain/orders"
	"github.com/clinisys/consult/internal/platform/recordapi"
	"github.com/clinisys/consult/pkg/pagination"
)

type Handler struct {
	cfg Config
	reg *Registry
}

func NewHandler(cfg Config, reg *Registry) *Handler {
	return &Handler{cfg: cfg, reg: reg}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/sessions", h.OpenSession)
	api.GET("/sessions/:id", h.GetSession)
	api.DELETE("/sessions/:id", h.CloseSession)

	api.PATCH("/sessions/:id/note", h.UpdateNote)
	api.POST("/sessions/:id/save", h.Save)

	api.POST("/sessions/:id/prescriptions/drug-select", h.SelectDrug)
	api.POST("/sessions/:id/prescriptions/stock-check", h.CheckStock)
	api.POST("/sessions/:id/prescriptions", h.CreatePrescription)
	api.PUT("/sessions/:id/prescriptions/:rxid", h.UpdatePrescription)
	api.DELETE("/sessions/:id/prescriptions/:rxid", h.DeletePrescription)

	api.POST("/sessions/:id/lab-orders", h.CreateLabOrder)
	api.PUT("/sessions/:id/lab-orders/:orderid", h.UpdateLabOrder)
	api.DELETE("/sessions/:id/lab-orders/:orderid", h.DeleteLabOrder)

	api.GET("/sessions/:id/summary", h.Summary)
	api.POST("/sessions/:id/complete", h.Complete)

	api.POST("/sessions/:id/keys", h.Keys)
	api.GET("/sessions/:id/journal", h.Journal)
}

func (h *Handler) session(c echo.Context) (*Session, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid session id")
	}
	s, err := h.reg.Get(id)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusNotFound, "session not found")
	}
	return s, nil
}

// mapError translates workflow errors into HTTP responses. The taxonomy
// matters to clients: expired sessions mean re-authenticate, validation
// errors carry field messages, transient errors are retryable.
func mapError(err error) error {
	var ve *recordapi.ValidationError
	var ae *orders.AllergyError
	var se *completion.StepError
	switch {
	case errors.As(err, &se):
		inner := mapError(se.Err)
		if he, ok := inner.(*echo.HTTPError); ok {
			return echo.NewHTTPError(he.Code, map[string]interface{}{
				"step":    se.Step,
				"message": he.Message,
			})
		}
		return inner
	case errors.As(err, &ve):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, map[string]interface{}{
			"message": ve.Message,
			"fields":  ve.Fields,
		})
	case errors.As(err, &ae):
		return echo.NewHTTPError(http.StatusConflict, map[string]interface{}{
			"message":   ae.Message,
			"drug_code": ae.DrugCode,
		})
	case errors.Is(err, recordapi.ErrSessionExpired):
		return echo.NewHTTPError(http.StatusUnauthorized, "record service session expired, sign in again")
	case recordapi.IsTransient(err):
		return echo.NewHTTPError(http.StatusBadGateway, map[string]interface{}{
			"message":   err.Error(),
			"retryable": true,
		})
	case errors.Is(err, orders.ErrEncounterCompleted),
		errors.Is(err, draft.ErrReadOnly),
		errors.Is(err, completion.ErrAlreadyCompleted),
		errors.Is(err, ErrEncounterNotOpen),
		errors.Is(err, ErrEncounterInUse):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, completion.ErrCommitInProgress):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

func (h *Handler) OpenSession(c echo.Context) error {
	var req struct {
		EncounterID uuid.UUID `json:"encounter_id"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.EncounterID == uuid.Nil {
		return echo.NewHTTPError(http.StatusBadRequest, "encounter_id is required")
	}
	s, err := Open(c.Request().Context(), h.cfg, req.EncounterID)
	if err != nil {
		return mapError(err)
	}
	if err := h.reg.Add(s); err != nil {
		s.Close()
		return mapError(err)
	}
	return c.JSON(http.StatusCreated, s.View())
}

func (h *Handler) GetSession(c echo.Context) error {
	s, err := h.session(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, s.View())
}

func (h *Handler) CloseSession(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid session id")
	}
	if err := h.reg.Remove(id); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) UpdateNote(c echo.Context) error {
	s, err := h.session(c)
	if err != nil {
		return err
	}
	var u draft.Update
	if err := c.Bind(&u); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := s.UpdateNote(c.Request().Context(), u); err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, s.View())
}

func (h *Handler) Save(c echo.Context) error {
	s, err := h.session(c)
	if err != nil {
		return err
	}
	if err := s.ForceSave(c.Request().Context()); err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, s.View())
}

func (h *Handler) SelectDrug(c echo.Context) error {
	s, err := h.session(c)
	if err != nil {
		return err
	}
	var req struct {
		DrugCode string `json:"drug_code"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.DrugCode == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "drug_code is required")
	}
	report, err := s.Prescriptions().SelectDrug(c.Request().Context(), req.DrugCode)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, report)
}

func (h *Handler) CheckStock(c echo.Context) error {
	s, err := h.session(c)
	if err != nil {
		return err
	}
	var req struct {
		DrugCode string `json:"drug_code"`
		Quantity int    `json:"quantity"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	result, err := s.Prescriptions().RevalidateStock(c.Request().Context(), req.DrugCode, req.Quantity)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, result)
}

func (h *Handler) CreatePrescription(c echo.Context) error {
	s, err := h.session(c)
	if err != nil {
		return err
	}
	var in orders.PrescriptionInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	rx, err := s.Prescriptions().Create(c.Request().Context(), in)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusCreated, rx)
}

func (h *Handler) UpdatePrescription(c echo.Context) error {
	s, err := h.session(c)
	if err != nil {
		return err
	}
	rxID, err := uuid.Parse(c.Param("rxid"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid prescription id")
	}
	var in orders.PrescriptionInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	rx, err := s.Prescriptions().Update(c.Request().Context(), rxID, in)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, rx)
}

func (h *Handler) DeletePrescription(c echo.Context) error {
	s, err := h.session(c)
	if err != nil {
		return err
	}
	rxID, err := uuid.Parse(c.Param("rxid"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid prescription id")
	}
	if err := s.Prescriptions().Delete(c.Request().Context(), rxID); err != nil {
		return mapError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) CreateLabOrder(c echo.Context) error {
	s, err := h.session(c)
	if err != nil {
		return err
	}
	var in orders.LabOrderInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	o, err := s.LabOrders().Create(c.Request().Context(), in)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusCreated, o)
}

func (h *Handler) UpdateLabOrder(c echo.Context) error {
	s, err := h.session(c)
	if err != nil {
		return err
	}
	orderID, err := uuid.Parse(c.Param("orderid"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid lab order id")
	}
	var in orders.LabOrderInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	o, err := s.LabOrders().Update(c.Request().Context(), orderID, in)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, o)
}

func (h *Handler) DeleteLabOrder(c echo.Context) error {
	s, err := h.session(c)
	if err != nil {
		return err
	}
	orderID, err := uuid.Parse(c.Param("orderid"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid lab order id")
	}
	if err := s.LabOrders().Delete(c.Request().Context(), orderID); err != nil {
		return mapError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) Summary(c echo.Context) error {
	s, err := h.session(c)
	if err != nil {
		return err
	}
	summary, err := s.Review()
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, summary)
}

func (h *Handler) Complete(c echo.Context) error {
	s, err := h.session(c)
	if err != nil {
		return err
	}
	result, err := s.Commit(c.Request().Context())
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"result": result,
		"view":   s.View(),
	})
}

func (h *Handler) Keys(c echo.Context) error {
	s, err := h.session(c)
	if err != nil {
		return err
	}
	var ks command.Keystroke
	if err := c.Bind(&ks); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	intent, err := s.Dispatch(c.Request().Context(), ks)
	switch {
	case err == nil:
		return c.JSON(http.StatusOK, map[string]interface{}{
			"intent":     intent,
			"dispatched": true,
		})
	case errors.Is(err, command.ErrUnbound),
		errors.Is(err, command.ErrSuppressed),
		errors.Is(err, command.ErrReadOnly):
		return c.JSON(http.StatusOK, map[string]interface{}{
			"intent":     intent,
			"dispatched": false,
			"reason":     err.Error(),
		})
	default:
		return mapError(err)
	}
}

func (h *Handler) Journal(c echo.Context) error {
	s, err := h.session(c)
	if err != nil {
		return err
	}
	if h.cfg.Journal == nil {
		return echo.NewHTTPError(http.StatusNotFound, "journal is not enabled")
	}
	pg := pagination.FromContext(c)
	items, total, err := h.cfg.Journal.ListByEncounter(c.Request().Context(), s.EncounterID, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}
