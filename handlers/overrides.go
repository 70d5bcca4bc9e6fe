package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/padraicbc/racedata/matching"
	"github.com/padraicbc/racedata/models"
)

// Overrides lists an event's transponder overrides.
func (h *Handler) Overrides(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	list, err := h.overrides.List(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	if list == nil {
		list = []models.TransponderOverride{}
	}
	return c.JSON(http.StatusOK, list)
}

// CreateOverride records a transponder change for a driver. Admin only.
func (h *Handler) CreateOverride(c echo.Context) error {
	if err := h.requireAdmin(c); err != nil {
		return err
	}
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	var in matching.OverrideInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	username, _ := c.Get("username").(string)
	o, err := h.overrides.Create(c.Request().Context(), id, in, username)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, o)
}

func (h *Handler) UpdateOverride(c echo.Context) error {
	if err := h.requireAdmin(c); err != nil {
		return err
	}
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	var in matching.OverrideInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	o, err := h.overrides.Update(c.Request().Context(), id, in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, o)
}

func (h *Handler) DeleteOverride(c echo.Context) error {
	if err := h.requireAdmin(c); err != nil {
		return err
	}
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	if err := h.overrides.Delete(c.Request().Context(), id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}
