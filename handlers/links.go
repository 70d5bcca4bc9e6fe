package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/padraicbc/racedata/models"
)

// EventLinks lists driver links for everyone entered in an event.
func (h *Handler) EventLinks(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	links, err := h.links.EventLinks(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	if links == nil {
		links = []models.DriverLink{}
	}
	return c.JSON(http.StatusOK, links)
}

func (h *Handler) ConfirmLink(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	link, err := h.links.Confirm(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, link)
}

func (h *Handler) RejectLink(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	link, err := h.links.Reject(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, link)
}
