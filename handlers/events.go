package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/padraicbc/racedata/ingest"
	"github.com/padraicbc/racedata/matching"
	"github.com/padraicbc/racedata/models"
)

type newEvent struct {
	SourceEventID string `json:"sourceEventId"`
	TrackID       int64  `json:"trackId"`
	Name          string `json:"name"`
}

// Events lists known events, newest first.
func (h *Handler) Events(c echo.Context) error {
	events, err := h.store.ListEvents(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, events)
}

// CreateEvent registers an event from the timing source so it can be ingested.
func (h *Handler) CreateEvent(c echo.Context) error {
	var in newEvent
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	in.SourceEventID = strings.TrimSpace(in.SourceEventID)
	if in.SourceEventID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "sourceEventId is required")
	}

	ev := &models.Event{SourceEventID: in.SourceEventID, TrackID: in.TrackID, Name: strings.TrimSpace(in.Name)}
	if err := h.store.CreateEvent(c.Request().Context(), ev); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, ev)
}

// IngestEvent imports an event to the requested depth (laps_full when the
// depth query param is empty). A failed run still answers with the outcome
// body: 503 when retrying later may help, 502 otherwise.
func (h *Handler) IngestEvent(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	depth, err := models.ParseDepth(c.QueryParam("depth"))
	if err != nil || depth == models.DepthNone {
		return echo.NewHTTPError(http.StatusBadRequest, "depth must be one of entries, results, laps_full")
	}

	out, err := h.ingest.Ingest(c.Request().Context(), id, depth)
	if err != nil {
		return httpError(err)
	}

	code := http.StatusOK
	if out.Status == ingest.StatusFailed {
		code = http.StatusBadGateway
		if out.Retryable {
			code = http.StatusServiceUnavailable
		}
		h.log.Warn("ingest failed",
			zap.Int64("event_id", id),
			zap.String("run_id", out.RunID),
			zap.String("reason", out.Reason),
			zap.Bool("retryable", out.Retryable),
		)
	}
	return c.JSON(code, out)
}

// EventStatus reports the depth reached and stored row counts.
func (h *Handler) EventStatus(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	st, err := h.ingest.Status(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, st)
}

// ResolveTransponder answers which transponder a driver used in a race of an
// event. Without a race param it resolves for the event as a whole.
func (h *Handler) ResolveTransponder(c echo.Context) error {
	eventID, err := paramID(c, "id")
	if err != nil {
		return err
	}
	driverID, err := paramID(c, "driverID")
	if err != nil {
		return err
	}

	var raceID *int64
	if r := c.QueryParam("race"); r != "" {
		v, err := strconv.ParseInt(r, 10, 64)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "race must be an integer")
		}
		raceID = &v
	}

	res, err := h.resolver.Resolve(c.Request().Context(), driverID, eventID, raceID, c.QueryParam("class"))
	if err != nil {
		return httpError(err)
	}
	if !res.Found() {
		return echo.NewHTTPError(http.StatusNotFound, "no transponder known for driver")
	}
	return c.JSON(http.StatusOK, res)
}

// ReconcileEvent reruns driver matching for an event.
func (h *Handler) ReconcileEvent(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	changes, err := h.links.ReconcileDriverLinks(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	if changes == nil {
		changes = []matching.LinkChange{}
	}
	return c.JSON(http.StatusOK, changes)
}
