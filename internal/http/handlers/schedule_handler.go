// Schedule HTTP handlers.
//
// This file exposes the calendar export endpoint:
//   - GET /api/v1/schedules/{id}/calendar.ics
//
// The rendered file lets a consultant (or the lead) import the confirmed
// call slot into any calendar client.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cenatlabs/go-sdr-whatsapp/internal/ics"
	"github.com/cenatlabs/go-sdr-whatsapp/internal/repo"
)

// GetScheduleCalendar streams the schedule as an iCalendar document.
func (h *Handlers) GetScheduleCalendar(c *gin.Context) {
	id := c.Param("id")

	schedule, err := repo.GetSchedule(c.Request.Context(), h.db, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "schedule not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "could not load schedule")
		return
	}

	c.Header("Content-Disposition", `attachment; filename="`+ics.Filename(schedule)+`"`)
	c.Data(http.StatusOK, "text/calendar; charset=utf-8", []byte(ics.Render(schedule)))
}
