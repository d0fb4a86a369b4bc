package http

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Abhinav-676/telehealth-landing/internal/rtc"
)

// Handlers exposes the browser consult surface: HTTP offer/answer for
// simple clients and a websocket with trickle ICE for the rest.
type Handlers struct {
	RTC          *rtc.Handler
	AuthPassword string
}

func NewHandlers(rtcHandler *rtc.Handler, authPassword string) Handlers {
	return Handlers{RTC: rtcHandler, AuthPassword: authPassword}
}

func (h Handlers) Register(e *echo.Echo) {
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.POST("/consult", h.consult)
	e.GET("/consult/ws", h.consultWS)
}

// consult accepts an SDP offer and replies with a gathered answer.
func (h Handlers) consult(c echo.Context) error {
	if h.AuthPassword != "" && !rtc.AuthOK(c.Request(), h.AuthPassword) {
		return c.String(http.StatusUnauthorized, "unauthorized")
	}

	var offer rtc.SessionDescription
	if err := c.Bind(&offer); err != nil {
		return c.String(http.StatusBadRequest, "invalid offer")
	}
	if offer.Type != "offer" || offer.SDP == "" {
		return c.String(http.StatusBadRequest, "invalid offer")
	}

	answer, err := h.RTC.HandleOffer(c.Request().Context(), offer)
	if err != nil {
		c.Echo().Logger.Errorf("handle offer failed: %v", err)
		return c.String(http.StatusInternalServerError, "failed to start consult")
	}
	return c.JSON(http.StatusOK, answer)
}

func (h Handlers) consultWS(c echo.Context) error {
	h.RTC.ServeWebSocket(c.Response(), c.Request())
	return nil
}
