// Package httpserver wires the HTTP and websocket surface: the Twilio voice
// webhook, the media-stream endpoint that feeds the bridge, lead CRUD and
// operational endpoints.
package httpserver

import (
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/twilio/twilio-go/twiml"

	"github.com/neonpush/elevenlabs-realtime-agent/internal/bridge"
	"github.com/neonpush/elevenlabs-realtime-agent/internal/config"
	"github.com/neonpush/elevenlabs-realtime-agent/internal/convai"
	"github.com/neonpush/elevenlabs-realtime-agent/internal/lead"
	"github.com/neonpush/elevenlabs-realtime-agent/internal/middleware"
	"github.com/neonpush/elevenlabs-realtime-agent/internal/telephony"
)

// CallStarter places outbound calls. Satisfied by telephony.Caller.
type CallStarter interface {
	StartCall(toNumber, voiceURL string) (string, error)
}

// Server bundles the router and its dependencies.
type Server struct {
	Router http.Handler

	cfg    config.Config
	pool   *convai.Pool
	leads  lead.Store
	caller CallStarter

	upgrader websocket.Upgrader
}

// New constructs the HTTP server with all routes registered. caller may be
// nil when outbound calling is not configured.
func New(cfg config.Config, pool *convai.Pool, leads lead.Store, caller CallStarter) *Server {
	s := &Server{
		cfg:    cfg,
		pool:   pool,
		leads:  leads,
		caller: caller,
		upgrader: websocket.Upgrader{
			// Twilio's media stream client sends no Origin header.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Recover())
	e.Use(middleware.TwilioAuth(cfg.TwilioAuthToken))

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	e.POST("/twilio/voice", s.voice)
	e.GET("/media", s.media)

	e.POST("/leads", s.createLead)
	e.GET("/leads/:phone", s.getLead)
	e.POST("/calls", s.startCall)

	s.Router = e
	return s
}

// voice answers Twilio's voice webhook with TwiML that opens a bidirectional
// media stream back to this server, carrying the caller number as a custom
// parameter so the bridge can load the lead.
func (s *Server) voice(c echo.Context) error {
	params, ok := c.Get(middleware.TwilioParamsKey).(map[string]string)
	if !ok {
		return c.String(http.StatusInternalServerError, "missing Twilio parameters")
	}

	from := params["From"]
	log.Printf("voice webhook: call from %s (sid %s)", from, params["CallSid"])

	stream := &twiml.VoiceStream{
		Url: fmt.Sprintf("wss://%s/media", s.publicHost(c)),
		InnerElements: []twiml.Element{
			&twiml.VoiceParameter{Name: "caller", Value: from},
		},
	}
	connect := &twiml.VoiceConnect{InnerElements: []twiml.Element{stream}}
	response, err := twiml.Voice([]twiml.Element{connect})
	if err != nil {
		return c.String(http.StatusInternalServerError, "failed to build TwiML")
	}

	c.Response().Header().Set(echo.HeaderContentType, "application/xml")
	return c.String(http.StatusOK, response)
}

// media upgrades the websocket and runs one bridge session for the lifetime
// of the stream.
func (s *Server) media(c echo.Context) error {
	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer ws.Close()

	session := bridge.NewSession(s.pool, telephony.NewWriter(ws), s.leads, s.cfg.VAD)
	defer session.Close()

	ctx := c.Request().Context()
	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("media stream closed: %v", err)
			}
			return nil
		}
		session.HandleTelephonyMessage(ctx, raw)
	}
}

func (s *Server) createLead(c echo.Context) error {
	var l lead.Lead
	if err := c.Bind(&l); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid lead payload"})
	}
	if l.Phone == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "phone is required"})
	}
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	if err := s.leads.Upsert(c.Request().Context(), &l); err != nil {
		log.Printf("lead upsert failed: %v", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to store lead"})
	}
	return c.JSON(http.StatusCreated, l)
}

func (s *Server) getLead(c echo.Context) error {
	phone := c.Param("phone")
	l, err := s.leads.Get(c.Request().Context(), phone)
	if err != nil {
		if err == lead.ErrNotFound {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "lead not found"})
		}
		log.Printf("lead lookup failed: %v", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "lead lookup failed"})
	}
	return c.JSON(http.StatusOK, l)
}

// startCall places an outbound call whose webhook lands back on /twilio/voice,
// so outbound and inbound calls share the same bridge path.
func (s *Server) startCall(c echo.Context) error {
	if s.caller == nil {
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "outbound calling not configured"})
	}

	var req struct {
		To string `json:"to"`
	}
	if err := c.Bind(&req); err != nil || req.To == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "to number is required"})
	}

	voiceURL := fmt.Sprintf("https://%s/twilio/voice", s.publicHost(c))
	sid, err := s.caller.StartCall(req.To, voiceURL)
	if err != nil {
		log.Printf("outbound call to %s failed: %v", req.To, err)
		return c.JSON(http.StatusBadGateway, echo.Map{"error": "failed to start call"})
	}
	return c.JSON(http.StatusCreated, echo.Map{"call_sid": sid})
}

// publicHost picks the externally reachable host for callback URLs:
// configured host first, then forwarded headers, then the request host.
func (s *Server) publicHost(c echo.Context) string {
	if s.cfg.PublicHost != "" {
		return strings.TrimSuffix(s.cfg.PublicHost, "/")
	}
	if fwd := c.Request().Header.Get("X-Forwarded-Host"); fwd != "" {
		return fwd
	}
	return c.Request().Host
}
