package handler

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/sentineledu/sentinel-backend/internal/middleware"
	"github.com/sentineledu/sentinel-backend/internal/model"
	"github.com/sentineledu/sentinel-backend/internal/proctor"
	"github.com/sentineledu/sentinel-backend/internal/service"
	ws "github.com/sentineledu/sentinel-backend/internal/websocket"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler streams a live attempt over WebSocket: answers, review
// flags and integrity signals flow up; warnings, time advisories and
// the submission outcome are pushed down.
type WSHandler struct {
	attemptService *service.AttemptService
	log            zerolog.Logger
	upgrader       websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(attemptService *service.AttemptService, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		attemptService: attemptService,
		log:            log.With().Str("component", "ws_handler").Logger(),
		upgrader:       buildUpgrader(allowedOrigins),
	}
}

// AttemptStream godoc
// WS /ws/v1/student/attempts/:attempt_id/stream
// Upgrades to WebSocket for the live attempt event stream.
func (h *WSHandler) AttemptStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	attemptID, err := uuid.Parse(c.Param("attempt_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid attempt ID"})
		return
	}

	studentID := claims.StudentID

	// Bring up (or rebuild) the session before upgrading, so a bad
	// attempt id fails as plain HTTP.
	sess, err := h.attemptService.Session(c.Request.Context(), attemptID, studentID)
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}

	raw, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	conn := ws.Wrap(raw)
	defer conn.Close()

	wsLog := h.log.With().
		Int("student_id", studentID).
		Str("attempt_id", attemptID.String()).
		Logger()

	wsLog.Info().Msg("Student connected")

	// Push session events for the lifetime of this connection.
	unsubscribe := h.attemptService.Subscribe(attemptID, func(e proctor.Event) {
		_ = conn.Write(ws.SessionEvent{Event: ws.EventSession, Payload: e})
	})
	defer unsubscribe()

	// Initial snapshot so a reloading client can re-render immediately.
	snap := sess.State()
	_ = conn.Write(ws.SnapshotResponse{Event: ws.EventSnapshot, Snapshot: &snap})

	for {
		var msg ws.RequestPayload
		if err := conn.Read(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			break
		}

		switch msg.Action {
		case ws.ActionAnswer:
			h.handleAnswer(c, conn, attemptID, studentID, &msg)
		case ws.ActionFlag:
			h.handleFlag(c, conn, attemptID, studentID, &msg)
		case ws.ActionSignal:
			h.handleSignal(c, conn, attemptID, studentID, &msg)
		case ws.ActionSubmit:
			if err := h.attemptService.Submit(c.Request.Context(), attemptID, studentID); err != nil {
				conn.WriteError(err.Error())
			}
		case ws.ActionRetry:
			if err := h.attemptService.RetrySubmit(c.Request.Context(), attemptID, studentID); err != nil {
				conn.WriteError(err.Error())
			}
		case ws.ActionState:
			state, err := h.attemptService.State(c.Request.Context(), attemptID, studentID)
			if err != nil {
				conn.WriteError(err.Error())
				continue
			}
			_ = conn.Write(ws.SnapshotResponse{Event: ws.EventSnapshot, Snapshot: state})
		case ws.ActionPing:
			_ = conn.Write(ws.PongResponse{Event: ws.EventPong})
		default:
			wsLog.Warn().Str("action", string(msg.Action)).Msg("Unknown action")
			conn.WriteError("unknown action: " + string(msg.Action))
		}
	}
}

func (h *WSHandler) handleAnswer(c *gin.Context, conn *ws.Conn, attemptID uuid.UUID, studentID int, msg *ws.RequestPayload) {
	questionID, err := uuid.Parse(msg.QID)
	if err != nil {
		conn.WriteError("invalid q_id format")
		return
	}

	ans := model.Answer{Value: msg.Value, Selections: msg.Selections}
	if err := h.attemptService.SubmitAnswer(c.Request.Context(), attemptID, studentID, questionID, ans); err != nil {
		if errors.Is(err, proctor.ErrUnknownQuestion) {
			conn.WriteError("question does not belong to this exam")
			return
		}
		conn.WriteError(err.Error())
		return
	}
	_ = conn.Write(ws.SavedResponse{Event: ws.EventSaved, QID: msg.QID})
}

func (h *WSHandler) handleFlag(c *gin.Context, conn *ws.Conn, attemptID uuid.UUID, studentID int, msg *ws.RequestPayload) {
	questionID, err := uuid.Parse(msg.QID)
	if err != nil {
		conn.WriteError("invalid q_id format")
		return
	}

	flagged, err := h.attemptService.ToggleFlag(c.Request.Context(), attemptID, studentID, questionID)
	if err != nil {
		conn.WriteError(err.Error())
		return
	}
	_ = conn.Write(ws.FlaggedResponse{Event: ws.EventFlagged, QID: msg.QID, Flagged: flagged})
}

func (h *WSHandler) handleSignal(c *gin.Context, conn *ws.Conn, attemptID uuid.UUID, studentID int, msg *ws.RequestPayload) {
	sig := proctor.Signal{
		Kind:   proctor.SignalKind(msg.Kind),
		Key:    msg.Key,
		Detail: msg.Detail,
		At:     time.Now(),
	}

	cls, recorded, err := h.attemptService.ReportSignal(c.Request.Context(), attemptID, studentID, sig)
	if err != nil {
		conn.WriteError(err.Error())
		return
	}
	resp := ws.SignalResponse{Event: ws.EventSignal, Recorded: recorded, Prevent: cls.Prevent}
	if recorded {
		resp.Kind = string(cls.Warning.Kind)
	}
	_ = conn.Write(resp)
}
