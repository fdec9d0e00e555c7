package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/immxrtalbeast/mentorlink/internal/api/http/converter"
	"github.com/immxrtalbeast/mentorlink/internal/config"
	"github.com/immxrtalbeast/mentorlink/internal/domain"
	"github.com/immxrtalbeast/mentorlink/internal/service"
	"github.com/immxrtalbeast/mentorlink/lib/logger/sl"
	"github.com/pion/webrtc/v3"
)

type SessionController struct {
	sessions   service.SessionInteractor
	iceServers []webrtc.ICEServer
	opts       config.SignalingConfig
	log        *slog.Logger
	upgrader   websocket.Upgrader
}

func NewSessionController(
	sessions service.SessionInteractor,
	iceServers []webrtc.ICEServer,
	opts config.SignalingConfig,
	log *slog.Logger,
) *SessionController {
	return &SessionController{
		sessions:   sessions,
		iceServers: iceServers,
		opts:       opts,
		log:        log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

func (c *SessionController) CreateSession(ctx *gin.Context) {
	session, err := c.sessions.CreateSession(ctx.Request.Context(), c.opts.EmptySessionTTL)
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{"session": converter.SessionToApi(session)})
}

func (c *SessionController) GetSession(ctx *gin.Context) {
	code := domain.NormalizeCode(ctx.Param("code"))
	if !domain.ValidCode(code) {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid session code"})
		return
	}

	session, err := c.sessions.GetSession(ctx.Request.Context(), code)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, service.ErrSessionNotFound) {
			status = http.StatusNotFound
		}
		ctx.JSON(status, gin.H{"error": err.Error()})
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"session": converter.SessionToApi(session)})
}

func (c *SessionController) ICEServers(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{"ice_servers": converter.ICEServersToApi(c.iceServers)})
}

// JoinSession upgrades to the signaling websocket. The connection is the
// participant's channel handle: its close runs the leave path.
func (c *SessionController) JoinSession(ctx *gin.Context) {
	code := domain.NormalizeCode(ctx.Param("code"))
	if !domain.ValidCode(code) {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid session code"})
		return
	}
	var req struct {
		ID   string `form:"id" binding:"omitempty,max=64"`
		Name string `form:"name"`
		Role string `form:"role" binding:"required,oneof=mentor child"`
	}
	if err := ctx.ShouldBindQuery(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": service.ErrInvalidRole.Error() + ": " + err.Error()})
		return
	}

	conn, err := c.upgrader.Upgrade(ctx.Writer, ctx.Request, nil)
	if err != nil {
		c.log.Warn("failed to upgrade connection", sl.Err(err))
		return
	}

	p, snapshot, err := c.sessions.Join(context.Background(), service.JoinRequest{
		SessionID:     code,
		ParticipantID: req.ID,
		DisplayName:   req.Name,
		Role:          domain.Role(req.Role),
	})
	if err != nil {
		_ = conn.WriteJSON(domain.MustSignal(domain.TypeError, "", "", domain.ErrorPayload{Message: err.Error()}))
		conn.Close()
		return
	}

	go c.writePump(conn, p)
	c.readPump(conn, snapshot.Session, p)
}

// readPump feeds inbound messages to the registry until the socket fails or
// the peer stops answering pings.
func (c *SessionController) readPump(conn *websocket.Conn, sessionID string, p *domain.Participant) {
	log := c.log.With(
		slog.String("op", "http.session.read"),
		slog.String("session_id", sessionID),
		slog.String("participant_id", p.ID),
	)
	defer func() {
		c.sessions.Disconnect(context.Background(), sessionID, p)
		conn.Close()
	}()

	conn.SetReadLimit(c.opts.MaxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	conn.SetPongHandler(func(string) error {
		p.Touch()
		return conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn("websocket closed unexpectedly", sl.Err(err))
			}
			return
		}
		p.Touch()

		msg, err := domain.DecodeMessage(data)
		if err != nil {
			log.Debug("malformed message", sl.Err(err))
			c.reportError(p, err)
			continue
		}
		if err := c.sessions.HandleSignal(context.Background(), sessionID, p.ID, msg); err != nil {
			c.reportError(p, err)
		}
	}
}

// writePump is the only writer on conn. It exits once the outbox is closed.
func (c *SessionController) writePump(conn *websocket.Conn, p *domain.Participant) {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case msg, ok := <-p.Outbox():
			_ = conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			data, err := domain.EncodeMessage(msg)
			if err != nil {
				c.log.Error("failed to encode message", slog.String("type", string(msg.Type)), sl.Err(err))
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *SessionController) reportError(p *domain.Participant, err error) {
	p.Enqueue(domain.MustSignal(domain.TypeError, "", p.ID, domain.ErrorPayload{Message: err.Error()}))
}
