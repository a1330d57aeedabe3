// Package ws is the connection gateway: it authenticates websocket clients,
// turns their frames into session commands, and writes each client's outbox
// back to it.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/auction-backend/internal/broadcast"
	"github.com/DoyleJ11/auction-backend/internal/hub"
	"github.com/DoyleJ11/auction-backend/internal/metrics"
	"github.com/DoyleJ11/auction-backend/internal/session"
	"github.com/DoyleJ11/auction-backend/pkg/types"
)

const (
	writeTimeout = 3 * time.Second
	pingInterval = 30 * time.Second
)

type Options struct {
	Auth *Authenticator
	// OriginPatterns is passed to websocket.Accept; empty means same-origin only.
	OriginPatterns []string
	ClientBuffer   int
	Logger         *zap.Logger
	Metrics        *metrics.Metrics
}

func Handler(h *hub.Hub, opts Options) http.HandlerFunc {
	if opts.Auth == nil {
		opts.Auth = NewAuthenticator("")
	}
	if opts.ClientBuffer <= 0 {
		opts.ClientBuffer = 256
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	log := opts.Logger.Named("ws")

	return func(w http.ResponseWriter, r *http.Request) {
		auctionID := r.URL.Query().Get("auction")
		if auctionID == "" {
			http.Error(w, "missing auction", http.StatusBadRequest)
			return
		}
		since, err := parseSince(r.URL.Query().Get("since"))
		if err != nil {
			http.Error(w, "bad since", http.StatusBadRequest)
			return
		}
		id, err := opts.Auth.Authenticate(r, auctionID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}

		sess, err := h.Open(r.Context(), auctionID)
		if errors.Is(err, hub.ErrNotFound) {
			http.Error(w, "auction not found", http.StatusNotFound)
			return
		}
		if err != nil {
			log.Error("open auction", zap.String("auction", auctionID), zap.Error(err))
			http.Error(w, "auction unavailable", http.StatusServiceUnavailable)
			return
		}
		if id.Role == broadcast.RoleBidder {
			if _, ok := sess.Snapshot().State.Ledger.Teams[id.Team]; !ok {
				http.Error(w, "unknown team", http.StatusForbidden)
				return
			}
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: opts.OriginPatterns,
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		c := &client{
			id:      id,
			auction: auctionID,
			sess:    sess,
			conn:    conn,
			reg:     broadcast.NewRegistration(uuid.NewString(), id.Role, id.Team, since),
			out:     make(chan broadcast.Message, opts.ClientBuffer),
			log:     log.With(zap.String("auction", auctionID), zap.String("role", string(id.Role))),
		}

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		if err := sess.Join(ctx, broadcast.Client{Reg: c.reg, Outbox: c.out}); err != nil {
			conn.Close(websocket.StatusTryAgainLater, "auction closed")
			return
		}
		defer sess.Leave(c.reg.ConnID)

		opts.Metrics.ClientConnected(string(id.Role))
		defer opts.Metrics.ClientDisconnected(string(id.Role))
		c.log.Info("client connected", zap.String("conn", c.reg.ConnID), zap.Int64("since", since))

		go c.writeLoop(ctx, cancel)
		c.readLoop(ctx)
	}
}

type client struct {
	id      Identity
	auction string
	sess    *session.Session
	conn    *websocket.Conn
	reg     *broadcast.Registration
	out     chan broadcast.Message
	log     *zap.Logger
}

// writeLoop drains the outbox until the session closes it, which happens when
// the client is too slow, leaves, or the session stops.
func (c *client) writeLoop(ctx context.Context, cancel context.CancelFunc) {
	defer cancel()
	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case msg, ok := <-c.out:
			if !ok {
				c.log.Info("outbox closed", zap.String("conn", c.reg.ConnID))
				c.conn.Close(websocket.StatusTryAgainLater, "resync required")
				return
			}
			if err := c.write(ctx, toServerMessage(c.auction, msg)); err != nil {
				return
			}

		case <-ping.C:
			pctx, pcancel := context.WithTimeout(ctx, writeTimeout)
			err := c.conn.Ping(pctx)
			pcancel()
			if err != nil {
				return
			}
		}
	}
}

func (c *client) readLoop(ctx context.Context) {
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			// Treat clean close/going-away as normal:
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
			default:
				c.log.Debug("read ended", zap.String("conn", c.reg.ConnID), zap.Error(err))
			}
			return
		}

		var cm types.ClientMessage
		if err := json.Unmarshal(data, &cm); err != nil {
			c.writeError(ctx, codeValidation, "bad json")
			continue
		}

		if cm.Type == types.ClientAck {
			c.reg.Ack(cm.Seq)
			continue
		}

		cmd, err := toCommand(c.id, c.auction, cm)
		if err != nil {
			code := codeValidation
			if errors.Is(err, errForbidden) {
				code = codeForbidden
			}
			c.writeError(ctx, code, err.Error())
			continue
		}

		// Rejections reach this client through its outbox.
		err = c.sess.Submit(ctx, cmd, c.reg.ConnID, cm.Ref)
		if errors.Is(err, session.ErrClosed) || errors.Is(err, context.Canceled) {
			return
		}
	}
}

func (c *client) write(ctx context.Context, msg types.ServerMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		c.log.Error("encode message", zap.Error(err))
		return nil
	}
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return c.conn.Write(wctx, websocket.MessageText, payload)
}

func (c *client) writeError(ctx context.Context, code, message string) {
	_ = c.write(ctx, types.ServerMessage{
		AuctionID: c.auction,
		Seq:       c.sess.Snapshot().Seq,
		Type:      types.ServerError,
		Payload:   types.ErrorPayload{Code: code, Message: message},
	})
}

// parseSince reads the last seq a reconnecting client saw; absent means the
// client has nothing and gets a snapshot.
func parseSince(raw string) (int64, error) {
	if raw == "" {
		return -1, nil
	}
	seq, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || seq < 0 {
		return 0, errors.New("since must be a non-negative integer")
	}
	return seq, nil
}
