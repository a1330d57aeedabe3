package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/DoyleJ11/auction-backend/internal/broadcast"
	"github.com/DoyleJ11/auction-backend/internal/engine"
	"github.com/DoyleJ11/auction-backend/internal/hub"
	"github.com/DoyleJ11/auction-backend/internal/session"
	"github.com/DoyleJ11/auction-backend/pkg/types"
)

func TestAuthenticate_DevModeTrustsQuery(t *testing.T) {
	a := NewAuthenticator("")
	r := httptest.NewRequest(http.MethodGet, "/ws?auction=A&role=bidder&team=CSK", nil)

	id, err := a.Authenticate(r, "A")
	require.NoError(t, err)
	assert.Equal(t, Identity{Role: broadcast.RoleBidder, Team: "CSK"}, id)

	r = httptest.NewRequest(http.MethodGet, "/ws?auction=A&role=bidder", nil)
	_, err = a.Authenticate(r, "A")
	require.ErrorIs(t, err, ErrInvalidRole)

	r = httptest.NewRequest(http.MethodGet, "/ws?auction=A&role=owner", nil)
	_, err = a.Authenticate(r, "A")
	require.ErrorIs(t, err, ErrInvalidRole)
}

func TestAuthenticate_Token(t *testing.T) {
	a := NewAuthenticator("test-secret")
	token, err := a.Issue(Identity{Role: broadcast.RoleBidder, Team: "MI"}, "A", time.Hour)
	require.NoError(t, err)

	req := func(tok string) *http.Request {
		return httptest.NewRequest(http.MethodGet, "/ws?auction=A&role=auctioneer&token="+url.QueryEscape(tok), nil)
	}

	id, err := a.Authenticate(req(token), "A")
	require.NoError(t, err)
	assert.Equal(t, Identity{Role: broadcast.RoleBidder, Team: "MI"}, id, "the query role is ignored")

	_, err = a.Authenticate(req(token), "B")
	require.ErrorIs(t, err, ErrInvalidToken)

	_, err = a.Authenticate(httptest.NewRequest(http.MethodGet, "/ws?auction=A", nil), "A")
	require.ErrorIs(t, err, ErrMissingToken)

	forged, err := NewAuthenticator("other-secret").Issue(Identity{Role: broadcast.RoleAuctioneer}, "", time.Hour)
	require.NoError(t, err)
	_, err = a.Authenticate(req(forged), "A")
	require.ErrorIs(t, err, ErrInvalidToken)

	expired, err := a.Issue(Identity{Role: broadcast.RoleViewer}, "", -time.Minute)
	require.NoError(t, err)
	_, err = a.Authenticate(req(expired), "A")
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestToCommand(t *testing.T) {
	bidder := Identity{Role: broadcast.RoleBidder, Team: "A"}
	host := Identity{Role: broadcast.RoleAuctioneer}

	tests := []struct {
		name    string
		id      Identity
		msg     types.ClientMessage
		want    engine.CommandType
		wantErr error
	}{
		{"bid", bidder, types.ClientMessage{Type: "bid", AuctionID: "AUC", TeamID: "A", PlayerID: "p1", Amount: decimal.NewFromInt(100)}, engine.CmdPlaceBid, nil},
		{"bid for another team", bidder, types.ClientMessage{Type: "bid", TeamID: "B", PlayerID: "p1", Amount: decimal.NewFromInt(100)}, "", errForbidden},
		{"viewer bid", Identity{Role: broadcast.RoleViewer}, types.ClientMessage{Type: "bid", TeamID: "A", PlayerID: "p1", Amount: decimal.NewFromInt(100)}, "", errForbidden},
		{"zero amount", bidder, types.ClientMessage{Type: "bid", TeamID: "A", PlayerID: "p1"}, "", errValidation},
		{"missing player", bidder, types.ClientMessage{Type: "bid", TeamID: "A", Amount: decimal.NewFromInt(100)}, "", errValidation},
		{"wrong auction", bidder, types.ClientMessage{Type: "bid", AuctionID: "OTHER", TeamID: "A", PlayerID: "p1", Amount: decimal.NewFromInt(100)}, "", errValidation},
		{"start next", host, types.ClientMessage{Type: "control", Action: "startNext"}, engine.CmdStartNext, nil},
		{"finalize", host, types.ClientMessage{Type: "control", Action: "finalize"}, engine.CmdFinalize, nil},
		{"pause", host, types.ClientMessage{Type: "control", Action: "pause"}, engine.CmdPause, nil},
		{"cancel", host, types.ClientMessage{Type: "control", Action: "cancel"}, engine.CmdCancel, nil},
		{"unknown action", host, types.ClientMessage{Type: "control", Action: "rewind"}, "", errValidation},
		{"bidder control", bidder, types.ClientMessage{Type: "control", Action: "finalize"}, "", errForbidden},
		{"unknown type", host, types.ClientMessage{Type: "hello"}, "", errValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, err := toCommand(tt.id, "AUC", tt.msg)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, cmd.Type)
		})
	}
}

func TestToServerMessage(t *testing.T) {
	ev := engine.Event{Seq: 7, Type: engine.EvtBidAccepted, Player: "p1", Team: "A", Amount: decimal.NewFromInt(150)}
	out := toServerMessage("AUC", broadcast.Message{Kind: broadcast.KindEvent, Event: ev, Seq: 7})
	assert.Equal(t, types.ServerMessage{AuctionID: "AUC", Seq: 7, Type: "BidAccepted", Payload: ev}, out)

	out = toServerMessage("AUC", broadcast.Message{Kind: broadcast.KindRejected, Seq: 7, Reason: "SelfOutbid", Ref: "r1"})
	assert.Equal(t, types.ServerRejected, out.Type)
	assert.Equal(t, types.RejectedPayload{Reason: "SelfOutbid", Ref: "r1"}, out.Payload)

	state := engine.NewState("AUC", engine.Rules{}, nil, nil)
	out = toServerMessage("AUC", broadcast.Message{Kind: broadcast.KindSnapshot, State: &state})
	assert.Equal(t, types.ServerSnapshot, out.Type)
	assert.IsType(t, types.AuctionView{}, out.Payload)
}

func TestParseSince(t *testing.T) {
	seq, err := parseSince("")
	require.NoError(t, err)
	assert.Equal(t, int64(-1), seq)

	seq, err = parseSince("12")
	require.NoError(t, err)
	assert.Equal(t, int64(12), seq)

	_, err = parseSince("-3")
	require.Error(t, err)
	_, err = parseSince("abc")
	require.Error(t, err)
}

// End-to-end over a real websocket.

type frame struct {
	AuctionID string          `json:"auctionId"`
	Seq       int64           `json:"seq"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
}

func startServer(t *testing.T) (*httptest.Server, *hub.Hub) {
	t.Helper()
	h := hub.NewHub(context.Background(), session.Options{Logger: zaptest.NewLogger(t)})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = h.Shutdown(ctx)
	})

	state := engine.NewState("AUC",
		engine.Rules{MinIncrement: decimal.NewFromInt(50), BidWindow: time.Minute},
		[]engine.Team{
			{ID: "A", Purse: decimal.NewFromInt(1000), MaxRoster: 3},
			{ID: "B", Purse: decimal.NewFromInt(1000), MaxRoster: 3},
		},
		[]engine.Player{{ID: "p1", Name: "One", BasePrice: decimal.NewFromInt(100)}},
	)
	_, err := h.Create(context.Background(), state)
	require.NoError(t, err)

	// Connection goroutines can outlive the test, so they log nowhere.
	srv := httptest.NewServer(Handler(h, Options{Logger: zap.NewNop()}))
	t.Cleanup(srv.Close)
	return srv, h
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, srv.URL+"/ws?"+query, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, data))
}

func recvFrame(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var f frame
	require.NoError(t, json.Unmarshal(data, &f))
	return f
}

func TestGateway_AuctionFlow(t *testing.T) {
	srv, _ := startServer(t)

	host := dial(t, srv, "auction=AUC&role=auctioneer")
	assert.Equal(t, types.ServerSnapshot, recvFrame(t, host).Type)

	bidderA := dial(t, srv, "auction=AUC&role=bidder&team=A&since=0")

	send(t, host, types.ClientMessage{Type: "control", Action: "startNext"})
	started := recvFrame(t, host)
	assert.Equal(t, "PlayerStarted", started.Type)
	assert.Equal(t, int64(1), started.Seq)
	assert.Equal(t, "PlayerStarted", recvFrame(t, bidderA).Type)

	send(t, bidderA, types.ClientMessage{Type: "bid", AuctionID: "AUC", TeamID: "A", PlayerID: "p1", Amount: decimal.NewFromInt(100), Ref: "r1"})
	for _, conn := range []*websocket.Conn{host, bidderA} {
		f := recvFrame(t, conn)
		assert.Equal(t, "BidAccepted", f.Type)
		assert.Equal(t, int64(2), f.Seq)
	}

	// Bidding again on your own high bid is refused, to the bidder only.
	send(t, bidderA, types.ClientMessage{Type: "bid", TeamID: "A", PlayerID: "p1", Amount: decimal.NewFromInt(150), Ref: "r2"})
	rej := recvFrame(t, bidderA)
	require.Equal(t, types.ServerRejected, rej.Type)
	var payload types.RejectedPayload
	require.NoError(t, json.Unmarshal(rej.Payload, &payload))
	assert.Equal(t, "SelfOutbid", payload.Reason)
	assert.Equal(t, "r2", payload.Ref)

	// A bidder cannot drive the auction.
	send(t, bidderA, types.ClientMessage{Type: "control", Action: "finalize"})
	assert.Equal(t, types.ServerError, recvFrame(t, bidderA).Type)

	send(t, host, types.ClientMessage{Type: "control", Action: "finalize"})
	sold := recvFrame(t, host)
	assert.Equal(t, "PlayerSold", sold.Type)
	assert.Equal(t, int64(3), sold.Seq)
}

func TestGateway_RejectsBeforeUpgrade(t *testing.T) {
	srv, _ := startServer(t)

	tests := []struct {
		query string
		want  int
	}{
		{"role=viewer", http.StatusBadRequest},
		{"auction=AUC&role=viewer&since=x", http.StatusBadRequest},
		{"auction=AUC&role=owner", http.StatusUnauthorized},
		{"auction=NOPE&role=viewer", http.StatusNotFound},
		{"auction=AUC&role=bidder&team=Z", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_, resp, err := websocket.Dial(ctx, srv.URL+"/ws?"+tt.query, nil)
			require.Error(t, err)
			require.NotNil(t, resp)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}
