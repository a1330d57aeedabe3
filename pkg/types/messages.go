// Package types is the public wire protocol. Every websocket frame is one
// JSON object.
package types

import (
	"github.com/shopspring/decimal"

	"github.com/DoyleJ11/auction-backend/internal/engine"
)

// Client -> Server
//
// bid:      {type:"bid", auctionId, teamId, playerId, amount, ref?}
// control:  {type:"control", action:"startNext"|"finalize"|"pause"|"cancel", ref?}
// ack:      {type:"ack", seq}
const (
	ClientBid     = "bid"
	ClientControl = "control"
	ClientAck     = "ack"
)

const (
	ActionStartNext = "startNext"
	ActionFinalize  = "finalize"
	ActionPause     = "pause"
	ActionCancel    = "cancel"
)

type ClientMessage struct {
	Type      string          `json:"type"`
	AuctionID string          `json:"auctionId,omitempty"`
	TeamID    string          `json:"teamId,omitempty"`
	PlayerID  string          `json:"playerId,omitempty"`
	Amount    decimal.Decimal `json:"amount"`
	Action    string          `json:"action,omitempty"`
	Seq       int64           `json:"seq,omitempty"`
	Ref       string          `json:"ref,omitempty"`
}

// Server -> Client
//
// Committed events use the engine event type as Type ("BidAccepted",
// "PlayerSold", ...) with the event as payload. The others:
//
// Snapshot: full auction state, sent on join without history or on resync
// Rejected: a command of yours was refused
// Warning:  auctioneers only, e.g. snapshots not being saved
// Error:    the frame could not be understood or is not allowed
const (
	ServerSnapshot = "Snapshot"
	ServerRejected = "Rejected"
	ServerWarning  = "Warning"
	ServerError    = "Error"
)

type ServerMessage struct {
	AuctionID string `json:"auctionId"`
	Seq       int64  `json:"seq"`
	Type      string `json:"type"`
	Payload   any    `json:"payload,omitempty"`
}

type RejectedPayload struct {
	Reason string `json:"reason"`
	Detail string `json:"detail,omitempty"`
	Ref    string `json:"ref,omitempty"`
}

type WarningPayload struct {
	Reason string `json:"reason"`
	Detail string `json:"detail,omitempty"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// AuctionView is the snapshot payload and the body of GET /auctions/{id}.
type AuctionView struct {
	AuctionID  string          `json:"auctionId"`
	Seq        int64           `json:"seq"`
	Status     engine.Status   `json:"status"`
	Active     engine.PlayerID `json:"active,omitempty"`
	MinimumBid *string         `json:"minimumBid,omitempty"`
	Clients    int             `json:"clients,omitempty"`
	State      engine.State    `json:"state"`
}

func NewAuctionView(s engine.State, clients int) AuctionView {
	v := AuctionView{
		AuctionID: s.AuctionID,
		Seq:       s.Seq,
		Status:    s.Status,
		Active:    s.Active,
		Clients:   clients,
		State:     s,
	}
	if s.Status == engine.StatusActive {
		minBid := engine.MinimumBid(s).String()
		v.MinimumBid = &minBid
	}
	return v
}
