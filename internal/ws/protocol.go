package ws

import (
	"errors"
	"fmt"

	"github.com/DoyleJ11/auction-backend/internal/broadcast"
	"github.com/DoyleJ11/auction-backend/internal/engine"
	"github.com/DoyleJ11/auction-backend/pkg/types"
)

const (
	codeValidation = "ValidationError"
	codeForbidden  = "Forbidden"
)

var (
	errValidation = errors.New("invalid message")
	errForbidden  = errors.New("not allowed")
)

var controlCommands = map[string]engine.CommandType{
	types.ActionStartNext: engine.CmdStartNext,
	types.ActionFinalize:  engine.CmdFinalize,
	types.ActionPause:     engine.CmdPause,
	types.ActionCancel:    engine.CmdCancel,
}

// toCommand checks a client frame against the sender's identity and maps it
// to an engine command. Arbitration rules are left to the session.
func toCommand(id Identity, auctionID string, m types.ClientMessage) (engine.Command, error) {
	if m.AuctionID != "" && m.AuctionID != auctionID {
		return engine.Command{}, fmt.Errorf("%w: connected to auction %s", errValidation, auctionID)
	}

	switch m.Type {
	case types.ClientBid:
		if id.Role != broadcast.RoleBidder {
			return engine.Command{}, fmt.Errorf("%w: only bidders may bid", errForbidden)
		}
		if m.TeamID != string(id.Team) {
			return engine.Command{}, fmt.Errorf("%w: bid for team %q as team %q", errForbidden, m.TeamID, id.Team)
		}
		if m.PlayerID == "" {
			return engine.Command{}, fmt.Errorf("%w: playerId required", errValidation)
		}
		if !m.Amount.IsPositive() {
			return engine.Command{}, fmt.Errorf("%w: amount must be positive", errValidation)
		}
		return engine.Command{
			Type:   engine.CmdPlaceBid,
			Team:   id.Team,
			Player: engine.PlayerID(m.PlayerID),
			Amount: m.Amount,
		}, nil

	case types.ClientControl:
		if id.Role != broadcast.RoleAuctioneer {
			return engine.Command{}, fmt.Errorf("%w: only the auctioneer controls the auction", errForbidden)
		}
		ct, ok := controlCommands[m.Action]
		if !ok {
			return engine.Command{}, fmt.Errorf("%w: unknown action %q", errValidation, m.Action)
		}
		return engine.Command{Type: ct}, nil

	default:
		return engine.Command{}, fmt.Errorf("%w: unknown type %q", errValidation, m.Type)
	}
}

func toServerMessage(auctionID string, msg broadcast.Message) types.ServerMessage {
	out := types.ServerMessage{AuctionID: auctionID, Seq: msg.Seq}
	switch msg.Kind {
	case broadcast.KindEvent:
		out.Type = string(msg.Event.Type)
		out.Payload = msg.Event
	case broadcast.KindSnapshot:
		out.Type = types.ServerSnapshot
		if msg.State != nil {
			out.Payload = types.NewAuctionView(*msg.State, 0)
		}
	case broadcast.KindRejected:
		out.Type = types.ServerRejected
		out.Payload = types.RejectedPayload{Reason: msg.Reason, Detail: msg.Detail, Ref: msg.Ref}
	case broadcast.KindWarning:
		out.Type = types.ServerWarning
		out.Payload = types.WarningPayload{Reason: msg.Reason, Detail: msg.Detail}
	}
	return out
}
