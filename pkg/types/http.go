package types

import (
	"github.com/shopspring/decimal"

	"github.com/DoyleJ11/auction-backend/internal/engine"
)

// POST /auctions
type CreateAuctionRequest struct {
	Teams   []TeamInput   `json:"teams"`
	Players []PlayerInput `json:"players"`
	Rules   RulesInput    `json:"rules"`
}

type TeamInput struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Purse     decimal.Decimal `json:"purse"`
	MinRoster int             `json:"minRoster"`
	MaxRoster int             `json:"maxRoster"`
}

type PlayerInput struct {
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name"`
	Role      string          `json:"role,omitempty"`
	PhotoURL  string          `json:"photoUrl,omitempty"`
	BasePrice decimal.Decimal `json:"basePrice"`
}

type RulesInput struct {
	MinIncrement *decimal.Decimal `json:"minIncrement,omitempty"`
	BidWindowMS  int64            `json:"bidWindowMs,omitempty"`
}

type CreateAuctionResponse struct {
	AuctionID string `json:"auctionId"`
}

// GET /auctions
type AuctionSummary struct {
	AuctionID string        `json:"auctionId"`
	Seq       int64         `json:"seq"`
	Status    engine.Status `json:"status"`
	Clients   int           `json:"clients"`
}

// POST /auctions/{id}/players
type ImportPlayersRequest struct {
	Players []PlayerInput `json:"players"`
}

type ImportPlayersResponse struct {
	Seq     int64           `json:"seq"`
	Added   []engine.Player `json:"added"`
	Merged  []engine.Player `json:"merged"`
	Skipped []engine.Player `json:"skipped"`
}

// POST /auctions/{id}/decisions/{requestId}
type DecisionRequest struct {
	Decision string `json:"decision"` // merge | skipExisting | createNew
}

func (p PlayerInput) Player() engine.Player {
	return engine.Player{
		ID:        engine.PlayerID(p.ID),
		Name:      p.Name,
		Role:      p.Role,
		PhotoURL:  p.PhotoURL,
		BasePrice: p.BasePrice,
	}
}

func (t TeamInput) Team() engine.Team {
	return engine.Team{
		ID:        engine.TeamID(t.ID),
		Name:      t.Name,
		Purse:     t.Purse,
		MinRoster: t.MinRoster,
		MaxRoster: t.MaxRoster,
	}
}
