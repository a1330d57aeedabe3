package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/DoyleJ11/auction-backend/internal/engine"
	"github.com/DoyleJ11/auction-backend/internal/hub"
	"github.com/DoyleJ11/auction-backend/internal/importer"
	"github.com/DoyleJ11/auction-backend/internal/session"
	"github.com/DoyleJ11/auction-backend/pkg/types"
)

var errBadRequest = errors.New("bad request")

const maxBidWindow = 24 * time.Hour

func CreateAuction(h *hub.Hub, defaults engine.Rules) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.CreateAuctionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "ValidationError", "bad json")
			return
		}
		state, err := newAuction(uuid.NewString(), req, defaults)
		if err != nil {
			respondError(w, http.StatusBadRequest, "ValidationError", err.Error())
			return
		}

		if _, err := h.Create(r.Context(), state); err != nil {
			respondError(w, http.StatusInternalServerError, "Internal", "failed to create auction")
			return
		}
		respondJSON(w, http.StatusCreated, types.CreateAuctionResponse{AuctionID: state.AuctionID})
	}
}

// ListAuctions summarises the auctions currently live in this process.
func ListAuctions(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ids, err := h.List(r.Context())
		if err != nil {
			respondError(w, http.StatusServiceUnavailable, "Unavailable", err.Error())
			return
		}
		out := make([]types.AuctionSummary, 0, len(ids))
		for _, id := range ids {
			sess, err := h.Open(r.Context(), id)
			if err != nil {
				continue // removed since List
			}
			v := sess.Snapshot()
			out = append(out, types.AuctionSummary{
				AuctionID: id,
				Seq:       v.Seq,
				Status:    v.State.Status,
				Clients:   v.NumClients,
			})
		}
		respondJSON(w, http.StatusOK, out)
	}
}

func GetAuction(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, ok := openSession(w, r, h)
		if !ok {
			return
		}
		view := sess.Snapshot()
		respondJSON(w, http.StatusOK, types.NewAuctionView(view.State, view.NumClients))
	}
}

// ImportPlayers adds players before the auction starts. It may block while
// duplicates wait for a decision, and while another import into the same
// auction is in flight.
func ImportPlayers(h *hub.Hub, im *importer.Importer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, ok := openSession(w, r, h)
		if !ok {
			return
		}
		var req types.ImportPlayersRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "ValidationError", "bad json")
			return
		}

		unlock, err := im.Lock(r.Context(), sess.ID())
		if err != nil {
			respondError(w, http.StatusServiceUnavailable, "Unavailable", err.Error())
			return
		}
		defer unlock()

		current := sess.Snapshot().State
		if current.Started() {
			respondError(w, http.StatusConflict, engine.ReasonFor(engine.ErrSessionStarted), engine.ErrSessionStarted.Error())
			return
		}

		incoming := make([]engine.Player, len(req.Players))
		for i, p := range req.Players {
			incoming[i] = p.Player()
		}
		plan, err := im.Import(r.Context(), sess.ID(), current.Pool, incoming)
		if errors.Is(err, importer.ErrInvalidPlayer) {
			respondError(w, http.StatusBadRequest, "ValidationError", err.Error())
			return
		}
		if err != nil {
			respondError(w, http.StatusInternalServerError, "Internal", err.Error())
			return
		}

		if err := sess.Submit(r.Context(), plan.Command(time.Time{}), "", ""); err != nil {
			status := http.StatusConflict
			if errors.Is(err, session.ErrClosed) {
				status = http.StatusServiceUnavailable
			}
			respondError(w, status, engine.ReasonFor(err), err.Error())
			return
		}
		respondJSON(w, http.StatusOK, types.ImportPlayersResponse{
			Seq:     sess.Snapshot().Seq,
			Added:   nonNil(plan.Add),
			Merged:  nonNil(plan.Merge),
			Skipped: nonNil(plan.Skipped),
		})
	}
}

func ListDecisions(h *hub.Hub, res *importer.ChannelResolver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, ok := openSession(w, r, h)
		if !ok {
			return
		}
		respondJSON(w, http.StatusOK, res.Pending(sess.ID()))
	}
}

func AnswerDecision(res *importer.ChannelResolver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.DecisionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "ValidationError", "bad json")
			return
		}
		err := res.Answer(chi.URLParam(r, "auctionID"), chi.URLParam(r, "requestID"), importer.Decision(req.Decision))
		switch {
		case errors.Is(err, importer.ErrUnknownDecision):
			respondError(w, http.StatusBadRequest, "ValidationError", err.Error())
		case errors.Is(err, importer.ErrRequestNotFound):
			respondError(w, http.StatusNotFound, "NotFound", err.Error())
		case err != nil:
			respondError(w, http.StatusInternalServerError, "Internal", err.Error())
		default:
			w.WriteHeader(http.StatusNoContent)
		}
	}
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func openSession(w http.ResponseWriter, r *http.Request, h *hub.Hub) (*session.Session, bool) {
	sess, err := h.Open(r.Context(), chi.URLParam(r, "auctionID"))
	switch {
	case errors.Is(err, hub.ErrNotFound):
		respondError(w, http.StatusNotFound, "NotFound", "auction not found")
		return nil, false
	case err != nil:
		respondError(w, http.StatusServiceUnavailable, "Unavailable", err.Error())
		return nil, false
	}
	return sess, true
}

func newAuction(id string, req types.CreateAuctionRequest, rules engine.Rules) (engine.State, error) {
	if len(req.Teams) == 0 {
		return engine.State{}, fmt.Errorf("%w: at least one team required", errBadRequest)
	}
	teams := make([]engine.Team, 0, len(req.Teams))
	seenTeam := map[string]bool{}
	for _, t := range req.Teams {
		switch {
		case t.ID == "":
			return engine.State{}, fmt.Errorf("%w: team id required", errBadRequest)
		case seenTeam[t.ID]:
			return engine.State{}, fmt.Errorf("%w: team %s repeated", errBadRequest, t.ID)
		case !t.Purse.IsPositive():
			return engine.State{}, fmt.Errorf("%w: team %s purse must be positive", errBadRequest, t.ID)
		case t.MaxRoster <= 0 || t.MinRoster < 0 || t.MinRoster > t.MaxRoster:
			return engine.State{}, fmt.Errorf("%w: team %s roster bounds invalid", errBadRequest, t.ID)
		}
		seenTeam[t.ID] = true
		teams = append(teams, t.Team())
	}

	players := make([]engine.Player, 0, len(req.Players))
	seenPlayer := map[engine.PlayerID]bool{}
	for _, in := range req.Players {
		p := in.Player()
		if p.ID == "" {
			p.ID = engine.PlayerID(uuid.NewString())
		}
		switch {
		case p.Name == "":
			return engine.State{}, fmt.Errorf("%w: player name required", errBadRequest)
		case seenPlayer[p.ID]:
			return engine.State{}, fmt.Errorf("%w: player %s repeated", errBadRequest, p.ID)
		case p.BasePrice.IsNegative():
			return engine.State{}, fmt.Errorf("%w: player %s base price negative", errBadRequest, p.ID)
		}
		seenPlayer[p.ID] = true
		players = append(players, p)
	}

	if req.Rules.MinIncrement != nil {
		if !req.Rules.MinIncrement.IsPositive() {
			return engine.State{}, fmt.Errorf("%w: minIncrement must be positive", errBadRequest)
		}
		rules.MinIncrement = *req.Rules.MinIncrement
	}
	if req.Rules.BidWindowMS < 0 {
		return engine.State{}, fmt.Errorf("%w: bidWindowMs must be positive", errBadRequest)
	}
	if req.Rules.BidWindowMS > maxBidWindow.Milliseconds() {
		return engine.State{}, fmt.Errorf("%w: bidWindowMs must be at most %d", errBadRequest, maxBidWindow.Milliseconds())
	}
	if req.Rules.BidWindowMS > 0 {
		rules.BidWindow = time.Duration(req.Rules.BidWindowMS) * time.Millisecond
	}
	return engine.NewState(id, rules, teams, players), nil
}

func nonNil(ps []engine.Player) []engine.Player {
	if ps == nil {
		return []engine.Player{}
	}
	return ps
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// respondError writes {"error": code, "message": msg}.
func respondError(w http.ResponseWriter, status int, code, msg string) {
	respondJSON(w, status, struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}{Error: code, Message: msg})
}
