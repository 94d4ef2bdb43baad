package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"voldash/chain"
	"voldash/service"
	"voldash/store"
)

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Error("Failed to encode response", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

// writeError maps the service taxonomy onto status codes: requested
// strike/expiry absent from a live chain is 404, everything else
// (no live data and no fallback included) is 500.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, chain.ErrStrikeNotFound):
		s.writeJSON(w, http.StatusNotFound, errorResponse{Error: "Strike not found"})
	case errors.Is(err, chain.ErrEmptyChain):
		s.writeJSON(w, http.StatusNotFound, errorResponse{Error: "Expiry not found"})
	case errors.Is(err, service.ErrUnavailable):
		s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Failed to fetch data"})
	default:
		s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
	}
}

func parseStrike(r *http.Request, name string) (float64, error) {
	raw := mux.Vars(r)[name]
	strike, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, errors.New("invalid strike " + raw)
	}
	return strike, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleVolatilityDefault(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]

	row, err := s.orch.Smile(r.Context(), symbol, "")
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, row)
}

func (s *Server) handleVolatility(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	row, err := s.orch.Smile(r.Context(), vars["symbol"], vars["expiry"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, row)
}

func (s *Server) handleVolatilitySurface(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]

	row, err := s.orch.Surface(r.Context(), symbol)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, row)
}

func (s *Server) handleBidAsk(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	strike, err := parseStrike(r, "strike")
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	row, err := s.orch.BidAsk(r.Context(), vars["symbol"], vars["expiry"], strike)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, row)
}

func (s *Server) handleOptionPrice(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	strike, err := parseStrike(r, "strike")
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	row, err := s.orch.OptionPrice(r.Context(), vars["symbol"], vars["expiry"], strike)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, row)
}

func (s *Server) handleUnderlyingPrice(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]

	row, err := s.orch.Underlying(r.Context(), symbol)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, row)
}

func (s *Server) handlePremiums(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	strike, err := parseStrike(r, "strike")
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	var callWing, putWing float64
	if vars["callWing"] != "" {
		if callWing, err = parseStrike(r, "callWing"); err != nil {
			s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}
		if putWing, err = parseStrike(r, "putWing"); err != nil {
			s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}
	}

	row, err := s.orch.Premiums(r.Context(), vars["symbol"], vars["expiry"], strike, callWing, putWing)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, row)
}

// premiumHistoryResponse is the columnar series shape the premium chart plots.
type premiumHistoryResponse struct {
	Timestamps       []int64    `json:"timestamps"`
	StraddlePremiums []float64  `json:"straddle_premiums"`
	StraddleIVs      []float64  `json:"straddle_ivs"`
	IronflyPremiums  []*float64 `json:"ironfly_premiums"`
	IronflyIVs       []*float64 `json:"ironfly_ivs"`
}

func (s *Server) handlePremiumsHistory(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	series, err := s.orch.PremiumHistory(r.Context(), vars["symbol"], vars["expiry"])
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, columnarPremiums(series))
}

func columnarPremiums(series []*store.PremiumRow) *premiumHistoryResponse {
	resp := &premiumHistoryResponse{
		Timestamps:       make([]int64, 0, len(series)),
		StraddlePremiums: make([]float64, 0, len(series)),
		StraddleIVs:      make([]float64, 0, len(series)),
		IronflyPremiums:  make([]*float64, 0, len(series)),
		IronflyIVs:       make([]*float64, 0, len(series)),
	}
	for _, row := range series {
		resp.Timestamps = append(resp.Timestamps, row.Timestamp)
		resp.StraddlePremiums = append(resp.StraddlePremiums, row.StraddlePremium)
		resp.StraddleIVs = append(resp.StraddleIVs, row.StraddleIV)
		resp.IronflyPremiums = append(resp.IronflyPremiums, row.IronflyPremium)
		resp.IronflyIVs = append(resp.IronflyIVs, row.IronflyIV)
	}
	return resp
}

func (s *Server) handleOptionChain(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]

	raw, err := s.orch.RawChain(r.Context(), symbol)
	if err != nil {
		s.writeError(w, err)
		return
	}

	// a cache hit may be up to the cache TTL old; let clients see its age
	if fetchedAt, ok := s.chains.FetchedAt(symbol); ok {
		w.Header().Set("X-Chain-Fetched-At", fetchedAt.UTC().Format(time.RFC3339))
	}
	s.writeJSON(w, http.StatusOK, raw)
}
