package nse

import "time"

// ExpiryFormat is the exchange date format used in expiry strings, e.g. "27-Feb-2025".
const ExpiryFormat = "02-Jan-2006"

// Quote is one side (CE or PE) of an option-chain entry as the exchange
// publishes it. The bid field really is lowercase "bidprice" on the wire.
type Quote struct {
	StrikePrice       float64 `json:"strikePrice"`
	ExpiryDate        string  `json:"expiryDate"`
	ImpliedVolatility float64 `json:"impliedVolatility"`
	LastPrice         float64 `json:"lastPrice"`
	BidPrice          float64 `json:"bidprice"`
	AskPrice          float64 `json:"askPrice"`
	UnderlyingValue   float64 `json:"underlyingValue"`
}

// Entry is one (strike, expiry) row of the raw chain. Either side may be absent.
type Entry struct {
	StrikePrice float64 `json:"strikePrice"`
	ExpiryDate  string  `json:"expiryDate"`
	CE          *Quote  `json:"CE,omitempty"`
	PE          *Quote  `json:"PE,omitempty"`
}

// Records is the payload body of the option-chain response.
type Records struct {
	ExpiryDates []string `json:"expiryDates"`
	Data        []Entry  `json:"data"`
}

// OptionChain is the venue-wide raw chain for one underlying: every strike and
// every listed expiry.
type OptionChain struct {
	Records Records `json:"records"`
}

// ParseExpiry parses an exchange-format expiry date.
func ParseExpiry(expiry string) (time.Time, error) {
	return time.Parse(ExpiryFormat, expiry)
}
