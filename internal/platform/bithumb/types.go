package bithumb

import "strconv"

// statusOK is the exchange's success code.
const statusOK = "0000"

// apiEnvelope is the common wrapper of every response.
type apiEnvelope struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// tickerData is the public ticker payload. The exchange serializes every
// number as a string.
type tickerData struct {
	OpeningPrice string `json:"opening_price"`
	ClosingPrice string `json:"closing_price"`
	MinPrice     string `json:"min_price"`
	MaxPrice     string `json:"max_price"`
	UnitsTraded  string `json:"units_traded_24H"`
	BuyPrice     string `json:"buy_price"`
	SellPrice    string `json:"sell_price"`
	Date         string `json:"date"`
}

type tickerResponse struct {
	apiEnvelope
	Data tickerData `json:"data"`
}

// candleResponse carries rows of [timestamp_ms, open, close, high, low, volume],
// mixed numbers and strings.
type candleResponse struct {
	apiEnvelope
	Data [][]any `json:"data"`
}

// balanceResponse is the /info/balance payload: a flat map with
// available_<cur>, in_use_<cur> and total_<cur> keys.
type balanceResponse struct {
	apiEnvelope
	Data map[string]any `json:"data"`
}

type orderResponse struct {
	apiEnvelope
	OrderID string `json:"order_id"`
}

// transaction is one row of /info/user_transactions.
type transaction struct {
	Search string `json:"search"` // 1 = buy, 2 = sell
	Units  string `json:"units"`
	Price  string `json:"price"`
	Date   string `json:"transfer_date"`
}

type transactionsResponse struct {
	apiEnvelope
	Data []transaction `json:"data"`
}

// parseNum converts the exchange's stringly-typed numbers. Malformed or
// empty values return 0.
func parseNum(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}
