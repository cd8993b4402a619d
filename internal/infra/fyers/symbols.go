package fyers

import (
	"strings"
)

// indices maps common index names to broker tickers.
var indices = map[string]string{
	"NIFTY 50":   "NSE:NIFTY50-INDEX",
	"NIFTY50":    "NSE:NIFTY50-INDEX",
	"NIFTY":      "NSE:NIFTY50-INDEX",
	"BANKNIFTY":  "NSE:NIFTYBANK-INDEX",
	"NIFTY BANK": "NSE:NIFTYBANK-INDEX",
	"FINNIFTY":   "NSE:FINNIFTY-INDEX",
	"SENSEX":     "BSE:SENSEX-INDEX",
}

// reverse of indices, preferring the canonical display name
var indexNames = map[string]string{
	"NSE:NIFTY50-INDEX":   "NIFTY 50",
	"NSE:NIFTYBANK-INDEX": "BANKNIFTY",
	"NSE:FINNIFTY-INDEX":  "FINNIFTY",
	"BSE:SENSEX-INDEX":    "SENSEX",
}

// derivative segments carry the contract in the ticker and get no suffix
var noSuffix = map[string]bool{
	"NFO": true,
	"BFO": true,
	"MCX": true,
	"CDS": true,
}

// BrokerSymbol converts a (symbol, exchange) pair into the broker ticker,
// e.g. ("TCS", "NSE") -> "NSE:TCS-EQ". Tickers that already carry an
// exchange prefix are returned unchanged.
func BrokerSymbol(symbol, exchange string) string {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	exchange = strings.ToUpper(strings.TrimSpace(exchange))

	if strings.Contains(symbol, ":") {
		return symbol
	}
	if t, ok := indices[symbol]; ok {
		return t
	}
	if noSuffix[exchange] || strings.Contains(symbol, "-") {
		return exchange + ":" + symbol
	}
	return exchange + ":" + symbol + "-EQ"
}

// ParseBrokerSymbol splits a broker ticker into (symbol, exchange).
// The equity suffix is dropped and known indices get their display name.
func ParseBrokerSymbol(ticker string) (symbol, exchange string) {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	exchange, rest, ok := strings.Cut(ticker, ":")
	if !ok {
		return ticker, ""
	}
	if name, ok := indexNames[ticker]; ok {
		return name, exchange
	}
	rest = strings.TrimSuffix(rest, "-EQ")
	rest = strings.TrimSuffix(rest, "-BE")
	return rest, exchange
}
