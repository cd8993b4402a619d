package infra

import (
	"fmt"
	"io"
	"strings"
)

// ANSI Color Codes
const (
	ColorReset  = "\033[0m"
	ColorRed    = "\033[31m"
	ColorGreen  = "\033[32m"
	ColorYellow = "\033[33m"
	ColorCyan   = "\033[36m"
)

// PrintBanner displays the startup banner with mode-specific warnings
func PrintBanner(w io.Writer, cfg *Config) {
	mode := strings.ToUpper(cfg.Trading.Mode)
	version := cfg.App.Version
	if version == "" {
		version = Version
	}

	color := ColorGreen
	modeDesc := "SIMULATION"

	switch mode {
	case "REAL":
		color = ColorRed
		modeDesc = "LIVE BROKER ORDERS"
	case "PAPER":
		color = ColorCyan
		modeDesc = "PAPER TRADING (NO ORDERS SENT)"
	}

	line := func(format string, args ...any) {
		fmt.Fprintf(w, "%s"+format+"%s\n", append(append([]any{color}, args...), ColorReset)...)
	}

	fmt.Fprintln(w)
	line("###########################################################")
	line("#                                                         #")
	line("#                    Fyers Desk                           #")
	line("#                                                         #")
	line("#   MODE:    %-44s #", mode)
	line("#   TYPE:    %-44s #", modeDesc)
	line("#   VERSION: %-44s #", version)
	line("#   WATCH:   %-44d #", len(cfg.MarketData.Watchlist))
	line("#                                                         #")
	if mode == "REAL" {
		fmt.Fprintf(w, "%s#   ⚠️  WARNING: ORDERS GO TO THE LIVE BROKER ACCOUNT  ⚠️   #%s\n", ColorRed, ColorReset)
	}
	line("###########################################################")
	fmt.Fprintln(w)
}
