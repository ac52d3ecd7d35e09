package infra

import (
	"fmt"
	"os"
)

// ANSI color codes
const (
	ColorReset  = "\033[0m"
	ColorRed    = "\033[31m"
	ColorGreen  = "\033[32m"
	ColorYellow = "\033[33m"
	ColorCyan   = "\033[36m"
)

// PrintBanner displays the startup banner. Live trading gets the loud
// red warning; everything else is paper money.
func PrintBanner(cfg *Config) {
	liveArmed := os.Getenv("CONFIRM_REAL_MONEY") == "true"

	color := ColorCyan
	modeDesc := "PAPER TRADING (SIMULATED FILLS)"
	if liveArmed {
		color = ColorRed
		modeDesc = "LIVE ADAPTERS ARMED - REAL MONEY POSSIBLE"
	}

	fmt.Println()
	fmt.Printf("%s###########################################################%s\n", color, ColorReset)
	fmt.Printf("%s#  %s v%s%s\n", color, cfg.App.Name, cfg.App.Version, ColorReset)
	fmt.Printf("%s#  MODE: %s%s\n", color, modeDesc, ColorReset)
	fmt.Printf("%s#  LISTEN: %s%s\n", color, cfg.Server.Addr, ColorReset)
	fmt.Printf("%s###########################################################%s\n", color, ColorReset)
	fmt.Println()
}
