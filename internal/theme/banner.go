package theme

import (
	"fmt"
)

// Banner returns the startup banner.
func Banner() string {
	const cyan = "\033[36m"
	const magenta = "\033[35m"
	const reset = "\033[0m"

	art := "" +
		"   ◈◈   " + magenta + "MINDBOT" + reset + "   ◈◈\n" +
		cyan + "  a persona reply agent for X\n" + reset
	return art
}

// PrintBanner prints the banner to stdout.
func PrintBanner() {
	fmt.Print(Banner())
}
