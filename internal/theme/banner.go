package theme

import (
	"fmt"
	"io"
	"strings"
)

const (
	pink   = "\033[35m"
	yellow = "\033[33m"
	dim    = "\033[2m"
	reset  = "\033[0m"
)

// Banner returns the pocketsync banner.
func Banner() string {
	return "" +
		pink + "  ♥ " + reset + "pocketsync" + pink + " ♥" + reset + "\n" +
		dim + "  realtime mirror for pocket chat\n" + reset
}

// PrintBanner prints the banner to w.
func PrintBanner(w io.Writer) {
	fmt.Fprint(w, Banner())
}

// Reactions renders hearts and poops counts, e.g. "♥ 3  💩 1".
func Reactions(hearts, poops int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s♥ %d%s", pink, hearts, reset)
	if poops > 0 {
		fmt.Fprintf(&b, "  %s💩 %d%s", yellow, poops, reset)
	}
	return b.String()
}
