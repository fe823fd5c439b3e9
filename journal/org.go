package journal

import (
	"fmt"
	"strings"
	"time"
)

// FormatTransactionOrg renders a Transaction as an Org-mode block with
// the facts in a PROPERTIES drawer and empty review headings.
func FormatTransactionOrg(t Transaction) string {
	side := "short"
	if t.IsLong {
		side = "long"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "** %s %s (%s)\n", t.Symbol, side, shortID(t.ID))
	b.WriteString(":PROPERTIES:\n")
	fmt.Fprintf(&b, ":ID: %s\n", t.ID)
	fmt.Fprintf(&b, ":SYMBOL: %s\n", t.Symbol)
	fmt.Fprintf(&b, ":PROCESSOR: %s\n", t.Processor)
	fmt.Fprintf(&b, ":QTY: %.4f\n", t.Qty)
	fmt.Fprintf(&b, ":ENTRY_PRICE: %.4f\n", t.EntryPrice)
	fmt.Fprintf(&b, ":EXIT_PRICE: %.4f\n", t.ExitPrice)
	fmt.Fprintf(&b, ":ENTRY_TIME: %s\n", t.EntryTime.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, ":EXIT_TIME: %s\n", t.ExitTime.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, ":GL: %.2f\n", t.GL)
	fmt.Fprintf(&b, ":GL_PCT: %.4f\n", t.GLPct)
	if t.Slippage != nil {
		fmt.Fprintf(&b, ":SLIPPAGE: %.2f\n", *t.Slippage)
	}
	b.WriteString(":END:\n\n")
	b.WriteString("*** Review\n- \n")
	return b.String()
}

// FormatTransactionsOrg renders several transactions separated by blank lines.
func FormatTransactionsOrg(txns []Transaction) string {
	var b strings.Builder
	for i, t := range txns {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(FormatTransactionOrg(t))
	}
	return b.String()
}

func shortID(full string) string {
	if len(full) <= 8 {
		return full
	}
	return full[:8]
}
