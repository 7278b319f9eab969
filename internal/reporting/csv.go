package reporting

import (
	"fmt"
	"strings"
	"time"
)

// RenderCSV renders the transaction log as CSV string.
func RenderCSV(rows []TransactionRow) string {
	var sb strings.Builder

	// Header
	sb.WriteString("created_at,kind,symbol,input_amount,output_amount,price,status,signature\n")

	// Rows
	for _, t := range rows {
		sb.WriteString(fmt.Sprintf("%s,%s,%s,%s,%s,%s,%s,%s\n",
			t.CreatedAt.Format(time.RFC3339),
			t.Kind,
			t.Symbol,
			t.InputAmount,
			t.OutputAmount,
			t.Price,
			t.Status,
			t.Signature,
		))
	}

	return sb.String()
}

// RenderPositionsCSV renders the positions table as CSV string. Unpriced
// positions have empty price and value columns.
func RenderPositionsCSV(rows []PositionRow) string {
	var sb strings.Builder

	sb.WriteString("symbol,amount,average_entry_price,current_price,value,current_pct,target_pct,drift_pct,pnl_pct\n")
	for _, p := range rows {
		sb.WriteString(fmt.Sprintf("%s,%s,%s,%s,%s,%.6f,%.6f,%.6f,%.6f\n",
			p.Symbol,
			p.Amount,
			p.AverageEntryPrice,
			p.CurrentPrice,
			p.Value,
			p.CurrentPct,
			p.TargetPct,
			p.DriftPct,
			p.PnlPct,
		))
	}

	return sb.String()
}
