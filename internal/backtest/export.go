package backtest

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"
)

// SaveJSON writes the full result (ledger and equity curve included) as
// pretty-printed JSON. Dates serialize as RFC 3339 strings.
func SaveJSON(result *Result, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("SaveJSON | creating %s: %w", path, err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		return fmt.Errorf("SaveJSON | encoding %s: %w", path, err)
	}
	log.Printf("SaveJSON | saved results to %s", path)
	return nil
}

// SaveCSV writes the trade ledger and equity curve as two CSV files under
// dir, named <prefix>_trades.csv and <prefix>_equity.csv.
func SaveCSV(result *Result, dir, prefix string) error {
	tradeRows := [][]string{{
		"ID", "Date", "Instrument", "Side", "Quantity", "Price",
		"Amount", "Commission", "Profit", "ProfitRate", "Reason", "ExitRatio", "Forced",
	}}
	for _, t := range result.Trades {
		tradeRows = append(tradeRows, []string{
			fmt.Sprintf("%d", t.ID),
			t.Date.Format(time.RFC3339),
			t.Instrument,
			t.Side,
			fmt.Sprintf("%.8f", t.Quantity),
			fmt.Sprintf("%.8f", t.Price),
			fmt.Sprintf("%.2f", t.Amount),
			fmt.Sprintf("%.4f", t.Commission),
			fmt.Sprintf("%.2f", t.Profit),
			fmt.Sprintf("%.4f", t.ProfitRate),
			t.Reason,
			fmt.Sprintf("%.4f", t.ExitRatio),
			fmt.Sprintf("%t", t.Forced),
		})
	}

	equityRows := [][]string{{"Date", "Equity"}}
	for _, p := range result.DailyEquity {
		equityRows = append(equityRows, []string{
			p.Date.Format(time.RFC3339),
			fmt.Sprintf("%.2f", p.Equity),
		})
	}

	if err := writeCSV(filepath.Join(dir, prefix+"_trades.csv"), tradeRows); err != nil {
		return err
	}
	return writeCSV(filepath.Join(dir, prefix+"_equity.csv"), equityRows)
}

func writeCSV(path string, rows [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("writeCSV | creating %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()
	for _, row := range rows {
		if err := w.Write(row); err != nil {
			return fmt.Errorf("writeCSV | writing %s: %w", path, err)
		}
	}
	log.Printf("writeCSV | saved %d rows to %s", len(rows)-1, path)
	return nil
}
