// Package reporting renders result bundles for export. Formatting
// lives here, outside the simulation core.
package reporting

import (
	"fmt"
	"strings"

	"portfolio-lab/internal/domain"
)

// RenderTradesCSV renders a run's trade list as CSV.
func RenderTradesCSV(trades []domain.TradeRecord) string {
	var sb strings.Builder
	sb.WriteString("trade_id,date,symbol,action,quantity,price,commission,slippage,cash_delta,lot_ids\n")

	for _, tr := range trades {
		ids := make([]string, len(tr.LotIDs))
		for i, id := range tr.LotIDs {
			ids[i] = fmt.Sprintf("%d", id)
		}
		sb.WriteString(fmt.Sprintf("%d,%s,%s,%s,%s,%s,%s,%s,%s,%s\n",
			tr.ID,
			tr.Date.Format(domain.DateLayout),
			tr.Symbol,
			tr.Action,
			tr.Quantity.String(),
			tr.Price.String(),
			tr.Commission.StringFixed(2),
			tr.Slippage.StringFixed(2),
			tr.CashDelta.StringFixed(2),
			strings.Join(ids, ";"),
		))
	}
	return sb.String()
}

// RenderEquityCSV renders the daily equity curve as CSV.
func RenderEquityCSV(points []domain.EquityPoint) string {
	var sb strings.Builder
	sb.WriteString("date,cash,positions_value,portfolio_value,daily_return\n")

	for _, pt := range points {
		sb.WriteString(fmt.Sprintf("%s,%s,%s,%s,%.8f\n",
			pt.Date.Format(domain.DateLayout),
			pt.Cash.StringFixed(2),
			pt.PositionsValue.StringFixed(2),
			pt.PortfolioValue.StringFixed(2),
			pt.DailyReturn,
		))
	}
	return sb.String()
}

// RenderTaxCSV renders the tax-year summaries as CSV.
func RenderTaxCSV(years []domain.TaxYearSummary) string {
	var sb strings.Builder
	sb.WriteString("year,short_term_gains,long_term_gains,qualified_dividends,ordinary_dividends,interest_income,total_tax,wash_sale_count\n")

	for _, y := range years {
		sb.WriteString(fmt.Sprintf("%d,%s,%s,%s,%s,%s,%s,%d\n",
			y.Year,
			y.ShortTermGains.StringFixed(2),
			y.LongTermGains.StringFixed(2),
			y.QualifiedDividends.StringFixed(2),
			y.OrdinaryDividends.StringFixed(2),
			y.InterestIncome.StringFixed(2),
			y.TotalTax.StringFixed(2),
			y.WashSaleCount,
		))
	}
	return sb.String()
}

// RenderLotsCSV renders the open-lots snapshot as CSV.
func RenderLotsCSV(lots []domain.Lot) string {
	var sb strings.Builder
	sb.WriteString("lot_id,symbol,acquired,original_qty,remaining_qty,cost_per_share,wash_disallowed,washed_into\n")

	for _, lot := range lots {
		sb.WriteString(fmt.Sprintf("%d,%s,%s,%s,%s,%s,%s,%t\n",
			lot.ID,
			lot.Symbol,
			lot.AcquisitionDate.Format(domain.DateLayout),
			lot.OriginalQty.String(),
			lot.RemainingQty.String(),
			lot.CostPerShare.StringFixed(6),
			lot.WashDisallowed.StringFixed(2),
			lot.WashedInto,
		))
	}
	return sb.String()
}
