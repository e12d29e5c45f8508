package marketdata

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"portfolio-lab/internal/domain"
)

// LoadCSVDir builds a MemorySource from a directory of CSV files:
//
//	SYMBOL.csv            date,open,high,low,close,adj_close,volume
//	SYMBOL.dividends.csv  ex_date,amount,qualified_pct
//	SYMBOL.splits.csv     ex_date,ratio
//	expense_ratios.csv    symbol,expense_ratio
//
// Dividend and split files are optional per symbol.
func LoadCSVDir(dir string) (*MemorySource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read data dir: %w", err)
	}

	src := NewMemorySource()
	loadedAny := false

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".csv") {
			continue
		}
		path := filepath.Join(dir, name)

		switch {
		case name == "expense_ratios.csv":
			if err := loadExpenseRatios(src, path); err != nil {
				return nil, err
			}
		case strings.HasSuffix(name, ".dividends.csv"):
			symbol := strings.TrimSuffix(name, ".dividends.csv")
			if err := loadDividends(src, symbol, path); err != nil {
				return nil, err
			}
		case strings.HasSuffix(name, ".splits.csv"):
			symbol := strings.TrimSuffix(name, ".splits.csv")
			if err := loadSplits(src, symbol, path); err != nil {
				return nil, err
			}
		default:
			symbol := strings.TrimSuffix(name, ".csv")
			if err := loadBars(src, symbol, path); err != nil {
				return nil, err
			}
			loadedAny = true
		}
	}

	if !loadedAny {
		return nil, fmt.Errorf("%w: no bar files in %s", ErrDataUnavailable, dir)
	}
	return src, nil
}

func readRows(path string, wantFields int) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = wantFields

	var rows [][]string
	first := true
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		if first {
			first = false
			continue // header
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func loadBars(src *MemorySource, symbol, path string) error {
	rows, err := readRows(path, 7)
	if err != nil {
		return err
	}

	bars := make([]domain.Bar, 0, len(rows))
	for _, row := range rows {
		date, err := domain.ParseDate(row[0])
		if err != nil {
			return fmt.Errorf("%s: bad date %q: %w", path, row[0], err)
		}
		fields := make([]decimal.Decimal, 5)
		for i := 0; i < 5; i++ {
			fields[i], err = decimal.NewFromString(row[i+1])
			if err != nil {
				return fmt.Errorf("%s: bad price %q: %w", path, row[i+1], err)
			}
		}
		volume, err := strconv.ParseInt(row[6], 10, 64)
		if err != nil {
			return fmt.Errorf("%s: bad volume %q: %w", path, row[6], err)
		}
		bars = append(bars, domain.Bar{
			Date:     date,
			Open:     fields[0],
			High:     fields[1],
			Low:      fields[2],
			Close:    fields[3],
			AdjClose: fields[4],
			Volume:   volume,
		})
	}
	src.SetBars(symbol, bars)
	return nil
}

func loadDividends(src *MemorySource, symbol, path string) error {
	rows, err := readRows(path, 3)
	if err != nil {
		return err
	}

	divs := make([]domain.DividendAction, 0, len(rows))
	for _, row := range rows {
		exDate, err := domain.ParseDate(row[0])
		if err != nil {
			return fmt.Errorf("%s: bad ex_date %q: %w", path, row[0], err)
		}
		amount, err := decimal.NewFromString(row[1])
		if err != nil {
			return fmt.Errorf("%s: bad amount %q: %w", path, row[1], err)
		}
		qualified, err := strconv.ParseFloat(row[2], 64)
		if err != nil {
			return fmt.Errorf("%s: bad qualified_pct %q: %w", path, row[2], err)
		}
		divs = append(divs, domain.DividendAction{
			Symbol:       symbol,
			ExDate:       exDate,
			PerShare:     amount,
			QualifiedPct: qualified,
		})
	}
	src.SetDividends(symbol, divs)
	return nil
}

func loadSplits(src *MemorySource, symbol, path string) error {
	rows, err := readRows(path, 2)
	if err != nil {
		return err
	}

	splits := make([]domain.SplitAction, 0, len(rows))
	for _, row := range rows {
		exDate, err := domain.ParseDate(row[0])
		if err != nil {
			return fmt.Errorf("%s: bad ex_date %q: %w", path, row[0], err)
		}
		ratio, err := decimal.NewFromString(row[1])
		if err != nil {
			return fmt.Errorf("%s: bad ratio %q: %w", path, row[1], err)
		}
		splits = append(splits, domain.SplitAction{Symbol: symbol, ExDate: exDate, Ratio: ratio})
	}
	src.SetSplits(symbol, splits)
	return nil
}

func loadExpenseRatios(src *MemorySource, path string) error {
	rows, err := readRows(path, 2)
	if err != nil {
		return err
	}
	for _, row := range rows {
		er, err := strconv.ParseFloat(row[1], 64)
		if err != nil {
			return fmt.Errorf("%s: bad expense_ratio %q: %w", path, row[1], err)
		}
		src.SetExpenseRatio(row[0], er)
	}
	return nil
}
