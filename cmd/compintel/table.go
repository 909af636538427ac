package main

import (
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// wideColumnMax caps free-text columns so long alias lists and stage
// details wrap instead of stretching the table.
const wideColumnMax = 60

// tableView is one rendered CLI table. Numeric columns are right aligned and
// wide columns wrap at wideColumnMax.
type tableView struct {
	headers []string
	rows    [][]string
	footer  []string
	numeric map[int]bool
	wide    map[int]bool
}

func newTableView(headers ...string) *tableView {
	return &tableView{
		headers: headers,
		numeric: make(map[int]bool),
		wide:    make(map[int]bool),
	}
}

// numericFrom marks every column from index start onward as numeric.
func (v *tableView) numericFrom(start int) *tableView {
	for i := start; i < len(v.headers); i++ {
		v.numeric[i] = true
	}
	return v
}

func (v *tableView) wrap(columns ...int) *tableView {
	for _, i := range columns {
		v.wide[i] = true
	}
	return v
}

func (v *tableView) add(row ...string) {
	v.rows = append(v.rows, row)
}

func (v *tableView) render() string {
	columns := len(v.headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(padRow(v.headers, columns))
	for _, row := range v.rows {
		tw.AppendRow(padRow(row, columns))
	}
	if len(v.footer) > 0 {
		tw.AppendFooter(padRow(v.footer, columns))
	}

	configs := make([]table.ColumnConfig, 0, columns)
	for i := 0; i < columns; i++ {
		cfg := table.ColumnConfig{Number: i + 1, Align: text.AlignLeft, AlignHeader: text.AlignLeft}
		if v.numeric[i] {
			cfg.Align = text.AlignRight
			cfg.AlignFooter = text.AlignRight
		}
		if v.wide[i] {
			cfg.WidthMax = wideColumnMax
		}
		configs = append(configs, cfg)
	}
	tw.SetColumnConfigs(configs)
	return tw.Render()
}

func padRow(values []string, columns int) table.Row {
	row := make(table.Row, columns)
	for i := range row {
		if i < len(values) {
			row[i] = values[i]
		} else {
			row[i] = ""
		}
	}
	return row
}
