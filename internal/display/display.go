package display

import (
	"strings"

	"rebalancer-go/infrastructure/logger"
)

// Table 带标题的文本表格，首行为表头。
type Table struct {
	Title string
	Rows  [][]string
}

// Display 周期内各步骤推送的状态与表格。推送丢失不影响正确性。
type Display interface {
	Push(header, status string, tables ...Table)
	Render()
}

// LogDisplay 把表格按列对齐后走日志输出。
type LogDisplay struct {
	log    *logger.Logger
	header string
	status string
	tables []Table
}

func NewLogDisplay(log *logger.Logger) *LogDisplay {
	return &LogDisplay{log: log}
}

func (d *LogDisplay) Push(header, status string, tables ...Table) {
	d.header = header
	d.status = status
	d.tables = tables
}

func (d *LogDisplay) Render() {
	d.log.Info(d.header + " | " + d.status)
	for _, t := range d.tables {
		for _, line := range formatTable(t) {
			d.log.Debug(line)
		}
	}
}

// formatTable 按每列最大宽度对齐。
func formatTable(t Table) []string {
	if len(t.Rows) == 0 {
		return nil
	}
	widths := make([]int, 0)
	for _, row := range t.Rows {
		for i, cell := range row {
			if i >= len(widths) {
				widths = append(widths, 0)
			}
			if len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}
	out := make([]string, 0, len(t.Rows)+1)
	out = append(out, "== "+t.Title+" ==")
	var b strings.Builder
	for _, row := range t.Rows {
		b.Reset()
		for i, cell := range row {
			b.WriteString(cell)
			b.WriteString(strings.Repeat(" ", widths[i]-len(cell)+2))
		}
		out = append(out, strings.TrimRight(b.String(), " "))
	}
	return out
}

// NopDisplay 测试用。
type NopDisplay struct{}

func (NopDisplay) Push(string, string, ...Table) {}
func (NopDisplay) Render()                       {}
