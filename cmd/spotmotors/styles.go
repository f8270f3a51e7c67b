package main

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/gwillem/spotmotors/pkg/motors"
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))

	tableHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")).Padding(0, 1)
	tableKeyStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("14")).Padding(0, 1)
	tableCellStyle   = lipgloss.NewStyle().Padding(0, 1)
	tableGoodStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Padding(0, 1)
	tableBadStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Padding(0, 1)
	tableWarnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Padding(0, 1)
)

// statusRows returns the table rows for s and the style of each value cell.
func statusRows(s motors.Status) ([][]string, []lipgloss.Style) {
	var rows [][]string
	var styles []lipgloss.Style
	add := func(key, value string, style lipgloss.Style) {
		rows = append(rows, []string{key, value})
		styles = append(styles, style)
	}

	stateStyle := tableCellStyle
	switch s.State {
	case motors.StateReady:
		stateStyle = tableGoodStyle
	case motors.StateClosed:
		stateStyle = tableWarnStyle
	}
	add("Session", s.State.String(), stateStyle)
	add("Robot", orDash(s.Hostname), tableCellStyle)

	owner := "not owned"
	ownerStyle := tableWarnStyle
	if s.EstopOwned {
		owner = s.EstopName
		ownerStyle = tableGoodStyle
	}
	add("Estop endpoint", owner, ownerStyle)

	// estopped is the bad reading, powered on the good one
	add("Estopped", s.Estopped.String(), tristateStyle(s.Estopped, tableBadStyle, tableGoodStyle))
	add("Powered on", s.PoweredOn.String(), tristateStyle(s.PoweredOn, tableGoodStyle, tableCellStyle))

	motion := string(s.Motion)
	if s.Motion == motors.MotionNone {
		motion = "-"
	}
	add("Posture", motion, tableCellStyle)

	if s.LastError != nil {
		add("Last error", s.LastError.Error(), tableBadStyle)
	}
	return rows, styles
}

func tristateStyle(t motors.Tristate, yes, no lipgloss.Style) lipgloss.Style {
	switch t {
	case motors.Yes:
		return yes
	case motors.No:
		return no
	default:
		return tableWarnStyle
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func renderStatus(s motors.Status) string {
	rows, styles := statusRows(s)
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(dimStyle).
		Headers("", "Status").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return tableHeaderStyle
			}
			if col == 0 {
				return tableKeyStyle
			}
			if row >= 0 && row < len(styles) {
				return styles[row]
			}
			return tableCellStyle
		})
	return t.Render()
}

func printCleanupErrors(errs []error) {
	for _, err := range errs {
		fmt.Println(errorStyle.Render("Cleanup: " + err.Error()))
	}
}
