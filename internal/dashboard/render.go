package dashboard

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/shopspring/decimal"

	"github.com/betbot/unitgrid/internal/domain"
	"github.com/betbot/unitgrid/internal/events"
	"github.com/betbot/unitgrid/internal/tracker"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")).Padding(0, 1)
	goodStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("46"))
	badStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("226"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	panelStyle  = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("39")).
			Padding(0, 1)
)

// Render 渲染整屏（纯函数，便于测试）。
func Render(v View, loadErr error, width int) string {
	available := width - 4
	if available < 60 {
		available = 60
	}
	half := available/2 - 1

	header := renderHeader(v)
	if loadErr != nil {
		header = lipgloss.JoinVertical(lipgloss.Left, header, badStyle.Render("读取失败: "+loadErr.Error()))
	}
	if !v.HasSnapshot {
		return lipgloss.JoinVertical(lipgloss.Left, header, dimStyle.Render("等待快照... (q 退出, r 刷新)"))
	}

	left := panelStyle.Width(half).Render(strings.Join([]string{
		renderPosition(v.Snapshot, half),
		"",
		renderWindow(v.Snapshot, half),
	}, "\n"))
	right := panelStyle.Width(half).Render(strings.Join([]string{
		renderPnL(v.Snapshot, half),
		"",
		renderEvents(v, half),
	}, "\n"))
	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		lipgloss.JoinHorizontal(lipgloss.Top, left, "  ", right),
		dimStyle.Render("q 退出 · r 刷新"),
	)
}

func renderHeader(v View) string {
	s := v.Snapshot
	symbol := s.Symbol
	if symbol == "" {
		symbol = "-"
	}
	age := "-"
	if !s.SavedAt.IsZero() {
		age = v.LoadedAt.Sub(s.SavedAt).Truncate(time.Second).String()
	}
	return headerStyle.Render(fmt.Sprintf("UnitGrid | %s | Time: %s | 快照延迟: %s",
		symbol, v.LoadedAt.Format("15:04:05"), age))
}

func section(title string, width int) []string {
	w := width - 4
	if w < 1 {
		w = 1
	}
	return []string{titleStyle.Render(title), strings.Repeat("─", w)}
}

func renderPosition(s tracker.Snapshot, width int) string {
	lines := section("Position", width)
	valley := "-"
	if s.ValleyUnit != nil {
		valley = fmt.Sprintf("%d", *s.ValleyUnit)
	}
	lines = append(lines,
		fmt.Sprintf("Price: %s  Entry: %s  Unit: %s", s.LastPrice, s.EntryPrice, s.UnitSize),
		fmt.Sprintf("Current: %d  Peak: %d  Valley: %s", s.CurrentUnit, s.PeakUnit, valley),
		fmt.Sprintf("Phase: %s  Composition: %s", phaseLabel(s.Phase), s.Composition),
	)
	led := s.Accountant.Ledger
	lines = append(lines, fmt.Sprintf("Asset: %s / %s  Notional: %s",
		led.CurrentAssetSize.StringFixed(6), led.OriginalAssetSize.StringFixed(6), led.CurrentNotional.StringFixed(2)))
	if s.LockedFragment.Locked {
		lines = append(lines, fmt.Sprintf("Fragment: %s @ %s (unit %d)",
			s.LockedFragment.LockedAsset.StringFixed(6), s.LockedFragment.LockPrice, s.LockedFragment.LockedUnit))
	} else {
		lines = append(lines, dimStyle.Render("Fragment: unlocked"))
	}
	if n := len(s.Hedge.Lots); n > 0 {
		total := decimal.Zero
		for _, l := range s.Hedge.Lots {
			total = total.Add(l.AssetAmount)
		}
		lines = append(lines, warnStyle.Render(fmt.Sprintf("Hedge: %d lots, %s short", n, total.StringFixed(6))))
	}
	return strings.Join(lines, "\n")
}

func phaseLabel(p domain.CyclePhase) string {
	switch p {
	case domain.PhaseAdvance, domain.PhaseRecovery:
		return goodStyle.Render(string(p))
	case domain.PhaseDecline:
		return badStyle.Render(string(p))
	default:
		return warnStyle.Render(string(p))
	}
}

func renderWindow(s tracker.Snapshot, width int) string {
	lines := section(fmt.Sprintf("Window (%d)", s.WindowSize), width)
	orders := append(append([]domain.PendingOrder{}, s.TrailingBuys...), s.TrailingStops...)
	if len(orders) == 0 {
		lines = append(lines, dimStyle.Render("(empty)"))
	}
	for i := len(orders) - 1; i >= 0; i-- {
		o := orders[i]
		label := "STOP"
		style := badStyle
		if o.Side == domain.SideTrailingBuy {
			label, style = "BUY ", goodStyle
		}
		line := fmt.Sprintf("%s unit %4d @ %s  %s", label, o.Unit, o.Price, o.Status)
		if o.LastError != "" {
			line += "  " + o.LastError
		}
		lines = append(lines, style.Render(line))
	}
	if n := len(s.Cancels); n > 0 {
		lines = append(lines, warnStyle.Render(fmt.Sprintf("待撤订单: %d", n)))
	}
	return strings.Join(lines, "\n")
}

func renderPnL(s tracker.Snapshot, width int) string {
	lines := section("PnL", width)
	style := goodStyle
	if s.RealizedPnL.IsNegative() {
		style = badStyle
	}
	lines = append(lines,
		style.Render("Realized: "+s.RealizedPnL.StringFixed(2)),
		fmt.Sprintf("Cycle: %s  Resets: %d", s.Accountant.CycleRealized.StringFixed(2), s.ResetCount),
		fmt.Sprintf("Pending actions: %d", len(s.Actions)),
	)
	return strings.Join(lines, "\n")
}

func renderEvents(v View, width int) string {
	lines := section("Events", width)
	if len(v.Counts) > 0 {
		kinds := []events.Kind{events.KindUnitChanged, events.KindScalingAction, events.KindFillApplied,
			events.KindResetOccurred, events.KindOrderRejected, events.KindInvariantViolated}
		var parts []string
		for _, k := range kinds {
			if n := v.Counts[k]; n > 0 {
				parts = append(parts, fmt.Sprintf("%s=%d", k, n))
			}
		}
		if len(parts) > 0 {
			lines = append(lines, dimStyle.Render(strings.Join(parts, " ")))
		}
	}
	if len(v.Events) == 0 {
		lines = append(lines, dimStyle.Render("(no events)"))
	}
	for _, r := range v.Events {
		line := fmt.Sprintf("%s %s", r.At.Format("15:04:05"), r.Kind)
		switch r.Kind {
		case events.KindOrderRejected, events.KindInvariantViolated:
			line = badStyle.Render(line)
		case events.KindResetOccurred:
			line = warnStyle.Render(line)
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}
