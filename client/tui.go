package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"peerwatch/common"
)

var clipWrite = clipboard.WriteAll

var peerColumns = []string{"Peer", "Endpoint", "Attempts", "Transfer"}

// runTUI shows the tunnel list and the live peer table until the user quits.
// The monitor is active while the peer view is shown and not paused.
func runTUI(cfg clientConfig, backend common.Backend) error {
	app := tview.NewApplication()
	app.EnableMouse(true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tunnelList := tview.NewList().ShowSecondaryText(false)
	tunnelList.SetBorder(true).SetTitle("Tunnels")
	tunnelList.SetSelectedBackgroundColor(tcell.ColorDarkSlateGray)
	tunnelList.SetSelectedTextColor(tcell.ColorWhite)

	peerTable := tview.NewTable().SetFixed(1, 0).SetSelectable(true, false)
	peerTable.SetBorder(true).SetTitle("Peers")
	peerTable.SetSelectedStyle(tcell.StyleDefault.Background(tcell.ColorDarkSlateGray).Foreground(tcell.ColorWhite))

	infoView := tview.NewTextView().SetDynamicColors(true)
	infoView.SetBorder(true).SetTitle("Tunnel")

	logView := tview.NewTextView().SetDynamicColors(true).SetWordWrap(true).SetWrap(true)
	logView.SetBorder(true).SetTitle("Logs")
	logView.SetScrollable(true)
	log.SetOutput(&tuiLogWriter{app: app, view: logView})
	defer log.SetOutput(os.Stderr)

	statusBar := tview.NewTextView().SetDynamicColors(true).SetText("Idle")
	statusBar.SetBorder(true).SetTitle("Activity")

	help := tview.NewTextView().SetDynamicColors(true).
		SetText("[yellow]c[white] copy key  [yellow]p[white] pause/resume  [yellow]r[white] rescan  [yellow]Tab[white] focus  [yellow]q[white] quit")

	mon := newPeerMonitor(backend, cfg.Interval, cfg.Threshold)
	tl, err := startTelemetryLogger(ctx, mon, cfg.Telemetry)
	if err != nil {
		log.Printf("telemetry disabled: %v", err)
	}
	defer tl.Stop()

	var current monitorSnapshot
	render := func() {
		current = mon.Snapshot()
		renderInfo(infoView, current, cfg.Threshold, mon.Active())
		renderPeerTable(peerTable, current, cfg.Threshold)
	}
	mon.onUpdate = func(monitorSnapshot) {
		go app.QueueUpdateDraw(render)
	}
	mon.onRemoval = func(ev removalEvent) {
		tl.RecordRemoval(ev)
		go app.QueueUpdateDraw(func() { statusBar.SetText(removalStatus(ev)) })
	}

	selected := ""
	filling := false
	selectTunnel := func(name string) {
		if filling || name == "" || name == selected {
			return
		}
		selected = name
		mon.SelectTunnel(name)
		cfg.Tunnel = name
		saveStoredConfig(cfg.stored())
		statusBar.SetText(fmt.Sprintf("[yellow]Watching %s", name))
	}
	tunnelList.SetChangedFunc(func(_ int, name, _ string, _ rune) { selectTunnel(name) })
	tunnelList.SetSelectedFunc(func(_ int, name, _ string, _ rune) {
		selectTunnel(name)
		app.SetFocus(peerTable)
	})

	var scanInFlight bool
	refreshTunnels := func() {
		if scanInFlight {
			return
		}
		scanInFlight = true
		var names []string
		runAsync(app, statusBar, "Scanning tunnels", func() error {
			var err error
			names, err = backend.Tunnels(ctx)
			return err
		}, func(err error) {
			scanInFlight = false
			if err != nil {
				return
			}
			filling = true
			fillTunnelList(tunnelList, names, cfg.Tunnel)
			filling = false
			if len(names) == 0 {
				statusBar.SetText("[yellow]No tunnels found")
				return
			}
			idx := tunnelList.GetCurrentItem()
			name, _ := tunnelList.GetItemText(idx)
			selectTunnel(name)
		})
	}

	pausing := false
	togglePause := func() {
		if pausing {
			return
		}
		if !mon.Active() {
			mon.Activate()
			statusBar.SetText("[green]Watching")
			render()
			return
		}
		pausing = true
		statusBar.SetText("[yellow]Pausing...")
		deactivateAsync(mon, func() {
			app.QueueUpdateDraw(func() {
				pausing = false
				statusBar.SetText("[yellow]Paused")
				render()
			})
		})
	}

	copySelected := func() {
		row, _ := peerTable.GetSelection()
		if err := copyPeerKey(current, row-1); err != nil {
			statusBar.SetText("[red]" + err.Error())
			return
		}
		statusBar.SetText("[green]Peer key copied")
	}

	left := tview.NewFlex().SetDirection(tview.FlexRow)
	left.AddItem(tunnelList, 0, 1, true)
	left.AddItem(infoView, 8, 0, false)

	right := tview.NewFlex().SetDirection(tview.FlexRow)
	right.AddItem(peerTable, 0, 3, false)
	right.AddItem(logView, 0, 2, false)

	body := tview.NewFlex().SetDirection(tview.FlexColumn)
	body.AddItem(left, 30, 0, true)
	body.AddItem(right, 0, 1, false)

	root := tview.NewFlex().SetDirection(tview.FlexRow)
	root.AddItem(body, 0, 1, true)
	root.AddItem(statusBar, 3, 0, false)
	root.AddItem(help, 1, 0, false)

	focusables := []tview.Primitive{tunnelList, peerTable, logView}
	focusIdx := 0
	root.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyCtrlC:
			app.Stop()
			return nil
		case tcell.KeyTab:
			focusIdx = (focusIdx + 1) % len(focusables)
			app.SetFocus(focusables[focusIdx])
			return nil
		case tcell.KeyRune:
			switch event.Rune() {
			case 'q':
				app.Stop()
				return nil
			case 'c':
				copySelected()
				return nil
			case 'p':
				togglePause()
				return nil
			case 'r':
				refreshTunnels()
				return nil
			}
		}
		return event
	})

	done := make(chan struct{})
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	go func() {
		for {
			select {
			case <-ticker.C:
				app.QueueUpdateDraw(refreshTunnels)
			case <-done:
				return
			}
		}
	}()

	if cfg.Tunnel != "" {
		selected = cfg.Tunnel
		mon.SelectTunnel(cfg.Tunnel)
	}
	mon.Activate()
	refreshTunnels()
	logBuildProvenance()

	err = app.SetRoot(root, true).SetFocus(tunnelList).Run()
	close(done)
	mon.Deactivate()
	return err
}

func fillTunnelList(list *tview.List, names []string, preferred string) {
	prev, _ := list.GetItemText(list.GetCurrentItem())
	if list.GetItemCount() == 0 {
		prev = ""
	}
	if prev != "" {
		preferred = prev
	}
	list.Clear()
	for i, n := range names {
		list.AddItem(n, "", 0, nil)
		if n == preferred {
			list.SetCurrentItem(i)
		}
	}
}

func renderInfo(tv *tview.TextView, snap monitorSnapshot, threshold int, active bool) {
	if snap.Tunnel == "" {
		tv.SetText("[gray]No tunnel selected")
		return
	}
	stateColor := "red"
	switch snap.State {
	case common.StateUp:
		stateColor = "green"
	case common.StateToggle:
		stateColor = "yellow"
	}
	ifaceKey := "-"
	if !snap.InterfaceKey.IsZero() {
		ifaceKey = snap.InterfaceKey.Short()
	}
	polling := "[green]on"
	if !active {
		polling = "[yellow]paused"
	}
	tv.SetText(fmt.Sprintf("[yellow]Name[white] %s\n[yellow]State[white] [%s]%s[white]\n[yellow]Key[white] %s\n[yellow]Peers[white] %d\n[yellow]Disable at[white] %d attempts\n[yellow]Polling[white] %s",
		tview.Escape(snap.Tunnel), stateColor, snap.State, ifaceKey, len(snap.Peers), threshold, polling))
}

func renderPeerTable(table *tview.Table, snap monitorSnapshot, threshold int) {
	row, _ := table.GetSelection()
	table.Clear()
	for c, title := range peerColumns {
		table.SetCell(0, c, tview.NewTableCell(title).
			SetTextColor(tcell.ColorYellow).
			SetSelectable(false).
			SetExpansion(1))
	}
	for i, cells := range peerRows(snap) {
		for c, text := range cells {
			cell := tview.NewTableCell(tview.Escape(text)).SetExpansion(1)
			if c == 2 {
				cell.SetTextColor(attemptsColor(snap.Peers[i].Attempts, threshold))
			}
			table.SetCell(i+1, c, cell)
		}
	}
	if row < 1 {
		row = 1
	}
	if row > len(snap.Peers) {
		row = len(snap.Peers)
	}
	if row >= 1 {
		table.Select(row, 0)
	}
}

// peerRows returns one row of cell text per peer, in peerColumns order.
func peerRows(snap monitorSnapshot) [][]string {
	rows := make([][]string, 0, len(snap.Peers))
	for _, p := range snap.Peers {
		endpoint := p.Endpoint
		if endpoint == "" {
			endpoint = "-"
		}
		rows = append(rows, []string{p.Key.Short(), endpoint, fmt.Sprintf("%d", p.Attempts), formatTransfer(p)})
	}
	return rows
}

// formatTransfer is empty for peers that have not moved any bytes yet.
func formatTransfer(p peerView) string {
	if !p.TransferVisible {
		return ""
	}
	return fmt.Sprintf("rx %s, tx %s", common.FormatBytes(p.Rx), common.FormatBytes(p.Tx))
}

func attemptsColor(attempts, threshold int) tcell.Color {
	switch {
	case attempts >= threshold:
		return tcell.ColorRed
	case attempts > 0:
		return tcell.ColorYellow
	default:
		return tcell.ColorGreen
	}
}

func removalStatus(ev removalEvent) string {
	keys := make([]string, 0, len(ev.Peers))
	for _, k := range ev.Peers {
		keys = append(keys, k.Short())
	}
	if ev.Err != nil {
		return fmt.Sprintf("[red]Failed to disable %s on %s: %v", strings.Join(keys, ", "), ev.Tunnel, ev.Err)
	}
	return fmt.Sprintf("[yellow]Disabled %s on %s", strings.Join(keys, ", "), ev.Tunnel)
}

// copyPeerKey puts the base64 key of peer idx on the clipboard.
func copyPeerKey(snap monitorSnapshot, idx int) error {
	if idx < 0 || idx >= len(snap.Peers) {
		return errors.New("no peer selected")
	}
	if err := clipWrite(snap.Peers[idx].Key.Base64()); err != nil {
		return fmt.Errorf("clipboard: %w", err)
	}
	return nil
}

// deactivateAsync stops mon without blocking the caller, which may be the UI
// event loop while a config update is still in flight. done runs afterwards.
func deactivateAsync(mon *peerMonitor, done func()) {
	go func() {
		mon.Deactivate()
		if done != nil {
			done()
		}
	}()
}

// runAsync keeps the UI responsive during slow backend calls.
func runAsync(app *tview.Application, status *tview.TextView, label string, work func() error, onDone func(err error)) {
	frames := []rune{'|', '/', '-', '\\'}
	stop := make(chan struct{})
	go func() {
		i := 0
		for {
			select {
			case <-stop:
				return
			case <-time.After(120 * time.Millisecond):
				frame := frames[i%len(frames)]
				i++
				app.QueueUpdateDraw(func() {
					status.SetText(fmt.Sprintf("[yellow]%s %c", label, frame))
				})
			}
		}
	}()

	go func() {
		err := work()
		close(stop)
		app.QueueUpdateDraw(func() {
			if err != nil {
				status.SetText(fmt.Sprintf("[red]%s failed: %v", label, err))
			} else {
				status.SetText(fmt.Sprintf("[green]%s done", label))
			}
			if onDone != nil {
				onDone(err)
			}
		})
	}()
}

type tuiLogWriter struct {
	app  *tview.Application
	view *tview.TextView
}

func (w *tuiLogWriter) Write(p []byte) (n int, err error) {
	msg := string(p)
	// Mirror to a file when verbose; the pane is lost on exit.
	if verboseEnabled() {
		if dir, err := userConfigDir(); err == nil {
			logFile := filepath.Join(dir, "peerwatch.log")
			f, _ := os.OpenFile(logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
			if f != nil {
				_, _ = fmt.Fprintf(f, "%s %s", time.Now().Format("15:04:05"), msg)
				_ = f.Close()
			}
		}
	}
	appendLog(w.app, w.view, tview.Escape(msg))
	return len(p), nil
}

func appendLog(app *tview.Application, view *tview.TextView, msg string) {
	if app == nil || view == nil {
		return
	}
	go func() {
		app.QueueUpdateDraw(func() {
			appendLogSync(view, msg)
		})
	}()
}

func appendLogSync(view *tview.TextView, msg string) {
	if view == nil {
		return
	}
	follow := logViewAtBottom(view)
	_, _ = view.Write([]byte(msg))
	if follow {
		view.ScrollToEnd()
	}
}

func logViewAtBottom(view *tview.TextView) bool {
	if view == nil {
		return true
	}
	row, _ := view.GetScrollOffset()
	if row < 0 {
		return true
	}
	_, _, _, height := view.GetRect()
	if height <= 0 {
		return true
	}
	lineCount := view.GetWrappedLineCount()
	if lineCount == 0 {
		return true
	}
	maxOffset := lineCount - height
	if maxOffset < 0 {
		maxOffset = 0
	}
	return row >= maxOffset
}
