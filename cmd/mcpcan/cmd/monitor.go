package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/jroimartin/gocui"
	"github.com/roffe/mcpcan"
	"github.com/roffe/mcpcan/cmd/mcpcan/pkg/ui"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const (
	viewFrames = "frames"
	viewInfo   = "info"
	viewHelp   = "help"
	viewEvents = "events"
	viewFilter = "filter"
	viewSendID = "sendid"
	viewDLC    = "dlc"
	viewData   = "data"
	viewRange  = "range"
	viewBits   = "bits"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor [d0 .. d7]",
	Short: "Interactive frame monitor",
	Long:  `Interactive frame monitor. Data bytes given on the command line are the initial payload sent with <s> and by the auto-ID sweep. Payload, speed, auto-ID range and the connection can all be changed from inside the monitor.`,
	Args:  cobra.MaximumNArgs(mcpcan.MaxDLC),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := parseData(args)
		if err != nil {
			return err
		}
		data, dlc, err := withDLC(cmd, data)
		if err != nil {
			return err
		}
		sweep, err := sweepFlags(cmd)
		if err != nil {
			return err
		}

		// the console writer would draw over the gui
		logger = logger.Output(io.Discard)

		b, err := initBridge(nil)
		if err != nil {
			return err
		}
		defer b.Close()
		if len(args) > 0 || cmd.Flags().Changed("dlc") {
			if err := b.SetPayload(mcpcan.Payload{Speed: b.Payload().Speed, DLC: dlc, Data: data}); err != nil {
				return err
			}
		}

		g, err := gocui.NewGui(gocui.OutputNormal)
		if err != nil {
			return err
		}
		defer g.Close()
		g.Cursor = true

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()
		errg, ctx := errgroup.WithContext(ctx)
		m := &monitor{
			ctx:    ctx,
			b:      b,
			g:      g,
			port:   b.PortName(),
			sweep:  sweep,
			filter: ui.NewInput(viewFilter, "ID filter", 27, mcpcan.IDLength, ui.HexDigit),
			sendID: ui.NewInput(viewSendID, "Send id", 27, mcpcan.IDLength, ui.HexDigit),
			dlc:    ui.NewInput(viewDLC, "DLC", 6, 1, ui.Digit),
			data:   ui.NewInput(viewData, "D0 .. D7", 34, 8*5-1, ui.ByteList),
			rng:    ui.NewInput(viewRange, "Auto ID start end ms", 22, 20, ui.Number),
		}
		g.SetManagerFunc(m.layout)
		if err := m.keybindings(); err != nil {
			return err
		}

		errg.Go(func() error { return b.Run(ctx) })
		errg.Go(func() error { return m.frames() })
		errg.Go(func() error { return m.events() })
		errg.Go(func() error { return m.info() })
		errg.Go(func() error {
			<-ctx.Done()
			g.Update(func(*gocui.Gui) error { return gocui.ErrQuit })
			return nil
		})

		if err := g.MainLoop(); err != nil && err != gocui.ErrQuit {
			cancel()
			errg.Wait()
			return err
		}
		cancel()
		return ignoreCanceled(errg.Wait())
	},
}

func init() {
	addSweepFlags(monitorCmd, "auto-ID ")
	monitorCmd.Flags().Int("dlc", 0, "data length code, defaults to the number of data bytes")
	rootCmd.AddCommand(monitorCmd)
}

type monitor struct {
	ctx   context.Context
	b     *mcpcan.Bridge
	g     *gocui.Gui
	port  string
	sweep mcpcan.SweepConfig
	// data byte the bit editor works on
	sel int

	filter *ui.Input
	sendID *ui.Input
	dlc    *ui.Input
	data   *ui.Input
	rng    *ui.Input
}

var (
	txRow = color.New(color.FgGreen).SprintFunc()
	rxRow = color.New(color.FgBlue).SprintFunc()
)

const frameHeader = "TIME         || ID   || DLC || D0  D1  D2  D3  D4  D5  D6  D7 || DIR"

func frameRow(f mcpcan.Frame) string {
	row := f.Time.Format("15:04:05.000") + " || " + f.String()
	if f.Direction == mcpcan.TX {
		return txRow(row)
	}
	return rxRow(row)
}

func (m *monitor) layout(g *gocui.Gui) error {
	maxX, maxY := g.Size()

	if v, err := g.SetView(viewInfo, 0, 0, 27, 12); err != nil {
		if err != gocui.ErrUnknownView {
			return err
		}
		v.Title = "Info"
	}
	if err := m.filter.Place(g, 0, 13); err != nil {
		return err
	}
	if err := m.sendID.Place(g, 0, 16); err != nil {
		return err
	}
	if v, err := g.SetView(viewEvents, 0, 19, 27, maxY-1); err != nil {
		if err != gocui.ErrUnknownView {
			return err
		}
		v.Autoscroll = true
		v.Wrap = true
		v.Title = "Events"
	}
	if err := m.dlc.Place(g, 28, maxY-11); err != nil {
		return err
	}
	if err := m.data.Place(g, 35, maxY-11); err != nil {
		return err
	}
	if err := m.rng.Place(g, 70, maxY-11); err != nil {
		return err
	}
	if v, err := g.SetView(viewBits, 28, maxY-8, maxX-1, maxY-6); err != nil {
		if err != gocui.ErrUnknownView {
			return err
		}
		v.Title = "Payload"
	}
	if v, err := g.SetView(viewHelp, 28, maxY-5, maxX-1, maxY-1); err != nil {
		if err != gocui.ErrUnknownView {
			return err
		}
		v.Title = "Keys"
		v.Wrap = true
		fmt.Fprintln(v, "q quit | Space stop log | Ctrl-F id filter | t TX/RX | r refresh | c clear | s send")
		fmt.Fprintln(v, "o connect | x disconnect | l dlc | e data | g auto ID range | a auto ID | +/- speed")
		fmt.Fprintln(v, "</> select byte | 0-7 toggle bit | Enter apply | Esc back")
	}
	if v, err := g.SetView(viewFrames, 28, 0, maxX-1, maxY-12); err != nil {
		if err != gocui.ErrUnknownView {
			return err
		}
		v.SelFgColor = gocui.ColorCyan
		v.Autoscroll = true
		v.Title = frameHeader
		m.redraw(v)
		if _, err := g.SetCurrentView(viewFrames); err != nil {
			return err
		}
	}
	return nil
}

func (m *monitor) redraw(v *gocui.View) {
	v.Clear()
	v.SetOrigin(0, 0)
	for _, f := range m.b.Log().View() {
		fmt.Fprintln(v, frameRow(f))
	}
}

// frames keeps the frame view in sync with the log.
func (m *monitor) frames() error {
	sub := m.b.Log().Subscribe(m.ctx, 1024)
	defer sub.Close()
	for {
		select {
		case <-m.ctx.Done():
			return nil
		case u, ok := <-sub.Chan():
			if !ok {
				// dropped for falling behind, start over from the log
				sub = m.b.Log().Subscribe(m.ctx, 1024)
				u = mcpcan.LogUpdate{Reset: true}
			}
			m.g.Update(func(g *gocui.Gui) error {
				v, err := g.View(viewFrames)
				if err != nil {
					return err
				}
				if u.Reset {
					m.redraw(v)
					return nil
				}
				fmt.Fprintln(v, frameRow(u.Frame))
				return nil
			})
		}
	}
}

func (m *monitor) events() error {
	for {
		select {
		case <-m.ctx.Done():
			return nil
		case e := <-m.b.Events():
			m.g.Update(func(g *gocui.Gui) error {
				v, err := g.View(viewEvents)
				if err != nil {
					return err
				}
				line := time.Now().Format("15:04:05") + " " + e.Details
				if e.Type == mcpcan.EventTypeError {
					line = color.RedString(line)
				}
				fmt.Fprintln(v, line)
				return nil
			})
		}
	}
}

func (m *monitor) info() error {
	t := time.NewTicker(250 * time.Millisecond)
	defer t.Stop()
	for {
		select {
		case <-m.ctx.Done():
			return nil
		case <-t.C:
			m.g.Update(m.updateInfo)
		}
	}
}

func (m *monitor) updateInfo(g *gocui.Gui) error {
	v, err := g.View(viewInfo)
	if err != nil {
		return err
	}
	v.Clear()
	log := m.b.Log()
	st := m.b.Stats()
	p := m.b.Payload()
	crit := log.Filter()
	id := crit.ID
	if id == "" {
		id = "*"
	}
	fmt.Fprintf(v, "port: %s\n", m.b.PortName())
	fmt.Fprintf(v, "state: %s\n", m.b.State())
	fmt.Fprintf(v, "speed: %s\n", p.Speed)
	fmt.Fprintf(v, "payload: %d %v\n", p.DLC, p.Data[:p.DLC])
	fmt.Fprintf(v, "filter: %s %s\n", id, crit.Direction)
	fmt.Fprintf(v, "stop log: %t\n", log.Suspended())
	fmt.Fprintf(v, "auto id: %s %d-%d\n", m.b.SweepState(), m.sweep.Start, m.sweep.End)
	fmt.Fprintf(v, "frames: %d shown: %d\n", log.Len(), len(log.View()))
	fmt.Fprintf(v, "sent: %d recv: %d\n", st.Sent, st.Received)
	fmt.Fprintf(v, "dropped: %d errors: %d\n", st.Dropped, st.Errors)

	bv, err := g.View(viewBits)
	if err != nil {
		return err
	}
	bv.Clear()
	fmt.Fprintf(bv, "%s | dlc %d | %s | D%d = %3d = %s (bit 7..0)",
		p.Speed, p.DLC, formatData(p.Data), m.sel, p.Data[m.sel], bits(p.Data[m.sel]))
	return nil
}

// edit focuses an input view and fills it with text.
func (m *monitor) edit(name string, text func() string) func(*gocui.Gui, *gocui.View) error {
	return func(g *gocui.Gui, _ *gocui.View) error {
		v, err := g.SetCurrentView(name)
		if err != nil {
			return err
		}
		ui.Set(v, text())
		return nil
	}
}

// applyPayload takes the edited input, dlc or data, into the default payload.
func (m *monitor) applyPayload(g *gocui.Gui, v *gocui.View) error {
	cur := m.b.Payload()
	dlcText, dataText := fmt.Sprint(cur.DLC), formatData(cur.Data)
	if v.Name() == viewDLC {
		dlcText = ui.Value(v)
	} else {
		dataText = ui.Value(v)
	}
	p, err := parsePayload(cur.Speed, dlcText, dataText)
	if err == nil {
		err = m.b.SetPayload(p)
	}
	if err != nil {
		m.status(g, color.RedString(err.Error()))
	}
	return m.toFrames(g, v)
}

// applyRange sets the auto-ID range, restarting a running sweep with it.
func (m *monitor) applyRange(g *gocui.Gui, v *gocui.View) error {
	cfg, err := parseSweepRange(ui.Value(v))
	if err != nil {
		m.status(g, color.RedString(err.Error()))
		return m.toFrames(g, v)
	}
	m.sweep = cfg
	if m.b.SweepState() == mcpcan.SweepRunning {
		if err := m.b.StartSweep(m.ctx, cfg); err != nil {
			m.status(g, color.RedString(err.Error()))
		}
	}
	return m.toFrames(g, v)
}

func (m *monitor) stepSpeed(step int) func(*gocui.Gui, *gocui.View) error {
	return func(g *gocui.Gui, _ *gocui.View) error {
		p := m.b.Payload()
		p.Speed = nextSpeed(p.Speed, step)
		if err := m.b.SetPayload(p); err != nil {
			m.status(g, color.RedString(err.Error()))
		}
		return nil
	}
}

func (m *monitor) selectByte(step int) func(*gocui.Gui, *gocui.View) error {
	return func(*gocui.Gui, *gocui.View) error {
		m.sel = ((m.sel+step)%mcpcan.MaxDLC + mcpcan.MaxDLC) % mcpcan.MaxDLC
		return nil
	}
}

func (m *monitor) flipBit(bit int) func(*gocui.Gui, *gocui.View) error {
	return func(g *gocui.Gui, _ *gocui.View) error {
		if err := m.b.SetPayload(toggleBit(m.b.Payload(), m.sel, bit)); err != nil {
			m.status(g, color.RedString(err.Error()))
		}
		return nil
	}
}

func (m *monitor) connect(g *gocui.Gui, _ *gocui.View) error {
	if err := m.b.Connect(m.port); err != nil {
		m.status(g, color.RedString(err.Error()))
	}
	return nil
}

func (m *monitor) disconnect(g *gocui.Gui, _ *gocui.View) error {
	if err := m.b.Disconnect(); err != nil {
		m.status(g, color.RedString(err.Error()))
	}
	return nil
}

func (m *monitor) toFrames(g *gocui.Gui, _ *gocui.View) error {
	_, err := g.SetCurrentView(viewFrames)
	return err
}

func (m *monitor) focus(name string) func(*gocui.Gui, *gocui.View) error {
	return func(g *gocui.Gui, _ *gocui.View) error {
		_, err := g.SetCurrentView(name)
		return err
	}
}

func (m *monitor) setFilter(g *gocui.Gui, v *gocui.View) error {
	crit := m.b.Log().Filter()
	crit.ID = ui.Value(v)
	m.b.Log().SetFilter(crit)
	return m.toFrames(g, v)
}

func (m *monitor) cycleDirection(g *gocui.Gui, v *gocui.View) error {
	crit := m.b.Log().Filter()
	switch crit.Direction {
	case mcpcan.FilterAll:
		crit.Direction = mcpcan.FilterTX
	case mcpcan.FilterTX:
		crit.Direction = mcpcan.FilterRX
	default:
		crit.Direction = mcpcan.FilterAll
	}
	m.b.Log().SetFilter(crit)
	return nil
}

func (m *monitor) send(g *gocui.Gui, v *gocui.View) error {
	id := ui.Value(v)
	if id == "" {
		return m.toFrames(g, v)
	}
	if _, err := m.b.SendPayload(id); err != nil {
		m.status(g, color.RedString(err.Error()))
	}
	ui.Reset(v)
	return m.toFrames(g, v)
}

func (m *monitor) toggleSweep(g *gocui.Gui, v *gocui.View) error {
	if m.b.SweepState() == mcpcan.SweepRunning {
		m.b.StopSweep()
		return nil
	}
	if err := m.b.StartSweep(m.ctx, m.sweep); err != nil {
		m.status(g, color.RedString(err.Error()))
	}
	return nil
}

func (m *monitor) status(g *gocui.Gui, msg string) {
	if v, err := g.View(viewEvents); err == nil {
		fmt.Fprintln(v, time.Now().Format("15:04:05")+" "+msg)
	}
}

func quit(*gocui.Gui, *gocui.View) error {
	return gocui.ErrQuit
}

func (m *monitor) keybindings() error {
	type binding struct {
		view    string
		key     interface{}
		handler func(*gocui.Gui, *gocui.View) error
	}
	bindings := []binding{
		{"", gocui.KeyCtrlC, quit},
		{viewFrames, 'q', quit},
		{viewFrames, gocui.KeyCtrlF, m.focus(viewFilter)},
		{viewFrames, 's', m.focus(viewSendID)},
		{viewFrames, 't', m.cycleDirection},
		{viewFrames, 'a', m.toggleSweep},
		{viewFrames, gocui.KeySpace, func(*gocui.Gui, *gocui.View) error {
			log := m.b.Log()
			log.Suspend(!log.Suspended())
			return nil
		}},
		{viewFrames, 'r', func(*gocui.Gui, *gocui.View) error {
			m.b.Log().Refresh()
			return nil
		}},
		{viewFrames, 'c', func(*gocui.Gui, *gocui.View) error {
			m.b.Log().Clear()
			return nil
		}},
		{viewFrames, gocui.KeyArrowUp, func(_ *gocui.Gui, v *gocui.View) error {
			v.Autoscroll = false
			scroll(v, -1)
			return nil
		}},
		{viewFrames, gocui.KeyArrowDown, func(_ *gocui.Gui, v *gocui.View) error {
			scroll(v, 1)
			return nil
		}},
		{viewFrames, gocui.KeyPgup, func(_ *gocui.Gui, v *gocui.View) error {
			v.Autoscroll = false
			scroll(v, -10)
			return nil
		}},
		{viewFrames, gocui.KeyPgdn, func(_ *gocui.Gui, v *gocui.View) error {
			scroll(v, 10)
			return nil
		}},
		{viewFrames, gocui.KeyEnd, func(_ *gocui.Gui, v *gocui.View) error {
			v.Autoscroll = true
			return nil
		}},
		{viewFrames, 'o', m.connect},
		{viewFrames, 'x', m.disconnect},
		{viewFrames, 'l', m.edit(viewDLC, func() string { return fmt.Sprint(m.b.Payload().DLC) })},
		{viewFrames, 'e', m.edit(viewData, func() string { return formatData(m.b.Payload().Data) })},
		{viewFrames, 'g', m.edit(viewRange, func() string { return formatSweepRange(m.sweep) })},
		{viewFrames, '+', m.stepSpeed(1)},
		{viewFrames, '-', m.stepSpeed(-1)},
		{viewFrames, '<', m.selectByte(-1)},
		{viewFrames, '>', m.selectByte(1)},
		{viewFilter, gocui.KeyEnter, m.setFilter},
		{viewFilter, gocui.KeyEsc, m.toFrames},
		{viewSendID, gocui.KeyEnter, m.send},
		{viewSendID, gocui.KeyEsc, m.toFrames},
		{viewDLC, gocui.KeyEnter, m.applyPayload},
		{viewDLC, gocui.KeyEsc, m.toFrames},
		{viewData, gocui.KeyEnter, m.applyPayload},
		{viewData, gocui.KeyEsc, m.toFrames},
		{viewRange, gocui.KeyEnter, m.applyRange},
		{viewRange, gocui.KeyEsc, m.toFrames},
	}
	for bit := 0; bit < 8; bit++ {
		bindings = append(bindings, binding{viewFrames, rune('0' + bit), m.flipBit(bit)})
	}
	for _, b := range bindings {
		if err := m.g.SetKeybinding(b.view, b.key, gocui.ModNone, b.handler); err != nil {
			return fmt.Errorf("keybinding %s: %w", strings.TrimSpace(b.view+" "+fmt.Sprint(b.key)), err)
		}
	}
	return nil
}

func scroll(v *gocui.View, dy int) {
	ox, oy := v.Origin()
	oy += dy
	if oy < 0 {
		oy = 0
	}
	if last := len(v.BufferLines()) - 1; oy > last && last >= 0 {
		oy = last
	}
	v.SetOrigin(ox, oy)
}
