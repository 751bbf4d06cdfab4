package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"

	"github.com/GriffinCanCode/good-listener/backend/vadstream/internal/vad"
)

// eventPrinter writes one line per event.
type eventPrinter struct {
	w         io.Writer
	threshold float64
	frames    bool
	color     bool
	tracker   *vad.SegmentTracker
}

func newEventPrinter(w io.Writer, cfg vad.Config, frames bool) *eventPrinter {
	return &eventPrinter{
		w:         w,
		threshold: cfg.Threshold,
		frames:    frames,
		color:     isTerminal(w),
		tracker:   vad.NewSegmentTracker(cfg),
	}
}

func (p *eventPrinter) HandleEvent(_ context.Context, ev vad.Event) {
	switch ev.Type {
	case vad.EventFrame:
		if !p.frames {
			return
		}
		state := "silence"
		if float64(ev.Prob) > p.threshold {
			state = "SPEECH"
		}
		fmt.Fprintf(p.w, "[%8.3fs] %-7s  p=%.3f\n", ev.TimeS, state, ev.Prob)
	case vad.EventSpeechStart:
		p.tracker.Observe(ev)
		line := fmt.Sprintf("> speech_start @ %.3fs (p=%.3f)", ev.TimeS, ev.Prob)
		fmt.Fprintln(p.w, p.paint(line, text.FgGreen))
	case vad.EventSpeechEnd:
		seg, _ := p.tracker.Observe(ev)
		line := fmt.Sprintf("< speech_end   @ %.3fs -> [%.3f, %.3f] (dur=%.3fs)",
			seg.EndS, seg.StartS, seg.EndS, seg.Duration())
		fmt.Fprintln(p.w, p.paint(line, text.FgYellow))
	}
}

func (p *eventPrinter) paint(s string, c text.Color) string {
	if !p.color {
		return s
	}
	return c.Sprint(s)
}

// renderSegments renders the detected segments as a table.
func renderSegments(segs []vad.Segment, decorated bool) string {
	tw := table.NewWriter()
	if decorated {
		tw.SetStyle(table.StyleRounded)
	}
	tw.AppendHeader(table.Row{"#", "Start (s)", "End (s)", "Duration (s)"})
	for i, s := range segs {
		tw.AppendRow(table.Row{
			fmt.Sprintf("%02d", i+1),
			strconv.FormatFloat(s.StartS, 'f', 3, 64),
			strconv.FormatFloat(s.EndS, 'f', 3, 64),
			strconv.FormatFloat(s.Duration(), 'f', 3, 64),
		})
	}
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, Align: text.AlignRight, AlignHeader: text.AlignLeft},
		{Number: 3, Align: text.AlignRight, AlignHeader: text.AlignLeft},
		{Number: 4, Align: text.AlignRight, AlignHeader: text.AlignLeft},
	})
	return tw.Render()
}

func isTerminal(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
