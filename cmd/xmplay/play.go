package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"atomicgo.dev/keyboard"
	"atomicgo.dev/keyboard/keys"
	"github.com/fatih/color"
	"github.com/gordonklaus/portaudio"
	"github.com/hwholmes/xmplayer"
	"github.com/hwholmes/xmplayer/internal/comb"
)

// The terminal UI is driven by a command channel: the keyboard listener
// and the SIGINT handler both feed it, the main loop consumes it
// between screen refreshes. All player access stays on the main loop.

type uiCommand int

const (
	cmdQuit uiCommand = iota
	cmdPrevChannel
	cmdNextChannel
	cmdToggleMute
	cmdToggleSolo
)

func play(player *xmplayer.Player, reverb *comb.Stereo) {
	if err := portaudio.Initialize(); err != nil {
		log.Fatal(err)
	}
	defer portaudio.Terminate()

	scratch := make([]int16, 10*1024)
	streamCB := func(out []int16) {
		// The player hands back fewer frames once it hits its loop
		// limit; the tail of the device buffer is padded with silence
		// so the last reverb echoes ring out over it.
		n := player.GenerateAudio(scratch[:len(out)])
		copy(out, scratch[:n*2])
		clear(out[n*2:])
		if reverb != nil {
			reverb.Process(out)
		}
	}

	stream, err := portaudio.OpenDefaultStream(0, 2, float64(*flagHz), 512, streamCB)
	if err != nil {
		log.Fatal(err)
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		log.Fatal(err)
	}
	defer stream.Stop()

	commands := make(chan uiCommand, 8)

	go func() {
		keyboard.Listen(func(key keys.Key) (bool, error) {
			switch key.Code {
			case keys.CtrlC, keys.Escape:
				commands <- cmdQuit
			case keys.Left:
				commands <- cmdPrevChannel
			case keys.Right:
				commands <- cmdNextChannel
			case keys.RuneKey:
				switch key.Runes[0] {
				case 'q':
					commands <- cmdToggleMute
				case 's':
					commands <- cmdToggleSolo
				}
			}
			return false, nil
		})
	}()

	sigch := make(chan os.Signal, 1)
	signal.Notify(sigch, syscall.SIGINT)
	go func() {
		<-sigch
		commands <- cmdQuit
	}()

	view := newSongView(player)
	if *flagNoUI {
		view.out = io.Discard
	}
	view.open()
	defer view.close()

	refresh := time.NewTicker(40 * time.Millisecond)
	defer refresh.Stop()

	for player.IsPlaying() {
		select {
		case cmd := <-commands:
			if cmd == cmdQuit {
				return
			}
			view.handle(cmd)
		case <-refresh.C:
			view.draw()
		}
	}
}

// songView renders the player position and a window of pattern rows.
// It repaints in place by cursor-homing over the previous frame, and
// only when the row changes or a key was handled.
type songView struct {
	player *xmplayer.Player
	out    io.Writer

	selected int
	solo     int // -1 when no channel is soloed
	muted    []bool

	lastOrder int
	lastRow   int
	lines     int // height of the previous paint, for cursor-homing
	dirty     bool

	heading *color.Color
	active  *color.Color
	marker  *color.Color
}

func newSongView(player *xmplayer.Player) *songView {
	return &songView{
		player:    player,
		out:       os.Stdout,
		solo:      -1,
		muted:     make([]bool, player.Song.Channels),
		lastOrder: -1,
		lastRow:   -1,
		heading:   color.New(color.FgHiBlue),
		active:    color.New(color.FgGreen),
		marker:    color.New(color.FgYellow),
	}
}

func (v *songView) open()  { fmt.Fprint(v.out, "\x1b[?25l") } // hide cursor
func (v *songView) close() { fmt.Fprint(v.out, "\x1b[?25h") }

func (v *songView) handle(cmd uiCommand) {
	switch cmd {
	case cmdPrevChannel:
		if v.selected > 0 {
			v.selected--
		}
	case cmdNextChannel:
		if v.selected < len(v.muted)-1 {
			v.selected++
		}
	case cmdToggleMute:
		v.muted[v.selected] = !v.muted[v.selected]
		v.player.MuteChannel(v.selected, v.muted[v.selected])
	case cmdToggleSolo:
		if v.solo == v.selected {
			v.solo = -1
		} else {
			v.solo = v.selected
		}
		for i := range v.muted {
			v.muted[i] = v.solo >= 0 && i != v.solo
			v.player.MuteChannel(i, v.muted[i])
		}
	}
	v.dirty = true
}

// rowWindow is how many rows to show either side of the playing one.
const rowWindow = 3

func (v *songView) draw() {
	state := v.player.State()
	if !v.dirty && state.Order == v.lastOrder && state.Row == v.lastRow {
		return
	}
	v.lastOrder = state.Order
	v.lastRow = state.Row
	v.dirty = false

	song := v.player.Song

	var b strings.Builder
	if v.lines > 0 {
		fmt.Fprintf(&b, "\x1b[%dA", v.lines) // cursor back to the top
	}
	lines := 0

	if song.Title != "" {
		b.WriteString(song.Title + "  ")
	}
	b.WriteString(v.heading.Sprintf("ord %02X/%02X  pat %02X  row %02X  spd %d  bpm %d",
		state.Order, song.Length, state.Pattern, state.Row, v.player.Tempo, v.player.BPM))
	b.WriteString("\x1b[K\n")
	lines++

	// Channel strip: selection, mute state and the instrument each
	// channel last triggered
	for i, ch := range state.Channels {
		tag := "  "
		if i == v.selected {
			tag = "> "
		}
		status := byte('-')
		if v.muted[i] {
			status = 'm'
		} else if ch.Instrument >= 0 {
			status = '*'
		}
		entry := fmt.Sprintf("%s%2d%c", tag, i+1, status)
		if ch.Instrument >= 0 && ch.Instrument < len(song.Instruments) {
			entry += " " + song.Instruments[ch.Instrument].Name
		}
		if i == v.selected {
			entry = v.active.Sprint(entry)
		}
		fmt.Fprintf(&b, "%-40s", entry)
		if i%2 == 1 || i == len(state.Channels)-1 {
			b.WriteString("\x1b[K\n")
			lines++
		}
	}

	// Pattern window around the playing row, rendered through the
	// library's own note formatting
	for off := -rowWindow; off <= rowWindow; off++ {
		row := state.Row + off
		nd := v.player.NoteDataFor(state.Order, row)
		if nd == nil {
			b.WriteString("\x1b[K\n")
			lines++
			continue
		}

		line := fmt.Sprintf("%02X ", row)
		cols := make([]string, 0, len(nd))
		for i := range nd {
			cols = append(cols, nd[i].String())
			if i == 7 && len(nd) > 8 {
				cols = append(cols, "...")
				break
			}
		}
		line += strings.Join(cols, " | ")
		if off == 0 {
			line = v.marker.Sprint(line)
		}
		b.WriteString(line + "\x1b[K\n")
		lines++
	}

	v.lines = lines
	fmt.Fprint(v.out, b.String())
}
