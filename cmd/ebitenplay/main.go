// This simple tool plays the specified XM track through the Ebitengine
// audio player, using the library's Stream as an io.Reader PCM source.

package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/audio"
	"github.com/hajimehoshi/ebiten/v2/ebitenutil"
	"github.com/hajimehoshi/ebiten/v2/inpututil"
	"github.com/hwholmes/xmplayer"
)

const sampleRate = 44100

func main() {
	flag.Usage = func() {
		fmt.Printf("usage: go run ./cmd/ebitenplay path/to/music.xm\n")
		flag.PrintDefaults()
	}
	flag.Parse()
	if len(flag.Args()) < 1 {
		panic("expected at least 1 command-line argument")
	}
	filename := flag.Args()[0]

	data, err := os.ReadFile(filename)
	if err != nil {
		panic(fmt.Errorf("read XM file: %v", err))
	}

	var song *xmplayer.Song
	if strings.ToLower(filepath.Ext(filename)) == ".libxm" {
		song, err = xmplayer.NewLibXMSongFromBytes(data)
	} else {
		song, err = xmplayer.NewXMSongFromBytes(data)
	}
	if err != nil {
		panic(fmt.Errorf("loading song: %v", err))
	}

	xmPlayer, err := xmplayer.NewPlayer(song, sampleRate)
	if err != nil {
		panic(err)
	}
	xmPlayer.LinearInterpolation = true

	// Create a sound player using the Ebitengine audio context.
	// You can have multiple players, but only one audio context.
	audioContext := audio.NewContext(sampleRate)
	player, err := audioContext.NewPlayer(xmplayer.NewStream(xmPlayer))
	if err != nil {
		panic(err)
	}

	g := &game{
		player:   player,
		filename: filename,
		paused:   true,
	}

	if err := ebiten.RunGame(g); err != nil {
		panic(err)
	}
}

type game struct {
	player *audio.Player

	filename string
	paused   bool
}

func (g *game) Update() error {
	if inpututil.IsKeyJustPressed(ebiten.KeySpace) {
		g.paused = !g.paused
		if g.player.IsPlaying() {
			g.player.Pause()
		} else {
			g.player.Play()
		}
	}

	return nil
}

func (g *game) Draw(screen *ebiten.Image) {
	if g.paused {
		ebitenutil.DebugPrint(screen, "Paused... press SPACE")
	} else {
		ebitenutil.DebugPrint(screen, fmt.Sprintf("Playing %s...", g.filename))
	}
}

func (g *game) Layout(_, _ int) (int, int) {
	return 640, 480
}
