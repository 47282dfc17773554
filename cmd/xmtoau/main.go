// xmtoau renders an XM or libxm module to a Sun AU file (16-bit,
// stereo). AU was picked over WAV because the header is six fixed
// words, which keeps the embedded use case trivial.

package main

import (
	"flag"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/hwholmes/xmplayer"
	"github.com/hwholmes/xmplayer/au"
)

var (
	flagHz    = flag.Int("hz", 44100, "output sample rate")
	flagOut   = flag.String("o", "", "output file, <input>.au when empty")
	flagLerp  = flag.Bool("lerp", true, "linear interpolation of sample data")
	flagLoops = flag.Int("loops", 1, "number of times to play the song")
)

func main() {
	log.SetFlags(0)
	log.SetPrefix("xmtoau: ")
	flag.Parse()

	if len(flag.Args()) == 0 {
		log.Fatal("Missing song filename")
	}

	songFName := flag.Arg(0)
	songF, err := os.ReadFile(songFName)
	if err != nil {
		log.Fatal(err)
	}

	var song *xmplayer.Song
	switch strings.ToLower(filepath.Ext(songFName)) {
	case ".libxm":
		song, err = xmplayer.NewLibXMSongFromBytes(songF)
	default:
		song, err = xmplayer.NewXMSongFromBytes(songF)
	}
	if err != nil {
		log.Fatal(err)
	}

	player, err := xmplayer.NewPlayer(song, uint(*flagHz))
	if err != nil {
		log.Fatal(err)
	}
	player.LinearInterpolation = *flagLerp
	player.SetMaxLoopCount(*flagLoops)

	outName := *flagOut
	if outName == "" {
		outName = strings.TrimSuffix(songFName, filepath.Ext(songFName)) + ".au"
	}
	auF, err := os.Create(outName)
	if err != nil {
		log.Fatal(err)
	}
	defer auF.Close()

	auW, err := au.NewWriter(auF, *flagHz)
	if err != nil {
		log.Fatal(err)
	}

	audioOut := make([]int16, 2048)
	for player.IsPlaying() {
		generated := player.GenerateAudio(audioOut)
		if generated == 0 {
			break
		}
		if err = auW.WriteFrames(audioOut[:generated*2]); err != nil {
			log.Fatal(err)
		}
	}

	if _, err := auW.Finish(); err != nil {
		log.Fatal(err)
	}
}
