// xmize converts an XM module into the compact libxm form that
// NewLibXMSongFromBytes can load without any parsing work. The output
// goes to stdout or to -o.

package main

import (
	"flag"
	"log"
	"os"

	"github.com/hwholmes/xmplayer"
)

var (
	flagOut       = flag.String("o", "", "output file, stdout when empty")
	flagDelta     = flag.Bool("delta", false, "delta code the waveform data (compresses better)")
	flagZeroWaves = flag.Bool("zero-all-waveforms", false, "emit zeroed waveform data, for embedded templates")
)

func main() {
	log.SetFlags(0)
	log.SetPrefix("xmize: ")
	flag.Parse()

	if len(flag.Args()) == 0 {
		log.Fatal("Missing XM filename")
	}

	xmF, err := os.ReadFile(flag.Arg(0))
	if err != nil {
		log.Fatal(err)
	}

	song, err := xmplayer.NewXMSongFromBytes(xmF)
	if err != nil {
		log.Fatal(err)
	}

	out := os.Stdout
	if *flagOut != "" {
		out, err = os.Create(*flagOut)
		if err != nil {
			log.Fatal(err)
		}
		defer out.Close()
	}

	opts := xmplayer.LibXMOptions{
		DeltaWaveforms:   *flagDelta,
		ZeroAllWaveforms: *flagZeroWaves,
	}
	if err := song.DumpLibXM(out, opts); err != nil {
		log.Fatal(err)
	}
}
