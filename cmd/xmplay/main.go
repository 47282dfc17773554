package main

import (
	"flag"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/hwholmes/xmplayer"
	"github.com/hwholmes/xmplayer/internal/comb"
)

var (
	flagHz       = flag.Int("hz", 44100, "output hz")
	flagBoost    = flag.Int("boost", 1, "volume boost, an integer between 1 and 4")
	flagStartOrd = flag.Int("start", 0, "starting order in the song, clamped to song max")
	flagMaxLoops = flag.Int("maxloops", 0, "stop after the song has looped this many times, 0 plays forever")
	flagLerp     = flag.Bool("lerp", true, "linear interpolation of sample data")
	flagReverb   = flag.String("reverb", "light", "choose from light, medium, hall or none")
	flagMute     = flag.Uint("mute", 0, "bitmask of muted channels, channel 1 in LSB, set bit to mute channel")
	flagNoUI     = flag.Bool("noui", false, "turn off all UI, mostly useful in development")
)

// Reverb presets. The feedback gain is in the engine's 1/256 byte
// scale (the same scale pattern panning uses), delays are in
// milliseconds and converted to frames for the output rate.
var reverbPresets = map[string]struct {
	delayMs int
	gain    int
}{
	"light":  {delayMs: 40, gain: 56},   // small room
	"medium": {delayMs: 70, gain: 96},   // living room
	"hall":   {delayMs: 110, gain: 144}, // concert hall
}

func main() {
	log.SetFlags(0)
	log.SetPrefix("xmplay: ")
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
	case ".xm":
		song, err = xmplayer.NewXMSongFromBytes(songF)
	default:
		log.Fatalf("unsupported song %q", songFName)
	}
	if err != nil {
		log.Fatal(err)
	}

	player, err := xmplayer.NewPlayer(song, uint(*flagHz))
	if err != nil {
		log.Fatal(err)
	}
	if err := player.SetVolumeBoost(*flagBoost); err != nil {
		log.Fatal(err)
	}
	player.LinearInterpolation = *flagLerp
	player.SetMaxLoopCount(*flagMaxLoops)
	for i := 0; i < song.Channels && i < 32; i++ {
		if *flagMute&(1<<i) != 0 {
			player.MuteChannel(i, true)
		}
	}
	if *flagStartOrd > 0 {
		player.SeekTo(*flagStartOrd, 0, 0)
	}

	var reverb *comb.Stereo
	if *flagReverb != "none" {
		preset, ok := reverbPresets[*flagReverb]
		if !ok {
			log.Fatalf("unrecognized reverb setting %q", *flagReverb)
		}
		delay := preset.delayMs * *flagHz / 1000
		// An eighth of the delay as stereo skew reads as width
		// without an audible double hit
		reverb = comb.NewStereo(delay, delay/8, preset.gain)
	}

	play(player, reverb)
}
