package main

import (
	"log"
	"os"

	"github.com/hwholmes/xmplayer"
)

func main() {
	log.SetFlags(0)
	log.SetPrefix("xmdump: ")

	if len(os.Args) <= 1 {
		log.Fatal("Missing song filename")
	}

	songF, err := os.ReadFile(os.Args[1])
	if err != nil {
		log.Fatal(err)
	}

	xmplayer.SetDumpWriter(os.Stdout)

	if _, err = xmplayer.NewXMSongFromBytes(songF); err != nil {
		log.Fatal(err)
	}
}
