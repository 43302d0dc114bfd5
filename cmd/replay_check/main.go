package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/byebyebruce/rollbackserver/logic/replay"
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s room_N.replay...\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	failed := false
	for _, file := range flag.Args() {
		r, err := replay.Load(file)
		if nil != err {
			fmt.Printf("%s: %v\n", file, err)
			failed = true
			continue
		}
		n, err := replay.Verify(r)
		if nil != err {
			fmt.Printf("%s: room=%d frames=%d checkpoints=%d/%d %v\n", file, r.RoomID, r.FrameCount(), n, len(r.Checkpoints), err)
			failed = true
			continue
		}
		fmt.Printf("%s: room=%d frames=%d checkpoints=%d ok\n", file, r.RoomID, r.FrameCount(), n)
	}
	if failed {
		os.Exit(1)
	}
}
