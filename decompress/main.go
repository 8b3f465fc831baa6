package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"

	"github.com/fumin/sac"
)

var verbose = flag.Bool("verbose", false, "verbosity")

func main() {
	flag.Parse()
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	var opts sac.Options
	if *verbose {
		opts.Logf = log.Printf
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := sac.Decompress(ctx, os.Stdout, os.Stdin, opts); err != nil {
		log.Fatalf("%+v", err)
	}
}
