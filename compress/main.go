package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"

	"github.com/fumin/sac"
	"github.com/fumin/sac/config"
	"github.com/pkg/errors"
)

var (
	numSeq    = flag.Int("num", sac.DefaultNumSeq, "number of symbols per code")
	blockSize = flag.Int("block", sac.DefaultBlockSize, "size of the blocks read from the input")
	conf      = flag.String("conf", "", "configuration file of an encode stage, overrides -num and -block")
	table     = flag.String("table", "", "probability table to code with, trained on the input if empty")
	verbose   = flag.Bool("verbose", false, "verbosity")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] filename\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	name := flag.Arg(0)
	if name == "" {
		flag.Usage()
		os.Exit(1)
	}

	opts, err := options()
	if err != nil {
		log.Fatalf("%+v", err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := sac.Compress(ctx, os.Stdout, name, opts); err != nil {
		log.Fatalf("%+v", err)
	}
}

func options() (sac.Options, error) {
	opts := sac.Options{NumSeq: *numSeq, BlockSize: *blockSize}
	if *verbose {
		opts.Logf = log.Printf
	}
	if *table != "" {
		pt, err := config.LoadTable(*table)
		if err != nil {
			return opts, errors.Wrap(err, "")
		}
		opts.Table = pt
	}
	if *conf == "" {
		return opts, nil
	}

	cfg, err := config.Load(*conf)
	if err != nil {
		return opts, errors.Wrap(err, "")
	}
	if cfg.Target != config.Encode {
		return opts, errors.Errorf("%s: target %s, want %s", *conf, cfg.Target, config.Encode)
	}
	opts.NumSeq = cfg.NumSeq
	if cfg.BlockSize > 0 {
		opts.BlockSize = cfg.BlockSize
	}
	if len(cfg.Table) > 0 {
		opts.Table = cfg.Table
	}
	return opts, nil
}
