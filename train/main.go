// Train writes the probability table of a reference file.
// The table is in the format of the prob directives of package config, and is zstd compressed if the output ends in .zst.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/fumin/sac/ac"
	"github.com/fumin/sac/config"
	"github.com/pkg/errors"
)

var out = flag.String("o", "", "output table, standard output if empty")

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] reference\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	ref := flag.Arg(0)
	if ref == "" {
		flag.Usage()
		os.Exit(1)
	}

	if err := run(ref, *out); err != nil {
		log.Fatalf("%+v", err)
	}
}

func run(ref, out string) error {
	f, err := config.Open(ref)
	if err != nil {
		return errors.Wrap(err, "")
	}
	defer f.Close()
	pt, n, err := ac.TrainReader(f)
	if err != nil {
		return errors.Wrap(err, "")
	}
	log.Printf("%d symbols, %d distinct", n, len(pt))

	if out == "" {
		return config.WriteTable(os.Stdout, pt)
	}
	return config.SaveTable(out, pt)
}
