package config

import (
	"bufio"
	"io"
	"strconv"

	"github.com/fumin/sac/ac"
	"github.com/pkg/errors"
)

// WriteTable persists pt as "prob <symbol> <probability>" lines in ascending symbol order.
// Probabilities are written with the fewest digits that read back to the same float64.
func WriteTable(w io.Writer, pt ac.ProbabilityTable) error {
	bw := bufio.NewWriter(w)
	for _, s := range pt.Symbols() {
		line := "prob " + strconv.Itoa(int(s)) + " " + strconv.FormatFloat(pt[s], 'g', -1, 64) + "\n"
		if _, err := bw.WriteString(line); err != nil {
			return errors.Wrap(err, "")
		}
	}
	return errors.Wrap(bw.Flush(), "")
}

// SaveTable writes pt to path, zstd compressed if path ends in ".zst".
func SaveTable(path string, pt ac.ProbabilityTable) error {
	w, err := Create(path)
	if err != nil {
		return errors.Wrap(err, "")
	}
	if err := WriteTable(w, pt); err != nil {
		w.Close()
		return errors.Wrap(err, path)
	}
	return errors.Wrap(w.Close(), path)
}

// ReadTable reads a table persisted by WriteTable.
// Only "prob" directives are accepted.
func ReadTable(r io.Reader, name string) (ac.ProbabilityTable, error) {
	directives, err := scan(r, name)
	if err != nil {
		return nil, err
	}
	pt := make(ac.ProbabilityTable, len(directives))
	for _, d := range directives {
		if d.key() != "prob" {
			return nil, d.errorf(ErrUnknownKey, "only prob expected in a table")
		}
		sym, p, err := d.prob()
		if err != nil {
			return nil, err
		}
		pt[sym] = p
	}
	return pt, nil
}

// LoadTable reads the table persisted at path.
func LoadTable(path string) (ac.ProbabilityTable, error) {
	f, err := Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	defer f.Close()
	return ReadTable(f, path)
}
