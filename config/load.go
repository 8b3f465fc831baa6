package config

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/fumin/sac/ac"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
)

// MaxIncludeDepth bounds how deeply table includes may nest.
const MaxIncludeDepth = 8

type key int

const (
	keyTarget key = iota
	keyNum
	keyLen
	keyTotal
	keyBlock
	keyWindow
	keyStart
	keyProb
	keyTable
	keyTableMethod
)

var keys = map[string]key{
	"target":       keyTarget,
	"num":          keyNum,
	"len":          keyLen,
	"total":        keyTotal,
	"block":        keyBlock,
	"window":       keyWindow,
	"start":        keyStart,
	"prob":         keyProb,
	"table":        keyTable,
	"table_method": keyTableMethod,
}

// A directive is one parsed line of a configuration file.
type directive struct {
	file  string
	line  int
	words []string
}

func (d directive) key() string { return d.words[0] }

func (d directive) errorf(err error, format string, args ...interface{}) error {
	if format == "" {
		return &Error{File: d.file, Line: d.line, Key: d.key(), Err: errors.WithStack(err)}
	}
	return &Error{File: d.file, Line: d.line, Key: d.key(), Err: errors.Wrapf(err, format, args...)}
}

func (d directive) integer(i int) (int64, error) {
	v, err := strconv.ParseInt(d.words[i], 10, 64)
	if err != nil {
		return 0, d.errorf(ErrSyntax, "%v", err)
	}
	return v, nil
}

func (d directive) nonNegative() (int, error) {
	v, err := d.integer(1)
	if err != nil {
		return 0, err
	}
	if v < 0 {
		return 0, d.errorf(ErrSyntax, "negative value %d", v)
	}
	return int(v), nil
}

func (d directive) prob() (byte, float64, error) {
	if len(d.words) != 3 {
		return 0, 0, d.errorf(ErrSyntax, "want prob <symbol> <probability>")
	}
	sym, err := d.integer(1)
	if err != nil {
		return 0, 0, err
	}
	if sym < 0 || sym > 255 {
		return 0, 0, d.errorf(ErrSyntax, "symbol %d is not a byte", sym)
	}
	p, err := strconv.ParseFloat(d.words[2], 64)
	if err != nil {
		return 0, 0, d.errorf(ErrSyntax, "%v", err)
	}
	return byte(sym), p, nil
}

// path resolves the i-th word relative to the directory of the file the directive came from.
func (d directive) path(i int) string {
	p := d.words[i]
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(filepath.Dir(d.file), p)
}

func isDelim(r rune) bool {
	return r == ' ' || r == ':' || r == '=' || r == '\t'
}

func scan(r io.Reader, name string) ([]directive, error) {
	var ds []directive
	sc := bufio.NewScanner(r)
	for line := 1; sc.Scan(); line++ {
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		words := strings.FieldsFunc(text, isDelim)
		if len(words) != 2 && len(words) != 3 {
			return nil, &Error{File: name, Line: line, Err: errors.Wrapf(ErrSyntax, "%q", text)}
		}
		ds = append(ds, directive{file: name, line: line, words: words})
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, name)
	}
	return ds, nil
}

// A Loader reads configuration files.
// Files reached through "table_method read" are cached by absolute path,
// so that stages sharing one table parse it once.
type Loader struct {
	cache *lru.Cache[string, []directive]
}

// NewLoader returns a Loader caching up to size included files.
func NewLoader(size int) (*Loader, error) {
	cache, err := lru.New[string, []directive](size)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	return &Loader{cache: cache}, nil
}

// Load reads the configuration at path.
func Load(path string) (*Config, error) {
	l, err := NewLoader(16)
	if err != nil {
		return nil, err
	}
	return l.Load(path)
}

// Load reads the configuration at path.
func (l *Loader) Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	defer f.Close()
	return l.Parse(f, path)
}

// Parse reads a configuration from r.
// Name is used in error messages and to resolve relative paths.
func (l *Loader) Parse(r io.Reader, name string) (*Config, error) {
	ds, err := scan(r, name)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(name)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	st := &loadState{loader: l, cfg: &Config{}}
	if err := st.apply(ds, []string{abs}); err != nil {
		return nil, err
	}
	if st.cfg.TextLen > 0 && !st.trained && len(st.cfg.Table) > 0 {
		if err := st.cfg.Table.Normalize(st.cfg.TextLen); err != nil {
			return nil, &Error{File: name, Key: "len", Err: err}
		}
	}
	return st.cfg, nil
}

type loadState struct {
	loader  *Loader
	cfg     *Config
	trained bool
}

func (st *loadState) apply(ds []directive, chain []string) error {
	for _, d := range ds {
		k, ok := keys[d.key()]
		if !ok {
			return d.errorf(ErrUnknownKey, "%q", d.key())
		}
		if err := st.directive(k, d, chain); err != nil {
			return err
		}
	}
	return nil
}

func (st *loadState) directive(k key, d directive, chain []string) error {
	cfg := st.cfg
	var err error
	switch k {
	case keyTarget:
		if cfg.Target, err = ParseTarget(d.words[1]); err != nil {
			return d.errorf(err, "")
		}
	case keyNum:
		cfg.NumSeq, err = d.nonNegative()
	case keyLen:
		var n int
		n, err = d.nonNegative()
		cfg.TextLen = int64(n)
	case keyTotal:
		var n int
		n, err = d.nonNegative()
		cfg.Total = int64(n)
	case keyBlock:
		cfg.BlockSize, err = d.nonNegative()
	case keyWindow:
		cfg.Window, err = d.nonNegative()
	case keyStart:
		cfg.Start, err = d.nonNegative()
	case keyProb:
		var sym byte
		var p float64
		if sym, p, err = d.prob(); err == nil {
			if cfg.Table == nil {
				cfg.Table = make(ac.ProbabilityTable)
			}
			cfg.Table[sym] = p
		}
	case keyTable:
		cfg.TablePath = d.path(1)
	case keyTableMethod:
		err = st.tableMethod(d, chain)
	}
	return err
}

func (st *loadState) tableMethod(d directive, chain []string) error {
	if st.cfg.TablePath == "" {
		return d.errorf(ErrMissing, "table must precede table_method")
	}
	switch d.words[1] {
	case "read":
		return st.include(d, st.cfg.TablePath, chain)
	case "write":
		if len(d.words) != 3 {
			return d.errorf(ErrSyntax, "need a reference file to count probabilities")
		}
		return st.train(d, d.path(2))
	}
	return d.errorf(ErrUnknownMethod, "%q, want read|write", d.words[1])
}

// include applies the directives of path.
// Chain holds the absolute paths of the files currently being applied, outermost first.
func (st *loadState) include(d directive, path string, chain []string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return d.errorf(ErrInclude, "%v", err)
	}
	for _, c := range chain {
		if c == abs {
			return d.errorf(ErrInclude, "cycle through %s", path)
		}
	}
	if len(chain) >= MaxIncludeDepth {
		return d.errorf(ErrInclude, "includes nested deeper than %d", MaxIncludeDepth)
	}

	ds, ok := st.loader.cache.Get(abs)
	if !ok {
		f, err := Open(path)
		if err != nil {
			return d.errorf(ErrInclude, "%v", err)
		}
		ds, err = scan(f, path)
		f.Close()
		if err != nil {
			return err
		}
		if !writesTable(ds) {
			st.loader.cache.Add(abs, ds)
		}
	}
	return st.apply(ds, append(chain, abs))
}

// train counts the probabilities of reference and persists them to the table path.
func (st *loadState) train(d directive, reference string) error {
	f, err := Open(reference)
	if err != nil {
		return d.errorf(ErrInclude, "%v", err)
	}
	defer f.Close()
	pt, n, err := ac.TrainReader(f)
	if err != nil {
		return d.errorf(err, "%s", reference)
	}
	if err := SaveTable(st.cfg.TablePath, pt); err != nil {
		return d.errorf(err, "")
	}
	if abs, err := filepath.Abs(st.cfg.TablePath); err == nil {
		st.loader.cache.Remove(abs)
	}
	st.cfg.Table = pt
	st.cfg.TextLen = n
	st.trained = true
	return nil
}

func writesTable(ds []directive) bool {
	for _, d := range ds {
		if d.key() == "table_method" && d.words[1] == "write" {
			return true
		}
	}
	return false
}
