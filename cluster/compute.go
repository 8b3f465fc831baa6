// Compute prints the normalized compression distances between the files of a directory.
// The distance of x and y is (K(xy) - min(K(x), K(y))) / max(K(x), K(y)), where K is the compressed size.
package main

import (
	"bytes"
	"context"
	"flag"
	"io"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"github.com/fumin/sac"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

var (
	compressor = flag.String("i", "sac", "compressor, sac or targz")
	numSeq     = flag.Int("num", sac.DefaultNumSeq, "number of symbols per code")
	dataDir    = flag.String("d", "mammals10", "data directory")
)

func main() {
	flag.Parse()
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	if err := run(*compressor, *dataDir); err != nil {
		log.Fatalf("%+v", err)
	}
}

func run(compressor, dir string) error {
	data, err := listFiles(dir)
	if err != nil {
		return errors.Wrap(err, "")
	}
	if len(data) < 2 {
		return errors.Errorf("%s: need at least two files, got %d", dir, len(data))
	}
	tmp, err := os.MkdirTemp("", "cluster")
	if err != nil {
		return errors.Wrap(err, "")
	}
	defer os.RemoveAll(tmp)

	s := &sizer{compressor: compressor, tmp: tmp, sizes: make(map[string]float64)}
	distMat, err := s.distanceMatrix(context.Background(), data)
	if err != nil {
		return errors.Wrap(err, "")
	}
	display(data, distMat)
	return nil
}

func display(data []string, distMat []float64) {
	names := make([]string, 0, len(data))
	for _, fpath := range data {
		name := filepath.Base(fpath)
		names = append(names, strconv.Quote(strings.TrimSuffix(name, filepath.Ext(name))))
	}
	log.Printf("[%s]", strings.Join(names, ","))

	dists := make([]string, 0, len(distMat))
	for _, f := range distMat {
		dists = append(dists, strconv.FormatFloat(f, 'f', -1, 64))
	}
	log.Printf("[%s]", strings.Join(dists, ","))
}

// A sizer computes and remembers compressed sizes.
type sizer struct {
	compressor string
	tmp        string

	mu    sync.Mutex
	sizes map[string]float64
}

func (s *sizer) distanceMatrix(ctx context.Context, data []string) ([]float64, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for _, x := range data {
		x := x
		g.Go(func() error { return s.complexity(gctx, x) })
	}
	if err := g.Wait(); err != nil {
		return nil, errors.Wrap(err, "")
	}

	n := len(data)
	mat := make([]float64, n*(n-1)/2)
	g, gctx = errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	k := 0
	for i, x := range data[:n-1] {
		for _, y := range data[i+1:] {
			x, y, k := x, y, k
			g.Go(func() error {
				dist, err := s.distance(gctx, x, y)
				if err != nil {
					return errors.Wrap(err, "")
				}
				mat[k] = dist
				log.Printf("%q-%q: %f", x, y, dist)
				return nil
			})
			k++
		}
	}
	if err := g.Wait(); err != nil {
		return nil, errors.Wrap(err, "")
	}
	return mat, nil
}

func (s *sizer) distance(ctx context.Context, x, y string) (float64, error) {
	xy := filepath.Join(s.tmp, filepath.Base(x)+"+"+filepath.Base(y))
	if err := concatFiles(xy, x, y); err != nil {
		return -1, errors.Wrap(err, "")
	}
	defer os.Remove(xy)
	kxy, err := s.compress(ctx, xy)
	if err != nil {
		return -1, errors.Wrap(err, "")
	}

	s.mu.Lock()
	kx, ky := s.sizes[x], s.sizes[y]
	s.mu.Unlock()
	minxy, maxxy := kx, ky
	if ky < kx {
		minxy, maxxy = ky, kx
	}
	return (kxy - minxy) / maxxy, nil
}

func (s *sizer) complexity(ctx context.Context, x string) error {
	size, err := s.compress(ctx, x)
	if err != nil {
		return errors.Wrap(err, "")
	}
	s.mu.Lock()
	s.sizes[x] = size
	s.mu.Unlock()
	return nil
}

func (s *sizer) compress(ctx context.Context, fpath string) (float64, error) {
	switch s.compressor {
	case "sac":
		var buf bytes.Buffer
		if err := sac.Compress(ctx, &buf, fpath, sac.Options{NumSeq: *numSeq}); err != nil {
			return -1, errors.Wrap(err, "")
		}
		return float64(buf.Len()), nil
	case "targz":
		return s.sizeTarGz(ctx, fpath)
	default:
		return -1, errors.Errorf("unknown compressor %q", s.compressor)
	}
}

func (s *sizer) sizeTarGz(ctx context.Context, fpath string) (float64, error) {
	dst := filepath.Join(s.tmp, filepath.Base(fpath)+".tar.gz")
	defer os.Remove(dst)
	if err := exec.CommandContext(ctx, "tar", "zcf", dst, fpath).Run(); err != nil {
		return -1, errors.Wrap(err, "")
	}
	info, err := os.Stat(dst)
	if err != nil {
		return -1, errors.Wrap(err, "")
	}
	return float64(info.Size()), nil
}

func concatFiles(dst string, fs ...string) error {
	out, err := os.Create(dst)
	if err != nil {
		return errors.Wrap(err, "")
	}
	for _, fpath := range fs {
		err := func(fpath string) error {
			f, err := os.Open(fpath)
			if err != nil {
				return errors.Wrap(err, "")
			}
			defer f.Close()
			if _, err := io.Copy(out, f); err != nil {
				return errors.Wrap(err, "")
			}
			return nil
		}(fpath)
		if err != nil {
			out.Close()
			return errors.Wrap(err, "")
		}
	}
	return errors.Wrap(out.Close(), "")
}

func listFiles(dir string) ([]string, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	data := make([]string, 0, len(files))
	for _, f := range files {
		if f.IsDir() {
			continue
		}
		data = append(data, filepath.Join(dir, f.Name()))
	}
	return data, nil
}
