// chronsynth builds synthetic datasets of records written by a pipeline
// of concurrent workers and optionally verifies them.
//
//	chronsynth [flags] <outdir>
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/kjk/chronsynth/dataset"
	"github.com/kjk/chronsynth/log"
)

type config struct {
	outDir   string
	specs    []dataset.Spec
	opts     dataset.Options
	verify   bool
	list     bool
	logDir   string
	verbose  bool
	datasets string
}

func parseArgs(args []string, stderr io.Writer) (*config, error) {
	var c config
	fs := flag.NewFlagSet("chronsynth", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&c.datasets, "datasets", "", "comma separated name:workers:messages, default: Chron{1,2,3}.Small (10 messages) and Chron{1,2,3}.Large (100000 messages)")
	fs.StringVar(&c.opts.Backend, "backend", dataset.BackendFile, "store backend: file or pebble")
	fs.StringVar(&c.opts.Compression, "compress", "none", "record compression for file backend: none, zstd or br")
	fs.BoolVar(&c.verify, "verify", false, "replay and check every dataset after building it")
	fs.BoolVar(&c.list, "list", false, "print the build journal of <outdir> and exit")
	fs.StringVar(&c.logDir, "logdir", "", "if set, write log files to this directory")
	fs.BoolVar(&c.verbose, "verbose", false, "verbose logging")
	fs.Usage = func() {
		fmt.Fprintf(stderr, "usage: chronsynth [flags] <outdir>\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return nil, errors.New("expected exactly one <outdir> argument")
	}
	c.outDir = fs.Arg(0)

	c.specs = dataset.DefaultSpecs()
	if c.datasets != "" {
		var err error
		if c.specs, err = dataset.ParseSpecs(c.datasets); err != nil {
			return nil, err
		}
	}
	return &c, nil
}

func listJournal(outDir string, w io.Writer) error {
	recs, err := dataset.ReadJournal(outDir)
	if err != nil {
		return err
	}
	for _, rec := range recs {
		var parts []string
		for _, e := range rec.Entries {
			if e.Value == "" {
				continue
			}
			parts = append(parts, e.Key+"="+e.Value)
		}
		fmt.Fprintf(w, "%s %-12s %s\n", rec.Timestamp.UTC().Format("2006-01-02 15:04:05"), rec.Name, strings.Join(parts, " "))
	}
	return nil
}

func run(args []string, stdout io.Writer, stderr io.Writer) int {
	c, err := parseArgs(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(stderr, "%s\n", err)
		return 2
	}

	log.Verbose = c.verbose
	log.Init(&log.Config{Dir: c.logDir, Out: stdout})
	defer log.Close()

	if c.list {
		if err = listJournal(c.outDir, stdout); err != nil {
			log.Errorf("reading journal failed with '%s'", err)
			return 1
		}
		return 0
	}

	if err = os.MkdirAll(c.outDir, 0755); err != nil {
		log.Errorf("creating '%s' failed with '%s'", c.outDir, err)
		return 1
	}
	nFailed := 0
	for _, spec := range c.specs {
		log.Verbosef("building %s\n", spec)
		if _, err = dataset.Build(c.outDir, spec, c.opts); err != nil {
			// Build already logged the error
			nFailed++
			continue
		}
		if !c.verify {
			continue
		}
		rep, err := dataset.Verify(c.outDir, spec.Name)
		if err == nil {
			err = rep.Err()
		}
		if err != nil {
			log.Errorf("verifying '%s' failed with '%s'", spec.Name, err)
			nFailed++
		}
	}
	if nFailed > 0 {
		log.Logf("%d of %d datasets failed\n", nFailed, len(c.specs))
		return 1
	}
	return 0
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}
