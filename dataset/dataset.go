// Package dataset builds and verifies datasets. A dataset is a directory
// with a store of records written by a pipeline and manifest.json
// describing it. manifest.json is written last, so a directory without it
// is not a complete dataset.
package dataset

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/kjk/chronsynth/atomicfile"
	"github.com/kjk/chronsynth/journal"
	"github.com/kjk/chronsynth/log"
	"github.com/kjk/chronsynth/pipeline"
	"github.com/kjk/chronsynth/u"
	"github.com/kjk/chronsynth/validate"
	"github.com/tidwall/pretty"
)

const (
	ManifestFileName = "manifest.json"
	// JournalFileName is in the output directory, shared by all datasets
	JournalFileName = "datasets.journal"
)

var ErrNoManifest = errors.New("dataset: missing manifest.json")

type Options struct {
	// BackendFile (default) or BackendPebble
	Backend string
	// "", "none", "zstd" or "br"
	Compression string
}

type Manifest struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Workers     int       `json:"workers"`
	Messages    int       `json:"messages"`
	Backend     string    `json:"backend"`
	Compression string    `json:"compression,omitempty"`
	Bytes       int64     `json:"bytes"`
	Appended    []int     `json:"appended"`
	Created     time.Time `json:"created"`
	ElapsedMs   int64     `json:"elapsed_ms"`
}

func Dir(outDir string, name string) string {
	return filepath.Join(outDir, name)
}

func manifestPath(dir string) string {
	return filepath.Join(dir, ManifestFileName)
}

func appendJournal(outDir string, name string, args ...any) {
	j := journal.Open(filepath.Join(outDir, JournalFileName))
	err := j.Append(name, args...)
	log.IfErrf(err, "appending '%s' to journal failed with '%s'", name, err)
}

// Build writes a dataset to Dir(outDir, spec.Name), replacing existing one
// regardless of its backend.
// On error the dataset directory is removed.
func Build(outDir string, spec Spec, opts Options) (*Manifest, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if opts.Backend == "" {
		opts.Backend = BackendFile
	}
	dir := Dir(outDir, spec.Name)
	// files of the previous build may belong to a different backend
	if u.DirExists(dir) {
		if err := os.RemoveAll(dir); err != nil {
			return nil, err
		}
	}
	m, err := build(dir, spec, opts)
	if err != nil {
		log.Errorf("dataset '%s' failed: %s", spec.Name, err)
		if errRemove := os.RemoveAll(dir); errRemove != nil {
			log.Errorf("os.RemoveAll('%s') failed with '%s'", dir, errRemove)
		}
		appendJournal(outDir, "build-failed", "name", spec.Name, "workers", spec.Workers, "messages", spec.Messages, "error", err.Error())
		return nil, fmt.Errorf("dataset '%s': %w", spec.Name, err)
	}
	appendJournal(outDir, "build",
		"id", m.ID,
		"name", m.Name,
		"workers", m.Workers,
		"messages", m.Messages,
		"backend", m.Backend,
		"compression", m.Compression,
		"bytes", m.Bytes,
		"elapsed_ms", m.ElapsedMs,
	)
	log.EventWithDuration("dataset-build", time.Duration(m.ElapsedMs)*time.Millisecond, "name", m.Name, "workers", m.Workers, "messages", m.Messages, "bytes", m.Bytes)
	log.Logf("built %s: %s records, %d workers, %s in %s\n", m.Name, u.FormatCount(int64(m.Messages)), m.Workers, u.FormatSize(m.Bytes), u.FormatDuration(time.Duration(m.ElapsedMs)*time.Millisecond))
	return m, nil
}

func build(dir string, spec Spec, opts Options) (*Manifest, error) {
	timeStart := time.Now()
	st, err := openStore(dir, opts.Backend, opts.Compression)
	if err != nil {
		return nil, err
	}
	if err = st.Clear(); err != nil {
		st.Close()
		return nil, err
	}
	stats, errRun := pipeline.Run(st.NewWriter, spec.Workers, spec.Messages)
	nRecords := st.RecordCount()
	errClose := st.Close()
	if err = errors.Join(errRun, errClose); err != nil {
		return nil, err
	}
	if nRecords != spec.Messages {
		return nil, fmt.Errorf("store has %d records, expected %d", nRecords, spec.Messages)
	}
	size, err := u.DirSize(dir)
	if err != nil {
		return nil, err
	}
	m := &Manifest{
		ID:          uuid.New().String(),
		Name:        spec.Name,
		Workers:     spec.Workers,
		Messages:    spec.Messages,
		Backend:     opts.Backend,
		Compression: normalizeCompression(opts.Compression),
		Bytes:       size,
		Appended:    stats.Appended,
		Created:     time.Now().UTC(),
		ElapsedMs:   time.Since(timeStart).Milliseconds(),
	}
	if err = writeManifest(dir, m); err != nil {
		return nil, err
	}
	return m, nil
}

func writeManifest(dir string, m *Manifest) error {
	d, err := json.Marshal(m)
	u.PanicIfErr(err, "json.Marshal() of manifest failed with '%s'", err)
	return atomicfile.WriteFile(manifestPath(dir), pretty.Pretty(d))
}

// ReadManifest reads manifest.json of a dataset in dir
func ReadManifest(dir string) (*Manifest, error) {
	path := manifestPath(dir)
	if !u.FileExists(path) {
		return nil, fmt.Errorf("%w in '%s'", ErrNoManifest, dir)
	}
	d, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err = json.Unmarshal(d, &m); err != nil {
		return nil, fmt.Errorf("invalid manifest in '%s': %w", dir, err)
	}
	return &m, nil
}

// Verify replays the dataset name in outDir and checks every record.
// Problems with records are in the report, use Report.Err() to turn them
// into an error. Can be called any number of times.
func Verify(outDir string, name string) (*validate.Report, error) {
	dir := Dir(outDir, name)
	m, err := ReadManifest(dir)
	if err != nil {
		return nil, err
	}
	rep, err := verify(dir, m)
	errCheck := err
	if errCheck == nil {
		errCheck = rep.Err()
	}
	errStr := ""
	if errCheck != nil {
		errStr = errCheck.Error()
	}
	appendJournal(outDir, "verify", "id", m.ID, "name", m.Name, "ok", errCheck == nil, "error", errStr)
	if err != nil {
		return rep, fmt.Errorf("dataset '%s': %w", name, err)
	}
	if errCheck == nil {
		log.Logf("verified %s: %s records, %s fields\n", name, u.FormatCount(int64(rep.Records)), u.FormatCount(int64(rep.Fields)))
	}
	return rep, nil
}

func verify(dir string, m *Manifest) (*validate.Report, error) {
	st, err := openStore(dir, m.Backend, "")
	if err != nil {
		return nil, err
	}
	defer st.Close()
	r, err := st.NewReader()
	if err != nil {
		return nil, err
	}
	defer r.Close()
	opts := validate.Options{
		CheckCount:  true,
		ExpectCount: m.Messages,
		Workers:     m.Workers,
	}
	return validate.Validate(r, opts)
}

// ReadJournal returns build and verify records of all datasets in outDir
func ReadJournal(outDir string) ([]*journal.Record, error) {
	return journal.ReadAll(filepath.Join(outDir, JournalFileName))
}
