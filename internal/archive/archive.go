package archive

import (
	"archive/tar"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/pgzip"
	"lukechampine.com/blake3"
)

// MetadataName is the first entry of every archive.
const MetadataName = "metadata.json"

// ImageDir holds the data files of an archive.
const ImageDir = "image"

// Metadata describes the archive contents.
type Metadata struct {
	Version string            `json:"v"`
	Type    string            `json:"t"`
	Extra   map[string]string `json:"extra,omitempty"`
}

type job struct {
	name string
	path string
}

// Archive writes a gzip-compressed tar file. Files are queued by AddFile and
// written by a worker goroutine; errors surface from AddFile once the worker
// has failed and always from Finish.
type Archive struct {
	path  string
	jobs  chan job
	done  chan struct{}
	hash  *blake3.Hasher
	mtime time.Time

	mu  sync.Mutex
	err error

	// sendMu serializes queueing with Finish.
	sendMu   sync.Mutex
	finished bool
}

// Create replaces any file at path and starts the archive with the metadata
// entry and the image directory.
func Create(path string, meta Metadata) (*Archive, error) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("remove %s: %w", path, err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create archive %s: %w", path, err)
	}

	a := &Archive{
		path:  path,
		jobs:  make(chan job, 64),
		done:  make(chan struct{}),
		hash:  blake3.New(32, nil),
		mtime: time.Now().Truncate(time.Second),
	}

	gz, err := pgzip.NewWriterLevel(io.MultiWriter(f, a.hash), pgzip.BestCompression)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("create archive %s: %w", path, err)
	}
	tw := tar.NewWriter(gz)

	if err := a.writeHeader(tw, meta); err != nil {
		tw.Close()
		gz.Close()
		f.Close()
		return nil, fmt.Errorf("create archive %s: %w", path, err)
	}

	go a.run(f, gz, tw)
	return a, nil
}

func (a *Archive) writeHeader(tw *tar.Writer, meta Metadata) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	if err := tw.WriteHeader(a.header(MetadataName, tar.TypeReg, 0o444, int64(len(data)))); err != nil {
		return err
	}
	if _, err := tw.Write(data); err != nil {
		return err
	}
	return tw.WriteHeader(a.header(ImageDir+"/", tar.TypeDir, 0o755, 0))
}

func (a *Archive) header(name string, typ byte, mode, size int64) *tar.Header {
	return &tar.Header{
		Typeflag: typ,
		Name:     name,
		Mode:     mode,
		Size:     size,
		Uid:      0,
		Gid:      0,
		Uname:    "root",
		Gname:    "root",
		ModTime:  a.mtime,
		Format:   tar.FormatUSTAR,
	}
}

func (a *Archive) run(f *os.File, gz *pgzip.Writer, tw *tar.Writer) {
	defer close(a.done)

	for j := range a.jobs {
		if a.firstErr() != nil {
			continue
		}
		if err := a.append(tw, j); err != nil {
			a.fail(fmt.Errorf("add %s: %w", j.name, err))
		}
	}

	err := errors.Join(tw.Close(), gz.Close(), f.Sync(), f.Close())
	if err != nil {
		a.fail(fmt.Errorf("finish archive %s: %w", a.path, err))
	}
}

func (a *Archive) append(tw *tar.Writer, j job) error {
	f, err := os.Open(j.path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	if err := tw.WriteHeader(a.header(j.name, tar.TypeReg, 0o444, info.Size())); err != nil {
		return err
	}
	_, err = io.Copy(tw, f)
	return err
}

func (a *Archive) fail(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err == nil {
		a.err = err
	}
}

func (a *Archive) firstErr() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.err
}

// AddFile queues the file at path to be stored as image/<name>. The name
// must not contain directory components.
func (a *Archive) AddFile(path, name string) error {
	if name == "" || strings.Contains(name, "/") {
		return fmt.Errorf("%q must be a bare file name", name)
	}
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%s is not a file", path)
	}

	a.sendMu.Lock()
	defer a.sendMu.Unlock()
	if a.finished {
		return errors.New("archive already finished")
	}
	if err := a.firstErr(); err != nil {
		return err
	}
	a.jobs <- job{name: ImageDir + "/" + name, path: path}
	return nil
}

// Finish waits for queued files to be written, closes the archive and
// returns the hex BLAKE3 digest of the compressed file.
func (a *Archive) Finish() (string, error) {
	a.sendMu.Lock()
	if a.finished {
		a.sendMu.Unlock()
		return "", errors.New("archive already finished")
	}
	a.finished = true
	close(a.jobs)
	a.sendMu.Unlock()

	<-a.done

	if err := a.firstErr(); err != nil {
		return "", err
	}
	return hex.EncodeToString(a.hash.Sum(nil)), nil
}
