// Package sink writes rendered scripts and their metadata to disk.
package sink

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"db-snap/internal/engine"

	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/xxh3"
)

// File is a script destination that only appears at its final path once
// Commit succeeds. Until then output goes to a temporary file in the same
// directory.
type File struct {
	path       string
	tmp        *os.File
	buf        *bufio.Writer
	zw         *zstd.Encoder
	hash       *xxh3.Hasher
	script     *engine.Script
	compressed bool
	done       bool
}

// Create opens a script file at path. With compress the script is zstd
// encoded on the way to disk.
func Create(path string, compress bool) (*File, error) {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return nil, fmt.Errorf("failed to create output file in %s: %w", dir, err)
	}

	f := &File{
		path:       path,
		tmp:        tmp,
		buf:        bufio.NewWriterSize(tmp, 256*1024),
		hash:       xxh3.New(),
		compressed: compress,
	}

	var dst io.Writer = f.buf
	if compress {
		f.zw, err = zstd.NewWriter(f.buf, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
			return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
		}
		dst = f.zw
	}

	// checksum covers the uncompressed script
	f.script = engine.NewScript(io.MultiWriter(f.hash, dst))
	return f, nil
}

func (f *File) Write(fr engine.Fragment) error {
	if f.done {
		return fmt.Errorf("output %s is already closed", f.path)
	}
	return f.script.Write(fr)
}

// Commit flushes everything and moves the script to its final path.
func (f *File) Commit() error {
	if f.done {
		return fmt.Errorf("output %s is already closed", f.path)
	}
	f.done = true

	if err := f.finish(); err != nil {
		f.tmp.Close()
		os.Remove(f.tmp.Name())
		return err
	}
	if err := f.tmp.Close(); err != nil {
		os.Remove(f.tmp.Name())
		return fmt.Errorf("failed to close output file: %w", err)
	}
	if err := os.Rename(f.tmp.Name(), f.path); err != nil {
		os.Remove(f.tmp.Name())
		return fmt.Errorf("failed to move output into place: %w", err)
	}
	return nil
}

func (f *File) finish() error {
	if f.zw != nil {
		if err := f.zw.Close(); err != nil {
			return fmt.Errorf("failed to finish compressed stream: %w", err)
		}
	}
	if err := f.buf.Flush(); err != nil {
		return fmt.Errorf("failed to flush output file: %w", err)
	}
	if err := f.tmp.Sync(); err != nil {
		return fmt.Errorf("failed to sync output file: %w", err)
	}
	return nil
}

// Abort discards the partial script. It is a no-op after Commit.
func (f *File) Abort() error {
	if f.done {
		return nil
	}
	f.done = true

	if f.zw != nil {
		f.zw.Close()
	}
	f.tmp.Close()
	if err := os.Remove(f.tmp.Name()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove partial output: %w", err)
	}
	return nil
}

func (f *File) Path() string {
	return f.path
}

func (f *File) Compressed() bool {
	return f.compressed
}

// Size is the uncompressed script size in bytes.
func (f *File) Size() int64 {
	return f.script.Bytes()
}

// Statements counts the statements written so far.
func (f *File) Statements() int {
	return f.script.Statements()
}

// Checksum is the xxh3-64 digest of the uncompressed script.
func (f *File) Checksum() uint64 {
	return f.hash.Sum64()
}

// DiskSize reports the size of the committed file.
func (f *File) DiskSize() (int64, error) {
	st, err := os.Stat(f.path)
	if err != nil {
		return 0, err
	}
	return st.Size(), nil
}

// ChecksumFile recomputes the digest and uncompressed size of a script on
// disk, decoding zstd when compressed.
func ChecksumFile(path string, compressed bool) (uint64, int64, error) {
	in, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer in.Close()

	var r io.Reader = bufio.NewReader(in)
	if compressed {
		dec, err := zstd.NewReader(r)
		if err != nil {
			return 0, 0, fmt.Errorf("failed to open compressed script: %w", err)
		}
		defer dec.Close()
		r = dec
	}

	h := xxh3.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return 0, n, fmt.Errorf("failed to read script %s: %w", path, err)
	}
	return h.Sum64(), n, nil
}
