// Package files reads diagrams from disk and writes exported ones back.
package files

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
)

// Export names and media types.
const (
	SVGFilename  = "bpmn-diagram.svg"
	SVGMime      = "image/svg+xml"
	BPMNFilename = "bpmn-diagram.bpmn"
	BPMNMime     = "application/xml"
)

// ReadError reports a file that could not be read.
type ReadError struct {
	Path string
	Err  error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("read %s: %v", e.Path, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

// LoadFromFile returns the whole file as text.
func LoadFromFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", &ReadError{Path: path, Err: err}
	}
	return string(data), nil
}

// Downloader hands exported content to the user.
type Downloader interface {
	Download(content, filename, mimeType string) error
}

// DirDownloader saves downloads into a directory.
type DirDownloader struct {
	Dir string
}

// NewDirDownloader 创建保存到指定目录的下载器
func NewDirDownloader(dir string) *DirDownloader {
	if dir == "" {
		dir = "."
	}
	return &DirDownloader{Dir: dir}
}

// Download writes content to Dir/filename. The content is staged in a temp
// file that is closed and renamed into place, so a partial file never
// carries the final name.
func (d *DirDownloader) Download(content, filename, mimeType string) error {
	if filename == "" || filename != filepath.Base(filename) {
		return fmt.Errorf("invalid download filename %q", filename)
	}
	if err := os.MkdirAll(d.Dir, 0o755); err != nil {
		return fmt.Errorf("create download dir: %w", err)
	}

	tmp, err := os.CreateTemp(d.Dir, "."+filename+"-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", filename, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", filename, err)
	}

	target := filepath.Join(d.Dir, filename)
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("save %s: %w", filename, err)
	}

	log.Printf("[files] saved %s (%s, %d bytes)", target, mimeType, len(content))
	return nil
}
