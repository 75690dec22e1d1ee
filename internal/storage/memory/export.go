package memory

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	v4 "github.com/OCAP2/vcd/internal/storage/memory/export/v4"
)

// build returns the full export, reusing the cached one when nothing changed
// since the last call. Caller holds the write lock. The result is shared with
// later calls and must not leave the package.
func (b *Backend) build() *v4.Object {
	if b.cached == nil {
		b.cached = v4.Build(b.documentData())
	}
	return b.cached
}

// Stringify serializes the whole document
func (b *Backend) Stringify(pretty bool) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return encode(b.build(), pretty)
}

// StringifyFrame serializes one frame. With dynamicOnly unset every element
// also carries its static part.
func (b *Backend) StringifyFrame(frame int, dynamicOnly, pretty bool) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	obj, ok := v4.BuildFrame(b.documentData(), frame, dynamicOnly)
	if !ok {
		return nil, fmt.Errorf("frame %d is not part of the document", frame)
	}
	return encode(obj, pretty)
}

// Save writes the whole document to path. Paths ending in .gz, or any path
// when CompressOutput is set, are gzip compressed.
func (b *Backend) Save(path string, pretty bool) error {
	data, err := b.Stringify(pretty)
	if err != nil {
		return err
	}
	return b.writeFile(path, data)
}

// SaveFrame writes one frame to path, compressed like Save
func (b *Backend) SaveFrame(path string, frame int, dynamicOnly, pretty bool) error {
	data, err := b.StringifyFrame(frame, dynamicOnly, pretty)
	if err != nil {
		return err
	}
	return b.writeFile(path, data)
}

// Export writes the document into the configured output directory, named
// after the document, and returns the file path.
func (b *Backend) Export() (string, error) {
	name := strings.NewReplacer(" ", "_", ":", "_", "/", "_").Replace(b.Name())
	if name == "" {
		name = "vcd"
	}
	filename := name + ".json"
	if b.cfg.CompressOutput {
		filename += ".gz"
	}
	outputPath := filepath.Join(b.cfg.OutputDir, filename)

	if err := b.Save(outputPath, b.cfg.PrettyOutput); err != nil {
		return "", err
	}
	b.logger.Info("Document exported", "path", outputPath)
	return outputPath, nil
}

func (b *Backend) writeFile(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	if b.cfg.CompressOutput || strings.HasSuffix(path, ".gz") {
		return writeGzip(f, data)
	}
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	return nil
}

func writeGzip(w io.Writer, data []byte) error {
	gzWriter := gzip.NewWriter(w)
	if _, err := gzWriter.Write(data); err != nil {
		gzWriter.Close()
		return fmt.Errorf("failed to write gzip data: %w", err)
	}
	return gzWriter.Close()
}

func encode(obj *v4.Object, pretty bool) ([]byte, error) {
	data, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}
	if !pretty {
		return data, nil
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "    "); err != nil {
		return nil, fmt.Errorf("failed to indent document: %w", err)
	}
	return buf.Bytes(), nil
}
