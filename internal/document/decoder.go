package document

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
)

// ErrDecoderUnavailable means the rasterizer binaries could not be run.
var ErrDecoderUnavailable = errors.New("document decoder unavailable")

// Decoded is everything the cache keeps from one PDF.
type Decoded struct {
	PageCount int
	// Pages holds one PNG per page, first page at index 0.
	Pages [][]byte
	Text  string
}

// Decoder turns raw PDF bytes into page images and plain text.
type Decoder interface {
	Decode(ctx context.Context, raw []byte) (Decoded, error)
}

// PopplerDecoder shells out to poppler-utils.
type PopplerDecoder struct {
	PdftoppmPath  string
	PdftotextPath string
	DPI           int
}

func (d PopplerDecoder) Decode(ctx context.Context, raw []byte) (Decoded, error) {
	dir, err := os.MkdirTemp("", "knowte-pdf-")
	if err != nil {
		return Decoded{}, err
	}
	defer os.RemoveAll(dir)

	src := filepath.Join(dir, "input.pdf")
	if err := os.WriteFile(src, raw, 0o600); err != nil {
		return Decoded{}, err
	}

	dpi := d.DPI
	if dpi <= 0 {
		dpi = 144
	}
	if _, err := d.run(ctx, d.bin(d.PdftoppmPath, "pdftoppm"), "-png", "-r", strconv.Itoa(dpi), src, filepath.Join(dir, "page")); err != nil {
		return Decoded{}, err
	}
	text, err := d.run(ctx, d.bin(d.PdftotextPath, "pdftotext"), "-enc", "UTF-8", src, "-")
	if err != nil {
		return Decoded{}, err
	}

	files, err := filepath.Glob(filepath.Join(dir, "page-*.png"))
	if err != nil {
		return Decoded{}, err
	}
	slices.SortFunc(files, func(a, b string) int { return pageNumber(a) - pageNumber(b) })

	out := Decoded{PageCount: len(files), Text: joinPages(string(text))}
	for _, f := range files {
		png, err := os.ReadFile(f)
		if err != nil {
			return Decoded{}, err
		}
		out.Pages = append(out.Pages, png)
	}
	return out, nil
}

func (d PopplerDecoder) bin(configured, fallback string) string {
	if configured != "" {
		return configured
	}
	return fallback
}

func (d PopplerDecoder) run(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s: %v", ErrDecoderUnavailable, name, err)
		}
		return nil, fmt.Errorf("%s: %v: %s", filepath.Base(name), err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

// pageNumber extracts N from ".../page-N.png". pdftoppm zero-pads N
// depending on the page count, so lexical order is not page order.
func pageNumber(path string) int {
	base := strings.TrimSuffix(filepath.Base(path), ".png")
	i := strings.LastIndexByte(base, '-')
	n, err := strconv.Atoi(base[i+1:])
	if err != nil {
		return 0
	}
	return n
}

// joinPages turns pdftotext's form-feed page breaks into newlines.
func joinPages(text string) string {
	pages := strings.Split(text, "\f")
	return strings.TrimSpace(strings.Join(pages, "\n"))
}
