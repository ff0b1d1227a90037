package document

import (
	"context"
	"errors"
	"mime"
	"os"
	"path"
	"strings"
	"time"

	"knowte-api/internal/apperr"
	"knowte-api/internal/cache"
	"knowte-api/internal/llm"
	"knowte-api/internal/metrics"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

const pdfMIME = "application/pdf"

// Meta is what the cache keeps about a document besides its page images.
type Meta struct {
	Filename  string `json:"filename"`
	PageCount int    `json:"page_count"`
	Text      string `json:"text"`
}

// Cache maps document ids to metadata with one PNG sub-resource per page.
type Cache = cache.BoundedTTLCache[Meta, []byte]

// Answerer answers a question about one rasterized page.
type Answerer interface {
	Answer(ctx context.Context, page []byte, question string) (answer string, confidence float64, err error)
	Model() string
}

type Config struct {
	MaxEntries     int
	TTL            time.Duration
	MaxUploadBytes int64
	MaxTextChars   int
	UploadDir      string
	Clock          func() time.Time
}

type Upload struct {
	DocumentID string `json:"document_id"`
	Filename   string `json:"filename"`
	PageCount  int    `json:"page_count"`
}

type Answer struct {
	DocumentID string  `json:"document_id"`
	Question   string  `json:"question"`
	Answer     string  `json:"answer"`
	Confidence float64 `json:"confidence"`
	Model      string  `json:"model"`
}

// Service is the document-facing facade over the session cache. Uploaded
// bytes live on fs under UploadDir and are removed with their entry.
type Service struct {
	cache    *Cache
	fs       afero.Fs
	decoder  Decoder
	answerer Answerer
	cfg      Config
}

func NewService(fs afero.Fs, decoder Decoder, answerer Answerer, cfg Config) (*Service, error) {
	if err := fs.MkdirAll(cfg.UploadDir, 0o755); err != nil {
		return nil, err
	}
	s := &Service{fs: fs, decoder: decoder, answerer: answerer, cfg: cfg}
	c, err := cache.New[Meta, []byte](cache.Options[Meta]{
		Name:       "documents",
		MaxEntries: cfg.MaxEntries,
		TTL:        cfg.TTL,
		Clock:      cfg.Clock,
		OnRemove:   s.removeFile,
	})
	if err != nil {
		return nil, err
	}
	s.cache = c
	return s, nil
}

// Register validates and decodes a PDF, stores its bytes and caches its pages.
// Registering may evict the oldest document together with its file.
func (s *Service) Register(ctx context.Context, raw []byte, filename, contentType string) (Upload, error) {
	s.cache.Sweep()

	if filename == "" || !strings.HasSuffix(strings.ToLower(filename), ".pdf") {
		return Upload{}, apperr.InvalidInput("Only PDF files are accepted.")
	}
	if contentType != "" {
		if ct, _, err := mime.ParseMediaType(contentType); err != nil || ct != pdfMIME {
			return Upload{}, apperr.InvalidInput("Invalid file type. Please upload a PDF.")
		}
	}
	if int64(len(raw)) > s.cfg.MaxUploadBytes {
		return Upload{}, apperr.New(apperr.KindPayloadTooLarge, "File too large. Max size is %s.", humanize.IBytes(uint64(s.cfg.MaxUploadBytes)))
	}
	if !mimetype.Detect(raw).Is(pdfMIME) {
		return Upload{}, apperr.InvalidInput("Invalid file type. Please upload a PDF.")
	}

	decoded, err := s.decoder.Decode(ctx, raw)
	if err != nil {
		if errors.Is(err, ErrDecoderUnavailable) {
			return Upload{}, apperr.Wrap(apperr.KindInternal, err, "Document decoder is not available.")
		}
		return Upload{}, apperr.Wrap(apperr.KindInvalidInput, err, "Could not read the PDF.")
	}
	if decoded.PageCount <= 0 || len(decoded.Pages) != decoded.PageCount {
		return Upload{}, apperr.InvalidInput("Could not read any pages from the PDF.")
	}

	key := uuid.NewString()
	if err := afero.WriteFile(s.fs, s.filePath(key), raw, 0o644); err != nil {
		return Upload{}, apperr.Wrap(apperr.KindInternal, err, "Could not store the upload.")
	}

	pages := make(map[int][]byte, decoded.PageCount)
	for i, png := range decoded.Pages {
		pages[i+1] = png
	}
	s.cache.GetOrCreate(key, cache.Seed[Meta, []byte]{
		Meta: Meta{
			Filename:  path.Base(filename),
			PageCount: decoded.PageCount,
			Text:      truncate(strings.TrimSpace(decoded.Text), s.cfg.MaxTextChars),
		},
		SubResources: pages,
	})

	logrus.WithFields(logrus.Fields{
		"document_id": key,
		"pages":       decoded.PageCount,
		"size":        humanize.IBytes(uint64(len(raw))),
	}).Info("[DOCUMENT] registered")

	return Upload{DocumentID: key, Filename: path.Base(filename), PageCount: decoded.PageCount}, nil
}

type question struct {
	Text string
	Page int
}

func (q question) Validate() error {
	return validation.ValidateStruct(&q,
		validation.Field(&q.Text, validation.Required, validation.RuneLength(1, 1024)),
		validation.Field(&q.Page, validation.Required.Error("must be at least 1"), validation.Min(1)),
	)
}

// Answer asks the vision model about one page (1-based) of a document.
func (s *Service) Answer(ctx context.Context, key, text string, page int) (Answer, error) {
	if err := (question{Text: text, Page: page}).Validate(); err != nil {
		return Answer{}, apperr.InvalidInput("%s", err.Error())
	}
	entry, err := s.cache.Get(key)
	if err != nil {
		return Answer{}, apperr.Wrap(apperr.KindNotFound, err, "Document not found.")
	}
	if page > entry.Meta.PageCount {
		return Answer{}, apperr.InvalidInput("Page %d does not exist; the document has %d page(s).", page, entry.Meta.PageCount)
	}

	png, err := s.cache.GetSubResource(key, page)
	if err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			// Evicted between the two lookups.
			return Answer{}, apperr.Wrap(apperr.KindNotFound, err, "Document not found.")
		}
		return Answer{}, apperr.Wrap(apperr.KindInternal, err, "Page image not loaded.")
	}

	answer, confidence, err := s.answerer.Answer(ctx, png, text)
	if err != nil {
		metrics.UpstreamErrors.WithLabelValues("vision").Inc()
		return Answer{}, llm.Upstream(err)
	}
	return Answer{
		DocumentID: key,
		Question:   text,
		Answer:     answer,
		Confidence: confidence,
		Model:      s.answerer.Model(),
	}, nil
}

// ExtractedText returns the stored plain text of a document.
func (s *Service) ExtractedText(key string) (string, error) {
	entry, err := s.cache.Get(key)
	if err != nil {
		return "", apperr.Wrap(apperr.KindNotFound, err, "Document not found.")
	}
	return entry.Meta.Text, nil
}

// Info returns a document's metadata.
func (s *Service) Info(key string) (Upload, error) {
	entry, err := s.cache.Get(key)
	if err != nil {
		return Upload{}, apperr.Wrap(apperr.KindNotFound, err, "Document not found.")
	}
	return Upload{DocumentID: key, Filename: entry.Meta.Filename, PageCount: entry.Meta.PageCount}, nil
}

// Delete drops a document, its pages and its file. Unknown ids report false.
func (s *Service) Delete(key string) bool {
	return s.cache.Delete(key)
}

// PageCount reports how many page images are held for a document.
func (s *Service) PageCount(key string) int {
	return s.cache.SubResourceCount(key)
}

func (s *Service) filePath(key string) string {
	return path.Join(s.cfg.UploadDir, key+".pdf")
}

func (s *Service) removeFile(entry cache.Entry[Meta], reason cache.RemovalReason) {
	err := s.fs.Remove(s.filePath(entry.Key))
	if err != nil && !os.IsNotExist(err) {
		logrus.WithError(err).WithField("document_id", entry.Key).Warn("[DOCUMENT] could not remove upload")
		return
	}
	logrus.WithFields(logrus.Fields{"document_id": entry.Key, "reason": reason}).Debug("[DOCUMENT] removed")
}

func truncate(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
