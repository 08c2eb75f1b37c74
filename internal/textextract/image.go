package textextract

import "context"

// ImageReader is the OCR capability of the completion gateway.
type ImageReader interface {
	ExtractImageText(ctx context.Context, data []byte, mimeType string) (string, error)
}

// Vision returns an Extractor that reads images through r.
func Vision(r ImageReader) Extractor {
	return ExtractorFunc(func(ctx context.Context, data []byte, mimeType string) (string, error) {
		return r.ExtractImageText(ctx, data, mimeType)
	})
}
