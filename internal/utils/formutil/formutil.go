package formutil

import (
	"bytes"
	"fmt"
	"io"
	"mime/multipart"
	"net/textproto"
	"strings"

	"github.com/ocr-dimt/ocrdemo/internal/types"
)

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// EncodeUploads builds the two-file multipart body every tier sends
// downstream and returns it with its content type.
func EncodeUploads(image, ndjson types.Upload) (*bytes.Buffer, string, error) {
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)

	parts := []struct {
		field       string
		upload      types.Upload
		contentType string
	}{
		{types.ImageField, image, types.ImageContentType},
		{types.JSONField, ndjson, types.JSONContentType},
	}
	for _, p := range parts {
		if err := writePart(w, p.field, p.upload, p.contentType); err != nil {
			return nil, "", err
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return body, w.FormDataContentType(), nil
}

// CreateFormFile always says application/octet-stream, so the part header
// is written by hand.
func writePart(w *multipart.Writer, field string, upload types.Upload, contentType string) error {
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
		quoteEscaper.Replace(field), quoteEscaper.Replace(upload.Filename)))
	h.Set("Content-Type", contentType)

	part, err := w.CreatePart(h)
	if err != nil {
		return fmt.Errorf("failed to create %s part: %w", field, err)
	}
	if _, err := part.Write(upload.Content); err != nil {
		return fmt.Errorf("failed to write %s part: %w", field, err)
	}
	return nil
}

// ReadUpload reads an uploaded form file fully into memory.
func ReadUpload(fh *multipart.FileHeader) (types.Upload, error) {
	f, err := fh.Open()
	if err != nil {
		return types.Upload{}, fmt.Errorf("failed to open %s: %w", fh.Filename, err)
	}
	defer f.Close()

	content, err := io.ReadAll(f)
	if err != nil {
		return types.Upload{}, fmt.Errorf("failed to read %s: %w", fh.Filename, err)
	}

	return types.Upload{Filename: fh.Filename, Content: content}, nil
}
