package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/ocr-dimt/ocrdemo/internal/app"
	"github.com/ocr-dimt/ocrdemo/internal/types"
	"github.com/ocr-dimt/ocrdemo/internal/utils/formutil"

	"github.com/gin-gonic/gin"
)

var errMissingField = errors.New("field required")

func getApp(c *gin.Context) *app.App {
	return c.MustGet("app").(*app.App)
}

// readUpload returns the named form file fully read. A missing field wraps
// errMissingField.
func readUpload(c *gin.Context, field string) (*types.Upload, error) {
	fh, err := c.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
		return nil, fmt.Errorf("%s: %w", field, errMissingField)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", field, err)
	}

	upload, err := formutil.ReadUpload(fh)
	if err != nil {
		return nil, err
	}
	return &upload, nil
}

// readUploadPair reads both required fields, answering 422 on the first one
// that is absent. It reports whether the handler should continue.
func readUploadPair(c *gin.Context) (image, ndjson *types.Upload, ok bool) {
	image, err := readUpload(c, types.ImageField)
	if err == nil {
		ndjson, err = readUpload(c, types.JSONField)
	}

	switch {
	case err == nil:
		return image, ndjson, true
	case errors.Is(err, errMissingField):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	}
	return nil, nil, false
}
