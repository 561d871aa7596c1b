package api

import (
	"errors"
	"net/http"

	"github.com/ocr-dimt/ocrdemo/internal/types"

	"github.com/gin-gonic/gin"
)

// Submit answers POST /submit for the upload page. The reply is always a
// 200 carrying the message to display.
func Submit(c *gin.Context) {
	app := getApp(c)

	image, err := readUpload(c, types.ImageField)
	if err != nil && !errors.Is(err, errMissingField) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ndjson, err := readUpload(c, types.JSONField)
	if err != nil && !errors.Is(err, errMissingField) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg := app.Submitter().Submit(c.Request.Context(), image, ndjson)
	c.JSON(http.StatusOK, types.SubmitResponse{Text: msg})
}
