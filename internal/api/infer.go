package api

import (
	"net/http"

	"github.com/ocr-dimt/ocrdemo/internal/utils/imageutil"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Infer answers POST /infer. A missing annotation record is still a 200;
// any other pipeline failure is a bare 500 with the detail only logged.
func Infer(c *gin.Context) {
	app := getApp(c)

	image, ndjson, ok := readUploadPair(c)
	if !ok {
		return
	}

	resp, err := app.Inferer().Infer(c.Request.Context(), *image, *ndjson)
	if err != nil {
		app.Logger.Error("inference failed",
			zap.String("image", image.Filename),
			zap.String("image_type", imageutil.DetectContentType(image.Content)),
			zap.String("ndjson", ndjson.Filename),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal Server Error"})
		return
	}

	c.JSON(http.StatusOK, resp)
}
