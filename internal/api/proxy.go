package api

import (
	"fmt"
	"net/http"

	"github.com/ocr-dimt/ocrdemo/internal/proxy"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// FrontendInfer answers POST /frontend_infer by relaying the pair to the
// model server and its JSON reply back, status code included.
func FrontendInfer(c *gin.Context) {
	app := getApp(c)

	image, ndjson, ok := readUploadPair(c)
	if !ok {
		return
	}

	requestID := c.GetHeader(proxy.RequestIDHeader)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header(proxy.RequestIDHeader, requestID)

	ctx := proxy.WithRequestID(c.Request.Context(), requestID)
	reply, err := app.Forwarder().Forward(ctx, *image, *ndjson)
	if err != nil {
		app.Logger.Warn("model server call failed", zap.String("request_id", requestID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("Failed to contact model API: %v", err)})
		return
	}

	c.Data(reply.StatusCode, "application/json", reply.Body)
}
