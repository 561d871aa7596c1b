package api

import (
	"net/http"

	"github.com/ocr-dimt/ocrdemo/internal/types"

	"github.com/gin-gonic/gin"
)

func ModelHealth(c *gin.Context) {
	c.JSON(http.StatusOK, types.ModelHealth{Message: "OCR FastAPI server is running."})
}

func ProxyHealth(c *gin.Context) {
	c.JSON(http.StatusOK, types.ProxyHealth{Msg: "Backend proxy is up!"})
}
