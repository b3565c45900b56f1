package handler

import (
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
)

// fallbackPage is served when no frontend build is present
const fallbackPage = `<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>Shipment notifications</title></head>
<body><p>Delivered shipments are forwarded automatically.</p></body></html>
`

// AppHandler serves the embedded frontend shell behind the auth gate
type AppHandler struct {
	indexPath string
}

// NewAppHandler creates an AppHandler for the built index.html at indexPath
func NewAppHandler(indexPath string) *AppHandler {
	return &AppHandler{indexPath: indexPath}
}

// Index serves index.html for every frontend route
func (h *AppHandler) Index(c *gin.Context) {
	if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
		c.Status(http.StatusNotFound)
		return
	}
	if h.indexPath != "" {
		if info, err := os.Stat(h.indexPath); err == nil && !info.IsDir() {
			c.File(h.indexPath)
			return
		}
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(fallbackPage))
}
