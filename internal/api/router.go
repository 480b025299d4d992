package api

import (
	"net/http"

	"github.com/OpenNSW/edibridge/internal/config"
	"github.com/gin-gonic/gin"
)

// NewRouter wires the handler's routes. metrics, when set, is served on
// /metrics. A non-empty apiToken guards everything under /api/v1.
func NewRouter(cors *config.CORSConfig, apiToken string, h *Handler, metrics http.Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())
	if cors != nil {
		r.Use(CORS(cors))
	}

	r.GET("/healthz", h.HandleHealth)
	if metrics != nil {
		r.GET("/metrics", gin.WrapH(metrics))
	}

	v1 := r.Group("/api/v1", RequireToken(apiToken))
	v1.POST("/edi/files", h.HandleUploadFile)
	v1.GET("/orders", h.HandleListOrders)
	v1.GET("/orders/:orderNumber", h.HandleGetOrder)
	v1.GET("/shipments/:reference", h.HandleGetShipment)

	return r
}
