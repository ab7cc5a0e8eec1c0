package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mailsweep/mailsweep/internal/tracing"
	"github.com/mailsweep/mailsweep/services/scan"
)

type ScanHandler struct {
	scanner *scan.Scanner
	factory providerFactory
}

func NewScanHandler(scanner *scan.Scanner, factory providerFactory) *ScanHandler {
	return &ScanHandler{scanner: scanner, factory: factory}
}

type scanRequest struct {
	scan.Request
	// Provider overrides the session primary for this scan.
	Provider string `json:"provider,omitempty"`
}

// Scan runs a provider search and returns sender aggregates.
func (h *ScanHandler) Scan() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "ScanHandler.Scan", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)

		var req scanRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		_, p, err := connectProvider(c, h.factory, req.Provider)
		if err != nil {
			respondError(c, span, err)
			return
		}
		defer p.Close()

		result, err := h.scanner.Scan(ctx, p, req.Request)
		if err != nil {
			respondError(c, span, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"provider": p.Name(),
			"result":   result,
		})
	}
}
