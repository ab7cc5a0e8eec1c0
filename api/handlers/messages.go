package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mailsweep/mailsweep/internal/tracing"
)

type MessagesHandler struct {
	factory providerFactory
}

func NewMessagesHandler(factory providerFactory) *MessagesHandler {
	return &MessagesHandler{factory: factory}
}

// ListTrash pages through the trash folder so users can check what a sweep
// actually moved before it is gone for good.
func (h *MessagesHandler) ListTrash() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "MessagesHandler.ListTrash", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)

		_, p, err := connectProvider(c, h.factory, c.Query("provider"))
		if err != nil {
			respondError(c, span, err)
			return
		}
		defer p.Close()
		tracing.TagProvider(span, p.Name().String())

		pageSize := 50
		if v, err := strconv.Atoi(c.Query("page_size")); err == nil && v > 0 && v <= 200 {
			pageSize = v
		}

		page, err := p.ListMessages(ctx, c.Query("query"), "trash", c.Query("page_token"), pageSize)
		if err != nil {
			respondError(c, span, err)
			return
		}

		metas, err := p.GetMetadata(ctx, page.IDs)
		if err != nil {
			respondError(c, span, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"provider":        p.Name(),
			"messages":        metas,
			"result_estimate": page.ResultEstimate,
			"next_page_token": page.NextPageToken,
		})
	}
}

// Preview fetches the headers of a single message by id.
func (h *MessagesHandler) Preview() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "MessagesHandler.Preview", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)

		id := c.Param("id")
		if id == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "message id is required"})
			return
		}

		_, p, err := connectProvider(c, h.factory, c.Query("provider"))
		if err != nil {
			respondError(c, span, err)
			return
		}
		defer p.Close()
		tracing.TagProvider(span, p.Name().String())

		metas, err := p.GetMetadata(ctx, []string{id})
		if err != nil {
			respondError(c, span, err)
			return
		}
		if len(metas) == 0 {
			c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"provider": p.Name(), "message": metas[0]})
	}
}

// Folders lists the canonical folders the provider exposes.
func (h *MessagesHandler) Folders() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "MessagesHandler.Folders", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)

		_, p, err := connectProvider(c, h.factory, c.Query("provider"))
		if err != nil {
			respondError(c, span, err)
			return
		}
		defer p.Close()
		tracing.TagProvider(span, p.Name().String())

		folders, err := p.ListFolders(ctx)
		if err != nil {
			respondError(c, span, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"provider": p.Name(), "folders": folders})
	}
}
