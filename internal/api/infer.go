package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/aozora-works/kousei-engine/internal/app"
	"github.com/aozora-works/kousei-engine/internal/engine"
	"github.com/aozora-works/kousei-engine/pkg/types"
)

// Infer queues one proofreading generation. The body may be JSON or
// msgpack; the editor's batch path prefers msgpack for large prompts.
func Infer(c *gin.Context) {
	var body types.InferRequest

	contentType := c.ContentType()
	if contentType == "" {
		contentType = "application/json"
	}

	switch contentType {
	case "application/msgpack":
		data, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"message": "failed to read request body", "kind": errKindValidation})
			return
		}
		if err := msgpack.Unmarshal(data, &body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"message": "failed to parse msgpack request body", "kind": errKindValidation})
			return
		}
	case "application/json":
		if err := c.ShouldBindWith(&body, binding.JSON); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"message": "failed to parse json request body", "kind": errKindValidation})
			return
		}
	default:
		c.JSON(http.StatusBadRequest, gin.H{"message": "unsupported content type: " + contentType, "kind": errKindValidation})
		return
	}

	if err := checkInfer(body.Prompt, body.MaxTokens); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error(), "kind": errKindValidation})
		return
	}

	app := c.MustGet("app").(*app.App)
	result, err := app.Engine().Infer(c.Request.Context(), body.Prompt, body.MaxTokens)
	if err != nil {
		switch {
		case errors.Is(err, engine.ErrNoModelLoaded):
			c.JSON(http.StatusConflict, gin.H{"message": err.Error()})
		case errors.Is(err, engine.ErrRuntimeUnavailable):
			c.JSON(http.StatusServiceUnavailable, gin.H{"message": err.Error(), "kind": errKindUnavailable})
		case errors.Is(err, engine.ErrQueueFull):
			c.JSON(http.StatusTooManyRequests, gin.H{"message": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"message": err.Error()})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"data":   result,
	})
}
