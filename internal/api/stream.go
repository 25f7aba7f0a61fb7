package api

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/aozora-works/kousei-engine/internal/app"
	"github.com/aozora-works/kousei-engine/internal/config"
	"github.com/aozora-works/kousei-engine/internal/mq"
)

// StreamDownloadProgress relays the per-model download topic to the client
// as server-sent events. The stream ends with an END message once the
// download settles.
func StreamDownloadProgress(c *gin.Context) {
	id := c.Param("id")
	if err := checkModelID(id); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error(), "kind": errKindValidation})
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	app := c.MustGet("app").(*app.App)
	topic := config.DownloadTopicPrefix + id

	for {
		select {
		case <-c.Request.Context().Done():
			return
		default:
			message, err := app.MQ().Receive(c.Request.Context(), topic)
			if err != nil {
				if errors.Is(err, mq.ErrTopicClosed) || errors.Is(err, mq.ErrQueueClosed) {
					return
				}
				continue
			}

			if bytes.Equal(message, []byte("END")) {
				app.MQ().CloseTopic(topic)
				fmt.Fprintf(c.Writer, "data: {\"type\":\"message\", \"data\":\"END\"}\n\n")
				c.Writer.Flush()
				return
			}

			if _, err := fmt.Fprintf(c.Writer, "data: %s\n\n", string(message)); err != nil {
				continue
			}
			c.Writer.Flush()
		}
	}
}

// StreamInferenceEvents relays inference start/end notifications. The
// editor uses them for its busy indicator; the stream lives as long as the
// client keeps it open.
func StreamInferenceEvents(c *gin.Context) {
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	app := c.MustGet("app").(*app.App)

	for {
		select {
		case <-c.Request.Context().Done():
			return
		default:
			message, err := app.MQ().Receive(c.Request.Context(), config.InferenceTopic)
			if err != nil {
				if errors.Is(err, mq.ErrTopicClosed) || errors.Is(err, mq.ErrQueueClosed) {
					return
				}
				continue
			}

			if _, err := fmt.Fprintf(c.Writer, "data: %s\n\n", string(message)); err != nil {
				continue
			}
			c.Writer.Flush()
		}
	}
}
