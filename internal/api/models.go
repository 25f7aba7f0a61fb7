package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/aozora-works/kousei-engine/internal/app"
	"github.com/aozora-works/kousei-engine/internal/downloader"
	"github.com/aozora-works/kousei-engine/internal/engine"
)

// Error kinds let the editor distinguish failures that deserve different
// recovery actions: "retry" resumes a network failure, "redownload" starts
// over after an integrity failure.
const (
	errKindNetwork     = "network"
	errKindIntegrity   = "integrity"
	errKindValidation  = "validation"
	errKindUnavailable = "unavailable"
)

func ListModels(c *gin.Context) {
	app := c.MustGet("app").(*app.App)

	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"data":   app.Engine().Models(),
	})
}

func DownloadModel(c *gin.Context) {
	id := c.Param("id")
	if err := checkModelID(id); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error(), "kind": errKindValidation})
		return
	}

	app := c.MustGet("app").(*app.App)

	// Blocks until the transfer settles; progress streams separately over
	// the SSE endpoint.
	if err := app.Engine().Download(c.Request.Context(), id, nil); err != nil {
		status := http.StatusBadGateway
		kind := errKindNetwork
		if errors.Is(err, downloader.ErrHashMismatch) {
			status = http.StatusUnprocessableEntity
			kind = errKindIntegrity
		}
		c.JSON(status, gin.H{"message": err.Error(), "kind": kind})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func DeleteModel(c *gin.Context) {
	id := c.Param("id")
	if err := checkModelID(id); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error(), "kind": errKindValidation})
		return
	}

	app := c.MustGet("app").(*app.App)
	if err := app.Engine().Delete(id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func LoadModel(c *gin.Context) {
	id := c.Param("id")
	if err := checkModelID(id); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error(), "kind": errKindValidation})
		return
	}

	app := c.MustGet("app").(*app.App)
	if err := app.Engine().Load(c.Request.Context(), id); err != nil {
		switch {
		case errors.Is(err, engine.ErrModelNotDownloaded):
			c.JSON(http.StatusConflict, gin.H{"message": err.Error()})
		case errors.Is(err, engine.ErrRuntimeUnavailable):
			c.JSON(http.StatusServiceUnavailable, gin.H{"message": err.Error(), "kind": errKindUnavailable})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"message": err.Error()})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func UnloadModel(c *gin.Context) {
	app := c.MustGet("app").(*app.App)
	app.Engine().Unload()

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func GetLoadedModel(c *gin.Context) {
	app := c.MustGet("app").(*app.App)

	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"data":   app.Engine().LoadedModel(),
	})
}

func GetStorageUsage(c *gin.Context) {
	app := c.MustGet("app").(*app.App)

	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"data":   app.Engine().StorageUsage(),
	})
}
