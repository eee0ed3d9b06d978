package endpoints

import (
	"errors"
	"log/slog"
	"net/http"

	"mediascribe/internal/blob"
	"mediascribe/internal/config"
	"mediascribe/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// UploadURLRequest is the body for POST /api/upload-url.
type UploadURLRequest struct {
	FileName    string `json:"file_name"`
	ContentType string `json:"content_type"`
	FileSize    int64  `json:"file_size"`
}

// HandleUploadURL mints an upload ticket, creates the record and garbage
// collects stale unfinished uploads as a side effect.
// @Summary      Mint upload URL
// @Description  Issue presigned single-PUT or multipart upload URLs and create the record
// @Tags         upload
// @Accept       json
// @Produce      json
// @Success      200  {object}  map[string]any
// @Failure      400  {object}  map[string]string
// @Failure      500  {object}  map[string]string
// @Router       /upload-url [post]
func HandleUploadURL(broker UploadBroker, records RecordStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req UploadURLRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
			return
		}
		if req.FileName == "" || req.ContentType == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "file_name and content_type are required"})
			return
		}
		ctx := c.Request.Context()

		if _, err := records.GCStaleUploads(ctx, config.StaleUploadAge); err != nil {
			slog.Error("Stale upload GC failed", "error", err)
		}

		ticket, err := broker.MintUpload(ctx, req.FileName, req.ContentType, req.FileSize)
		if err != nil {
			if errors.Is(err, blob.ErrTooLarge) {
				c.JSON(http.StatusBadRequest, gin.H{"error": "file too large for multipart upload"})
				return
			}
			slog.Error("Failed to mint upload", "file_name", req.FileName, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to mint upload URL"})
			return
		}

		rec := &store.Record{
			ID:       uuid.New().String(),
			FileName: req.FileName,
			FileKey:  ticket.Key,
			Bucket:   config.R2Bucket,
			FileURL:  ticket.PublicURL,
			FileSize: req.FileSize,
			Status:   store.StatusUploaded,
		}
		if err := records.Create(ctx, rec); err != nil {
			slog.Error("Failed to create record", "file_key", ticket.Key, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create record"})
			return
		}

		if ticket.IsMultipart {
			c.JSON(http.StatusOK, gin.H{
				"is_multipart": true,
				"upload_id":    ticket.UploadID,
				"part_urls":    ticket.PartURLs,
				"complete_url": ticket.CompleteURL,
				"abort_url":    ticket.AbortURL,
				"part_size":    ticket.PartSize,
				"record_id":    rec.ID,
				"file_key":     ticket.Key,
				"file_url":     ticket.PublicURL,
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"upload_url": ticket.PutURL,
			"record_id":  rec.ID,
			"file_key":   ticket.Key,
			"file_url":   ticket.PublicURL,
		})
	}
}
