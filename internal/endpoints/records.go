package endpoints

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"mediascribe/internal/store"

	"github.com/gin-gonic/gin"
)

// Pagination is the envelope for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
}

// HandleGetRecord returns one record with a freshly minted download URL.
// @Summary      Get record
// @Tags         records
// @Produce      json
// @Param        id path string true "Record ID"
// @Success      200  {object}  map[string]any
// @Failure      404  {object}  map[string]string
// @Router       /records/{id} [get]
func HandleGetRecord(records RecordStore, broker UploadBroker) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		rec, err := records.Get(ctx, c.Param("id"))
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "record not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load record"})
			return
		}

		downloadURL := ""
		if rec.FileKey != "" {
			downloadURL, err = broker.DownloadURL(ctx, rec.FileKey, time.Hour)
			if err != nil {
				slog.Warn("Failed to mint download URL", "file_key", rec.FileKey, "error", err)
			}
		}

		c.JSON(http.StatusOK, gin.H{"record": rec, "download_url": downloadURL})
	}
}

// HandleListRecords returns one page of live records.
// @Summary      List records
// @Tags         records
// @Produce      json
// @Param        page query int false "Page number"
// @Param        pageSize query int false "Page size"
// @Success      200  {object}  map[string]any
// @Router       /records [get]
func HandleListRecords(records RecordStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
		pageSize, _ := strconv.Atoi(c.DefaultQuery("pageSize", "20"))
		if page < 1 {
			page = 1
		}
		if pageSize < 1 || pageSize > 100 {
			pageSize = 20
		}

		list, total, err := records.List(c.Request.Context(), page, pageSize)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list records"})
			return
		}

		totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
		c.JSON(http.StatusOK, gin.H{
			"records": list,
			"pagination": Pagination{
				Page:       page,
				PageSize:   pageSize,
				Total:      total,
				TotalPages: totalPages,
			},
		})
	}
}
