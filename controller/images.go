package controller

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"imagehub/catalog"
	"imagehub/models"
	"imagehub/storage"
)

// ObjectStore is the slice of the storage layer the image handlers use.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Head(ctx context.Context, key string) (int64, string, error)
	Delete(ctx context.Context, key string) error
	AccessURL(ctx context.Context, key string) (string, error)
	BlobNameFromURL(url string) string
}

// Annotator produces a title/description pair for image bytes. It never
// fails; degraded annotation yields the default pair.
type Annotator interface {
	Annotate(ctx context.Context, image []byte, mimeType string) models.Metadata
}

// ImageCatalog is the slice of the catalog the image handlers use.
type ImageCatalog interface {
	Put(ctx context.Context, rec *models.ImageRecord) error
	QueryByOwner(ctx context.Context, owner string) ([]models.ImageRecord, error)
	FindByOwnerAndName(ctx context.Context, owner, blobName string) (*models.ImageRecord, error)
}

// ImageController drives the upload and gallery workflows. All external
// clients are injected so the handlers can be exercised against fakes.
type ImageController struct {
	Store     ObjectStore
	Annotator Annotator
	Catalog   ImageCatalog
	MaxBytes  int64
}

// FileEntry is one gallery listing item.
type FileEntry struct {
	Name        string `json:"name"`
	URL         string `json:"url"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

const requestTimeout = 30 * time.Second

func owner(c *gin.Context) string {
	return c.GetString("email")
}

// Upload handles POST /upload-image: annotate, store bytes, store metadata
// sidecar, write the catalog record, respond with the generated filename
// and its access URL.
func (ic *ImageController) Upload(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	file, err := c.FormFile("image")
	if err != nil || file.Filename == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No file selected"})
		return
	}
	if ic.MaxBytes > 0 && file.Size > ic.MaxBytes {
		c.JSON(http.StatusBadRequest, gin.H{"error": "File too large"})
		return
	}

	src, err := file.Open()
	if err != nil {
		log.Error().Err(err).Msg("open multipart file")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Could not read uploaded file"})
		return
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		log.Error().Err(err).Msg("read multipart file")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Could not read uploaded file"})
		return
	}

	contentType := file.Header.Get("Content-Type")
	key := storage.NewObjectKey(file.Filename)

	// Annotation is best effort; a dead inference endpoint must not block
	// uploads.
	meta := ic.Annotator.Annotate(ctx, data, contentType)

	if err := ic.Store.Put(ctx, key, data, contentType); err != nil {
		log.Error().Err(err).Str("key", key).Msg("store image bytes")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error uploading image"})
		return
	}

	url, err := ic.Store.AccessURL(ctx, key)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("generate access url")
	}

	// The sidecar only feeds future gallery display; losing it degrades
	// nothing that cannot be regenerated.
	sidecar := storage.SidecarKey(key)
	if metaJSON, err := json.Marshal(meta); err == nil {
		if err := ic.Store.Put(ctx, sidecar, metaJSON, "application/json"); err != nil {
			log.Warn().Err(err).Str("key", sidecar).Msg("store metadata sidecar")
		}
	}

	rec := &models.ImageRecord{
		Owner:       owner(c),
		BlobName:    key,
		URL:         url,
		Title:       meta.Title,
		Description: meta.Description,
		UploadedAt:  time.Now(),
	}
	if err := ic.Catalog.Put(ctx, rec); err != nil {
		log.Error().Err(err).Str("key", key).Msg("catalog write failed, cleaning up blobs")
		if derr := ic.Store.Delete(ctx, key); derr != nil {
			log.Warn().Err(derr).Str("key", key).Msg("orphaned blob left behind")
		}
		if derr := ic.Store.Delete(ctx, sidecar); derr != nil {
			log.Warn().Err(derr).Str("key", sidecar).Msg("orphaned sidecar left behind")
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error saving image record"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"message":  "File uploaded successfully",
		"filename": key,
		"url":      url,
	})
}

// ListFiles handles GET /files: every catalog record of the caller, each
// with a freshly generated access URL and sidecar metadata merged in when
// present.
func (ic *ImageController) ListFiles(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	records, err := ic.Catalog.QueryByOwner(ctx, owner(c))
	if err != nil {
		log.Error().Err(err).Msg("query catalog")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error listing images"})
		return
	}

	files := make([]FileEntry, 0, len(records))
	for _, rec := range records {
		blobName := rec.BlobName
		if blobName == "" {
			// Legacy records stored only the URL.
			blobName = ic.Store.BlobNameFromURL(rec.URL)
		}
		if blobName == "" {
			continue
		}

		url, err := ic.Store.AccessURL(ctx, blobName)
		if err != nil {
			log.Warn().Err(err).Str("key", blobName).Msg("generate access url, falling back to stored")
			url = rec.URL
		}

		entry := FileEntry{
			Name:        blobName,
			URL:         url,
			Title:       models.DefaultTitle,
			Description: models.DefaultDescription,
		}
		mergeSidecar(ctx, ic.Store, blobName, &entry)
		files = append(files, entry)
	}

	c.JSON(http.StatusOK, gin.H{"files": files})
}

// mergeSidecar overlays sidecar metadata onto entry. Missing or malformed
// sidecars leave the defaults untouched.
func mergeSidecar(ctx context.Context, store ObjectStore, blobName string, entry *FileEntry) {
	data, err := store.Get(ctx, storage.SidecarKey(blobName))
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			log.Warn().Err(err).Str("key", blobName).Msg("load metadata sidecar")
		}
		return
	}
	var meta models.Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return
	}
	if meta.Title != "" {
		entry.Title = meta.Title
	}
	if meta.Description != "" {
		entry.Description = meta.Description
	}
}

// GetFile handles GET /files/:filename: single-object metadata lookup,
// scoped to the caller's own records.
func (ic *ImageController) GetFile(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	name := c.Param("filename")
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Filename is missing"})
		return
	}

	if _, err := ic.Catalog.FindByOwnerAndName(ctx, owner(c), name); err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "File not found"})
			return
		}
		log.Error().Err(err).Str("key", name).Msg("catalog lookup")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error looking up file"})
		return
	}

	size, contentType, err := ic.Store.Head(ctx, name)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "File not found"})
			return
		}
		log.Error().Err(err).Str("key", name).Msg("head object")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error looking up file"})
		return
	}

	url, err := ic.Store.AccessURL(ctx, name)
	if err != nil {
		log.Warn().Err(err).Str("key", name).Msg("generate access url")
	}

	c.JSON(http.StatusOK, gin.H{
		"name":         name,
		"size":         size,
		"content_type": contentType,
		"url":          url,
	})
}
