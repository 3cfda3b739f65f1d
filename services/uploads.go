package services

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"gainable/config"
)

// Upload prefixes in the bucket.
const (
	UploadLeads    = "leads"
	UploadArticles = "articles"
)

var allowedUploadTypes = map[string]bool{
	"image/jpeg":      true,
	"image/png":       true,
	"image/webp":      true,
	"application/pdf": true,
}

// FileStore stores a file and returns its public link.
type FileStore interface {
	Upload(ctx context.Context, prefix, filename string, data []byte, contentType string) (string, error)
}

// UploadService accepts lead attachments and article images.
type UploadService struct {
	Config *config.Config
	Store  FileStore
	Logger *zap.Logger
}

// NewUploadService creates a new UploadService.
func NewUploadService(cfg *config.Config, store FileStore, logger *zap.Logger) *UploadService {
	return &UploadService{Config: cfg, Store: store, Logger: logger}
}

// Upload checks size and sniffed type, then stores the file under prefix.
func (s *UploadService) Upload(ctx context.Context, prefix, filename string, data []byte) (string, error) {
	if prefix != UploadLeads && prefix != UploadArticles {
		return "", invalid("kind", "type d'envoi inconnu")
	}
	if len(data) == 0 {
		return "", invalid("file", "fichier vide")
	}
	if int64(len(data)) > s.Config.MaxUploadB {
		return "", invalid("file", fmt.Sprintf("fichier trop volumineux (max %d Mo)", s.Config.MaxUploadB>>20))
	}
	contentType := http.DetectContentType(data)
	if !allowedUploadTypes[contentType] {
		return "", invalid("file", "format non accepté (JPEG, PNG, WebP ou PDF)")
	}

	link, err := s.Store.Upload(ctx, prefix, filename, data, contentType)
	if err != nil {
		s.Logger.Error("Upload to object storage failed", zap.String("filename", filename), zap.Error(err))
		return "", &UpstreamError{Provider: "s3", Err: err}
	}
	return link, nil
}
