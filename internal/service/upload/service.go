// Package upload pushes raw attachment bytes to the external blob store and
// hands back a durable HTTPS URL.
package upload

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"

	"github.com/evanwzhao/relay/backend/internal/config"
)

// Result describes one stored blob.
type Result struct {
	URL      string `json:"url"`
	PublicID string `json:"publicId"`
	Format   string `json:"format,omitempty"`
	Bytes    int    `json:"bytes,omitempty"`
}

// Service wraps the blob store SDK.
type Service struct {
	cld    *cloudinary.Cloudinary
	folder string
}

// NewService builds the uploader from configuration.
func NewService(cfg config.UploadConfig) (*Service, error) {
	cld, err := cloudinary.NewFromParams(cfg.CloudName, cfg.APIKey, cfg.APISecret)
	if err != nil {
		return nil, fmt.Errorf("failed to init blob store client: %w", err)
	}
	return &Service{cld: cld, folder: cfg.Folder}, nil
}

// Upload stores the file and returns its reference. The returned URL is
// always https, regardless of what the store reports.
func (s *Service) Upload(ctx context.Context, file io.Reader, filename string) (*Result, error) {
	resp, err := s.cld.Upload.Upload(ctx, file, uploader.UploadParams{
		Folder:       s.folder,
		ResourceType: "auto",
	})
	if err != nil {
		return nil, fmt.Errorf("upload %s: %w", filename, err)
	}

	url := resp.SecureURL
	if url == "" {
		url = strings.Replace(resp.URL, "http://", "https://", 1)
	}

	return &Result{
		URL:      url,
		PublicID: resp.PublicID,
		Format:   resp.Format,
		Bytes:    resp.Bytes,
	}, nil
}
