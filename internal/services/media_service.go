package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"cactus/internal/config"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
	"github.com/google/uuid"
)

// ErrMediaNotConfigured is returned by NewMediaService when credentials are missing
var ErrMediaNotConfigured = errors.New("missing Cloudinary configuration")

const mediaFolder = "cactus/updates"

// MediaService stores update photos in Cloudinary
type MediaService struct {
	cld *cloudinary.Cloudinary
}

func NewMediaService(cfg config.MediaConfig) (*MediaService, error) {
	if cfg.CloudName == "" || cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, ErrMediaNotConfigured
	}

	cld, err := cloudinary.NewFromParams(cfg.CloudName, cfg.APIKey, cfg.APISecret)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Cloudinary: %w", err)
	}

	return &MediaService{cld: cld}, nil
}

var allowedMediaTypes = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".webp": true,
	".heic": true,
}

// ValidateMediaFile checks the extension and size of an uploaded photo
func ValidateMediaFile(filename string, size, maxSize int64) error {
	ext := strings.ToLower(filepath.Ext(filename))
	if !allowedMediaTypes[ext] {
		return fmt.Errorf("invalid file type: %s. Allowed types: jpg, jpeg, png, gif, webp, heic", ext)
	}
	if size > maxSize {
		return fmt.Errorf("file too large: %d bytes (max %d bytes)", size, maxSize)
	}
	return nil
}

// Upload stores a photo for an update in groupID and returns its URL
func (s *MediaService) Upload(ctx context.Context, file multipart.File, filename string, groupID int64) (string, error) {
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}

	uploadParams := uploader.UploadParams{
		PublicID:       uuid.NewString(),
		Folder:         fmt.Sprintf("%s/group_%d", mediaFolder, groupID),
		ResourceType:   "image",
		Transformation: "c_limit,h_1600,w_1600/q_auto", // Cap dimensions, optimize quality
	}

	result, err := s.cld.Upload.Upload(ctx, file, uploadParams)
	if err != nil {
		return "", fmt.Errorf("failed to upload image %s: %w", filename, err)
	}
	if result.Error.Message != "" {
		return "", fmt.Errorf("failed to upload image %s: %s", filename, result.Error.Message)
	}

	return result.SecureURL, nil
}

// Delete removes the stored file behind a media URL
func (s *MediaService) Delete(ctx context.Context, mediaURL string) error {
	publicID, err := PublicIDFromURL(mediaURL)
	if err != nil {
		return err
	}

	result, err := s.cld.Upload.Destroy(ctx, uploader.DestroyParams{
		PublicID: publicID,
	})
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", publicID, err)
	}
	if result.Error.Message != "" {
		return fmt.Errorf("failed to delete %s: %s", publicID, result.Error.Message)
	}
	if result.Result != "ok" && result.Result != "not found" {
		return fmt.Errorf("failed to delete %s: %s", publicID, result.Result)
	}
	return nil
}

// PublicIDFromURL extracts the Cloudinary public id from a delivery URL such
// as https://res.cloudinary.com/demo/image/upload/v1712/cactus/updates/group_1/abc.jpg
func PublicIDFromURL(mediaURL string) (string, error) {
	u, err := url.Parse(mediaURL)
	if err != nil {
		return "", fmt.Errorf("invalid media url %q: %w", mediaURL, err)
	}

	_, rest, found := strings.Cut(u.Path, "/upload/")
	if !found || rest == "" {
		return "", fmt.Errorf("not a Cloudinary upload url: %q", mediaURL)
	}

	segments := strings.Split(rest, "/")
	// Everything after the version segment is the id
	for i, segment := range segments {
		if isVersion(segment) && i < len(segments)-1 {
			segments = segments[i+1:]
			break
		}
	}

	id := strings.Join(segments, "/")
	id = strings.TrimSuffix(id, path.Ext(id))
	if id == "" {
		return "", fmt.Errorf("not a Cloudinary upload url: %q", mediaURL)
	}
	return id, nil
}

func isVersion(segment string) bool {
	if len(segment) < 2 || segment[0] != 'v' {
		return false
	}
	for _, r := range segment[1:] {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
