package service

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"os"
	"path/filepath"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"go-quest-session/pkg/apierror"
)

const (
	avatarSize = 256
	// maxAvatarPixels bounds the decoded source so a small compressed file
	// cannot expand into an enormous bitmap.
	maxAvatarPixels = 4096 * 4096
)

// AvatarStore normalises uploaded avatars to a square PNG on disk.
type AvatarStore struct {
	root    string
	maxSize int64
}

func NewAvatarStore(root string, maxSize int64) *AvatarStore {
	return &AvatarStore{root: root, maxSize: maxSize}
}

// Save decodes data, scales it to fit avatarSize and writes it as
// <root>/<userID>.png. The returned path is relative to the avatar root.
func (s *AvatarStore) Save(userID string, data []byte) (string, error) {
	if int64(len(data)) > s.maxSize {
		return "", apierror.BadRequest("Avatar is too large", fmt.Sprintf("max %d bytes", s.maxSize))
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return "", apierror.BadRequest("Avatar must be a PNG, JPEG, GIF or WebP image", "")
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || int64(cfg.Width)*int64(cfg.Height) > maxAvatarPixels {
		return "", apierror.BadRequest("Avatar dimensions are too large", fmt.Sprintf("max %d pixels", maxAvatarPixels))
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", apierror.BadRequest("Avatar must be a PNG, JPEG, GIF or WebP image", "")
	}

	dst := image.NewRGBA(fitRect(src.Bounds(), avatarSize))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return "", fmt.Errorf("encode avatar: %w", err)
	}

	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return "", fmt.Errorf("create avatar root: %w", err)
	}

	name := userID + ".png"
	if err := os.WriteFile(filepath.Join(s.root, name), buf.Bytes(), 0o644); err != nil {
		return "", fmt.Errorf("write avatar: %w", err)
	}

	return "avatars/" + name, nil
}

func fitRect(b image.Rectangle, limit int) image.Rectangle {
	w, h := b.Dx(), b.Dy()
	if w <= limit && h <= limit {
		return image.Rect(0, 0, w, h)
	}
	if w >= h {
		return image.Rect(0, 0, limit, max(1, h*limit/w))
	}
	return image.Rect(0, 0, max(1, w*limit/h), limit)
}
