// Package filemgr stores uploaded product images on local disk together with
// a JPEG thumbnail.
package filemgr

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/png"
	"io"
	"log"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	_ "golang.org/x/image/webp"
)

type EntityType string

const (
	EntityProduct EntityType = "product"

	MaxUploadSize  = 10 << 20
	MaxImageSide   = 1200
	ThumbnailWidth = 200
)

var (
	ErrInvalidMIME  = errors.New("invalid MIME type")
	ErrFileTooLarge = errors.New("file size exceeds limit")

	allowedMIMEs = []string{"image/jpeg", "image/png", "image/gif", "image/webp"}

	subfolders = map[EntityType]string{
		EntityProduct: "products",
	}
)

// Store writes files under Root and exposes them below URLPrefix.
type Store struct {
	Root      string
	URLPrefix string
}

func NewStore(root, urlPrefix string) *Store {
	return &Store{Root: root, URLPrefix: strings.TrimRight(urlPrefix, "/")}
}

// Saved holds the public paths of a stored image.
type Saved struct {
	Image     string
	Thumbnail string
}

func (s *Store) dir(entity EntityType, thumb bool) string {
	d := filepath.Join(s.Root, subfolders[entity])
	if thumb {
		d = filepath.Join(d, "thumb")
	}
	return d
}

func (s *Store) url(entity EntityType, thumb bool, name string) string {
	p := path.Join(s.URLPrefix, subfolders[entity])
	if thumb {
		p = path.Join(p, "thumb")
	}
	return path.Join(p, name)
}

// SaveImage validates, downsizes and stores an image. The original is bounded
// to MaxImageSide on its longest edge; the thumbnail is ThumbnailWidth wide.
func (s *Store) SaveImage(r io.Reader, entity EntityType) (*Saved, error) {
	buf, err := io.ReadAll(io.LimitReader(r, MaxUploadSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	if len(buf) > MaxUploadSize {
		return nil, ErrFileTooLarge
	}
	if mimeType := http.DetectContentType(buf); !slices.Contains(allowedMIMEs, mimeType) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidMIME, mimeType)
	}

	img, err := imaging.Decode(bytes.NewReader(buf), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	if b := img.Bounds(); b.Dx() > MaxImageSide || b.Dy() > MaxImageSide {
		img = imaging.Fit(img, MaxImageSide, MaxImageSide, imaging.Lanczos)
	}

	name := uuid.New().String() + ".jpg"
	if err := writeJPEG(filepath.Join(s.dir(entity, false), name), img); err != nil {
		return nil, err
	}
	thumb := imaging.Resize(img, ThumbnailWidth, 0, imaging.Lanczos)
	if err := writeJPEG(filepath.Join(s.dir(entity, true), name), thumb); err != nil {
		s.removeFile(filepath.Join(s.dir(entity, false), name))
		return nil, err
	}

	return &Saved{
		Image:     s.url(entity, false, name),
		Thumbnail: s.url(entity, true, name),
	}, nil
}

func writeJPEG(dst string, img image.Image) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", filepath.Dir(dst), err)
	}
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	defer out.Close()
	if err := imaging.Encode(out, img, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		return fmt.Errorf("encode %s: %w", dst, err)
	}
	return nil
}

// Remove deletes files previously returned by SaveImage. Paths outside
// URLPrefix (external URLs, placeholders) are ignored.
func (s *Store) Remove(publicPaths ...string) {
	for _, p := range publicPaths {
		rel, ok := strings.CutPrefix(p, s.URLPrefix+"/")
		if p == "" || !ok {
			continue
		}
		clean := filepath.Clean(filepath.FromSlash(rel))
		if strings.HasPrefix(clean, "..") {
			continue
		}
		s.removeFile(filepath.Join(s.Root, clean))
	}
}

func (s *Store) removeFile(p string) {
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("filemgr: remove %s: %v", p, err)
	}
}
