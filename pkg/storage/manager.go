package storage

import (
	"encoding/csv"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"productsync/pkg/models"
)

const (
	TitleFile       = "product_title.txt"
	DescriptionFile = "product_description.txt"
	ImageIndexFile  = "image_urls.csv"

	maxLabelLength = 50
	defaultExt     = ".jpg"
	skuType        = "sku"
)

var (
	allowedExts  = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true}
	invalidChars = regexp.MustCompile(`[<>:"/\\|?*]`)
	unsafeDir    = regexp.MustCompile(`[^A-Za-z0-9._-]+`)
)

// Manager lays out per-product artifact folders under one base directory
type Manager struct {
	baseDir string
	mu      sync.Mutex
	saved   map[string]int
}

// NewManager creates a new storage manager
func NewManager(baseDir string) (*Manager, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	return &Manager{baseDir: baseDir, saved: make(map[string]int)}, nil
}

// BaseDir returns the output directory path
func (m *Manager) BaseDir() string {
	return m.baseDir
}

// ProductDir returns the folder for one product, creating it if needed
func (m *Manager) ProductDir(externalID string) (string, error) {
	name := unsafeDir.ReplaceAllString(strings.TrimSpace(externalID), "_")
	if name == "" || name == "." || name == ".." {
		return "", fmt.Errorf("invalid product id %q", externalID)
	}
	dir := filepath.Join(m.baseDir, name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create product directory: %w", err)
	}
	return dir, nil
}

// SaveText writes a text file into the product folder. Empty text is skipped.
func (m *Manager) SaveText(externalID, name, text string) error {
	if text == "" {
		return nil
	}
	dir, err := m.ProductDir(externalID)
	if err != nil {
		return err
	}
	return writeAtomic(filepath.Join(dir, name), strings.NewReader(text))
}

// SaveImageIndex writes image_urls.csv listing every image in order
func (m *Manager) SaveImageIndex(externalID string, images []models.Image) error {
	dir, err := m.ProductDir(externalID)
	if err != nil {
		return err
	}

	var sb strings.Builder
	w := csv.NewWriter(&sb)
	if err := w.Write([]string{"Index", "Image_URL", "Title", "Type"}); err != nil {
		return fmt.Errorf("failed to write image index header: %w", err)
	}
	for i, img := range images {
		row := []string{strconv.Itoa(i + 1), img.URL, imageTitle(img), diskType(img)}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("failed to write image index row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("failed to flush image index: %w", err)
	}

	return writeAtomic(filepath.Join(dir, ImageIndexFile), strings.NewReader(sb.String()))
}

// SaveImage stores image data under filename in the product folder
func (m *Manager) SaveImage(externalID, filename string, r io.Reader) error {
	dir, err := m.ProductDir(externalID)
	if err != nil {
		return err
	}
	if filename != filepath.Base(filename) {
		return fmt.Errorf("invalid image filename %q", filename)
	}
	if err := writeAtomic(filepath.Join(dir, filename), r); err != nil {
		return err
	}

	m.mu.Lock()
	m.saved[externalID]++
	m.mu.Unlock()
	return nil
}

// SavedCount returns how many images were stored for a product by this manager
func (m *Manager) SavedCount(externalID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saved[externalID]
}

// ImageFilename names the idx-th (0-based) image of a product:
// main_01.jpg, or sku_<label>_02.png for variants
func ImageFilename(idx int, img models.Image) string {
	n := fmt.Sprintf("%02d", idx+1)
	name := "main_" + n
	if imageKind(img) == models.ImageVariant {
		label := invalidChars.ReplaceAllString(strings.TrimSpace(img.Label), "_")
		if r := []rune(label); len(r) > maxLabelLength {
			label = string(r[:maxLabelLength])
		}
		if label == "" {
			label = skuType
		}
		name = skuType + "_" + label + "_" + n
	}
	return name + imageExt(img.URL)
}

// imageExt picks the extension from the URL path, defaulting to .jpg
func imageExt(raw string) string {
	p := raw
	if u, err := url.Parse(raw); err == nil {
		p = u.Path
	}
	ext := strings.ToLower(path.Ext(path.Base(p)))
	if !allowedExts[ext] {
		return defaultExt
	}
	return ext
}

func imageKind(img models.Image) models.ImageKind {
	if img.Kind == "" {
		return models.ImageMain
	}
	return img.Kind
}

// diskType is the Type written to image_urls.csv. Variants are stored as
// sku so download folders match those written by earlier tooling.
func diskType(img models.Image) string {
	if imageKind(img) == models.ImageVariant {
		return skuType
	}
	return string(models.ImageMain)
}

func imageTitle(img models.Image) string {
	if img.Label != "" {
		return img.Label
	}
	if imageKind(img) == models.ImageVariant {
		return "sku_image"
	}
	return "main_image"
}

// writeAtomic copies r into a temp file and renames it into place
func writeAtomic(filename string, r io.Reader) error {
	tempFile := filename + ".tmp"
	out, err := os.Create(tempFile)
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}

	_, err = io.Copy(out, r)
	closeErr := out.Close()

	if err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to write %s: %w", filepath.Base(filename), err)
	}
	if closeErr != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to close file: %w", closeErr)
	}

	if err := os.Rename(tempFile, filename); err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to rename temporary file: %w", err)
	}
	return nil
}
