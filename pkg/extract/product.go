package extract

import (
	"net/url"
	"strings"

	errs "productsync/pkg/errors"
	"productsync/pkg/models"
)

// RawProduct is what a scraper reads off one product page, before cleanup
type RawProduct struct {
	ExternalID  string
	PageURL     string
	Title       string
	Description string
	Images      []RawImage
}

// RawImage is an image reference as found on the page
type RawImage struct {
	URL   string
	Label string
	Kind  models.ImageKind
}

const (
	thumbnailSize = "200:200"
	fullSize      = "800:800"
)

// Product normalizes a raw scrape into an ExtractedProduct. It never
// modifies raw and returns equal values for equal input.
func Product(raw *RawProduct) (*models.ExtractedProduct, error) {
	if raw == nil {
		return nil, errs.NewExtractionError("empty scrape payload", nil)
	}
	id := strings.TrimSpace(raw.ExternalID)
	if id == "" {
		return nil, errs.NewExtractionError("scrape payload has no product id", nil)
	}

	return &models.ExtractedProduct{
		ExternalID:  id,
		Title:       collapseSpace(raw.Title),
		Description: strings.TrimSpace(raw.Description),
		Images:      NormalizeImages(raw.PageURL, raw.Images),
	}, nil
}

// NormalizeImages resolves, upscales, filters and de-duplicates image
// references, keeping first-seen order
func NormalizeImages(pageURL string, images []RawImage) []models.Image {
	base, _ := url.Parse(strings.TrimSpace(pageURL))

	out := make([]models.Image, 0, len(images))
	seen := make(map[string]bool, len(images))
	for _, img := range images {
		kind := img.Kind
		if kind == "" {
			kind = models.ImageMain
		}

		u := resolve(base, img.URL)
		if u == "" {
			continue
		}
		if kind == models.ImageVariant {
			u = strings.ReplaceAll(u, thumbnailSize, fullSize)
		}
		if seen[u] {
			continue
		}
		seen[u] = true

		out = append(out, models.Image{
			URL:   u,
			Label: strings.TrimSpace(img.Label),
			Kind:  kind,
		})
	}
	return out
}

// resolve returns an absolute http(s) URL, or "" if ref cannot become one
func resolve(base *url.URL, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" || strings.HasPrefix(ref, "data:") {
		return ""
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	if !u.IsAbs() {
		if base == nil || !base.IsAbs() {
			return ""
		}
		u = base.ResolveReference(u)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	return u.String()
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// ImagesFromValue turns a decoded `img` value into image references. The
// value may be a single URL, a list of URLs, or objects carrying url or
// url_list.
func ImagesFromValue(v interface{}, kind models.ImageKind) []RawImage {
	var out []RawImage
	switch val := v.(type) {
	case string:
		if strings.TrimSpace(val) != "" {
			out = append(out, RawImage{URL: val, Kind: kind})
		}
	case []interface{}:
		for _, elem := range val {
			out = append(out, ImagesFromValue(elem, kind)...)
		}
	case map[string]interface{}:
		label, _ := val["title"].(string)
		if u, ok := val["url"].(string); ok && u != "" {
			out = append(out, RawImage{URL: u, Label: label, Kind: kind})
			break
		}
		if list, ok := val["url_list"].([]interface{}); ok && len(list) > 0 {
			if u, ok := list[0].(string); ok {
				out = append(out, RawImage{URL: u, Label: label, Kind: kind})
			}
		}
	}
	return out
}
