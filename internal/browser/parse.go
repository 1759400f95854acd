package browser

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	errs "productsync/pkg/errors"
	"productsync/pkg/extract"
	"productsync/pkg/models"
)

// Product page selectors
const (
	TitleSelector        = "div.overflow-y-auto h1 span.H2-Semibold"
	DescriptionSelector  = "div.relative div.overflow-hidden.duration-300"
	MainImageSelector    = "div.items-center.overflow-x-scroll img.object-cover"
	VariantImageSelector = "div.overflow-x-auto.flex-wrap div.items-center.border-solid.cursor-pointer img"
)

const (
	securityCheckTitle = "Security Check"
	securityCheckText  = "Verify to continue"
)

// ParseProductPage reads the title, description and image references out of
// a rendered product page. Cleanup (upscaling, de-duplication) is left to
// extract.Product.
func ParseProductPage(pageURL, html string) (*extract.RawProduct, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, errs.NewExtractionError("failed to parse product page", err)
	}

	raw := &extract.RawProduct{
		PageURL:     pageURL,
		Title:       strings.TrimSpace(doc.Find(TitleSelector).First().Text()),
		Description: strings.TrimSpace(doc.Find(DescriptionSelector).First().Text()),
	}

	doc.Find(MainImageSelector).Each(func(_ int, img *goquery.Selection) {
		if src := imageSource(img); src != "" {
			raw.Images = append(raw.Images, extract.RawImage{URL: src, Kind: models.ImageMain})
		}
	})

	doc.Find(VariantImageSelector).Each(func(_ int, img *goquery.Selection) {
		src := imageSource(img)
		if src == "" {
			return
		}
		label, _ := img.Attr("title")
		raw.Images = append(raw.Images, extract.RawImage{
			URL:   src,
			Label: strings.TrimSpace(label),
			Kind:  models.ImageVariant,
		})
	})

	return raw, nil
}

// lazily loaded images keep the real source in data-src
func imageSource(img *goquery.Selection) string {
	if src := strings.TrimSpace(img.AttrOr("src", "")); src != "" && !strings.HasPrefix(src, "data:") {
		return src
	}
	return strings.TrimSpace(img.AttrOr("data-src", ""))
}

// IsEmpty reports whether nothing usable was found on the page
func IsEmpty(raw *extract.RawProduct) bool {
	return raw == nil || (raw.Title == "" && raw.Description == "" && len(raw.Images) == 0)
}

// IsSecurityCheck reports whether the page is an interstitial bot check
// rather than the requested product
func IsSecurityCheck(title, html string) bool {
	if strings.Contains(title, securityCheckTitle) {
		return true
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return strings.Contains(html, securityCheckText)
	}
	return strings.Contains(doc.Find("body").Text(), securityCheckText)
}
