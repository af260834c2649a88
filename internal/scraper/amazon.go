package scraper

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/gocolly/colly/v2"

	"github.com/deltaguita/market-tracker/internal/models"
)

// asinPatterns covers the Amazon URL shapes that carry an ASIN.
var asinPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)/dp/([A-Z0-9]{10})`),
	regexp.MustCompile(`(?i)/gp/product/([A-Z0-9]{10})`),
	regexp.MustCompile(`(?i)/product/([A-Z0-9]{10})`),
	regexp.MustCompile(`(?i)/ASIN/([A-Z0-9]{10})`),
	regexp.MustCompile(`(?i)asin=([A-Z0-9]{10})`),
}

var usdPricePattern = regexp.MustCompile(`(\d+\.?\d*)`)

// addonSections are recommendation and sponsored-product containers whose
// prices must never be mistaken for the main product's.
const addonSections = "#similarities_feature_div, #sims-fbt, #sp_detail, #anonCarousel, " +
	"#brand-snapshot-widget, #HLCXComparisonWidget_feature_div, " +
	"#sims-consolidated-1_feature_div, #sims-consolidated-2_feature_div, #rhf, " +
	"#day0-sims-feature, #p13n-asin-recommendations, #sponsoredProducts2_feature_div"

// inAddonSection reports whether the element sits inside a recommendation or
// sponsored-product block.
func inAddonSection(e *colly.HTMLElement) bool {
	return e.DOM.Closest(addonSections).Length() > 0
}

// variantIDCleaner strips everything but letters, digits and spaces from a
// variant name before it becomes part of a product id.
var variantIDCleaner = regexp.MustCompile(`[^a-z0-9\s]`)

// AmazonScraper scrapes a single Amazon US product page, including its
// color/size/style variants when the page lists them.
type AmazonScraper struct {
	cfg Config
}

// NewAmazonScraper builds a scraper for Amazon US product pages.
func NewAmazonScraper(cfg Config) *AmazonScraper {
	return &AmazonScraper{cfg: cfg}
}

// Source implements Scraper.
func (s *AmazonScraper) Source() models.Source {
	return models.SourceAmazonUS
}

// ProductID extracts the ASIN from an Amazon product URL.
func (s *AmazonScraper) ProductID(url string) string {
	for _, pattern := range asinPatterns {
		if m := pattern.FindStringSubmatch(url); m != nil {
			return strings.ToUpper(m[1])
		}
	}
	return ""
}

// Scrape visits an Amazon product page and returns one observation per
// variant, or a single observation for the main product when the page has no
// variant selector.
func (s *AmazonScraper) Scrape(ctx context.Context, url string) ([]models.Observation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	asin := s.ProductID(url)
	if asin == "" {
		return nil, fmt.Errorf("no ASIN in url %q", url)
	}

	collector := newCollector(s.cfg, "www.amazon.com", "amazon.com")

	var (
		title    string
		priceUSD *float64
		imageURL string
		variants []models.Observation
	)

	collector.OnHTML("#productTitle", func(e *colly.HTMLElement) {
		if title == "" {
			title = strings.TrimSpace(e.Text)
		}
	})

	collector.OnHTML(".a-price .a-offscreen", func(e *colly.HTMLElement) {
		if priceUSD != nil || inAddonSection(e) {
			return
		}
		if p, ok := ParseUSDPrice(e.Text); ok {
			priceUSD = &p
		}
	})

	collector.OnHTML("#landingImage, #imgTagWrapperId img", func(e *colly.HTMLElement) {
		if imageURL != "" {
			return
		}
		if src := e.Attr("data-old-hires"); src != "" {
			imageURL = src
		} else if src := e.Attr("src"); src != "" && !strings.HasPrefix(src, "data:") {
			imageURL = src
		}
	})

	variantSelectors := "#variation_color_name li, #variation_size_name li, #variation_style_name li"
	collector.OnHTML(variantSelectors, func(e *colly.HTMLElement) {
		if inAddonSection(e) {
			return
		}
		if obs, ok := s.extractVariant(e, asin); ok {
			variants = append(variants, obs)
		}
	})

	if err := collector.Visit(url); err != nil {
		return nil, fmt.Errorf("failed to scrape amazon page: %w", err)
	}
	collector.Wait()

	if len(variants) > 0 {
		// Variant rows seldom repeat the title and image; fill them in from
		// the main product.
		for i := range variants {
			if title != "" {
				variants[i].Title = fmt.Sprintf("%s - %s", title, variants[i].VariantName)
			}
			if variants[i].ImageURL == "" {
				variants[i].ImageURL = imageURL
			}
			if variants[i].PriceUSD == nil {
				variants[i].PriceUSD = priceUSD
			}
		}
		return variants, nil
	}

	if title == "" {
		return nil, nil
	}
	return []models.Observation{{
		ID:         asin,
		Title:      title,
		PriceUSD:   priceUSD,
		ImageURL:   imageURL,
		ProductURL: fmt.Sprintf("https://www.amazon.com/dp/%s", asin),
	}}, nil
}

func (s *AmazonScraper) extractVariant(e *colly.HTMLElement, baseASIN string) (models.Observation, bool) {
	name := variantName(e)
	if name == "" {
		return models.Observation{}, false
	}

	asin := baseASIN
	if a := e.Attr("data-defaultasin"); len(a) == 10 {
		asin = strings.ToUpper(a)
	} else if dpURL := e.Attr("data-dp-url"); dpURL != "" {
		if a := s.ProductID(dpURL); a != "" {
			asin = a
		}
	}

	var price *float64
	if p, ok := ParseUSDPrice(e.Text); ok {
		price = &p
	}

	imageURL := e.ChildAttr("img", "src")
	if strings.HasPrefix(imageURL, "data:") {
		imageURL = ""
	}

	return models.Observation{
		ID:          fmt.Sprintf("%s_%s", asin, normalizeVariantID(name)),
		Title:       name,
		PriceUSD:    price,
		ImageURL:    imageURL,
		ProductURL:  fmt.Sprintf("https://www.amazon.com/dp/%s", asin),
		VariantName: name,
	}, true
}

func variantName(e *colly.HTMLElement) string {
	if title := strings.TrimSpace(e.Attr("title")); title != "" {
		return strings.TrimSpace(strings.TrimPrefix(title, "Click to select "))
	}
	if label := strings.TrimSpace(e.Attr("aria-label")); label != "" {
		return label
	}
	if alt := strings.TrimSpace(e.ChildAttr("img", "alt")); alt != "" {
		return alt
	}
	if text := strings.TrimSpace(e.Text); text != "" && len(text) < 100 {
		return text
	}
	return ""
}

// normalizeVariantID turns a variant name into an id-safe suffix.
func normalizeVariantID(name string) string {
	id := strings.ToLower(name)
	id = variantIDCleaner.ReplaceAllString(id, "")
	id = strings.Join(strings.Fields(id), "_")
	if len(id) > 50 {
		id = id[:50]
	}
	if id == "" {
		return "default"
	}
	return id
}

// ParseUSDPrice parses price text such as "$19.99", "$1,234.56" or
// "USD 19.99" into a dollar amount.
func ParseUSDPrice(text string) (float64, bool) {
	cleaned := strings.NewReplacer("$", "", "USD", "", ",", "").Replace(text)
	m := usdPricePattern.FindStringSubmatch(strings.TrimSpace(cleaned))
	if m == nil {
		return 0, false
	}
	price, err := strconv.ParseFloat(m[1], 64)
	if err != nil || price <= 0 {
		return 0, false
	}
	return price, true
}
