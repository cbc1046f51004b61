package decision

import (
	"strings"

	"github.com/v0xg/browserpilot/internal/page"
)

// WebsiteType is the coarse page category given to the model as context.
// It never changes control flow except inside the fallback ladder.
type WebsiteType string

const (
	SearchResults   WebsiteType = "search_results"
	SearchEngine    WebsiteType = "search_engine"
	Ecommerce       WebsiteType = "ecommerce"
	SocialProfile   WebsiteType = "social_profile"
	FormApplication WebsiteType = "form_application"
	ContentSite     WebsiteType = "content_site"
	CompanySite     WebsiteType = "company_site"
	DatabaseSite    WebsiteType = "database_site"
	GeneralWebsite  WebsiteType = "general_website"
)

var (
	searchDomains  = []string{"google.com", "bing.com", "duckduckgo.com", "yahoo.com"}
	shopDomains    = []string{"amazon", "ebay", "shopify", "etsy", "alibaba"}
	shopTitleWords = []string{"shop", "store", "buy", "cart", "product"}
	socialDomains  = []string{"linkedin", "twitter", "facebook", "instagram", "github"}
	contentWords   = []string{"news", "article", "blog", "post"}
	companyWords   = []string{"company", "corp", "inc", "ltd", "about", "contact"}
	directoryWords = []string{"directory", "database", "catalog", "listing"}
)

// more inputs than this make a page a form
const formInputsAbove = 3

// DetectWebsiteType classifies a page from its URL, title and elements.
func DetectWebsiteType(url, title string, elements []page.Element) WebsiteType {
	u := strings.ToLower(url)
	t := strings.ToLower(title)

	if containsAny(u, searchDomains) {
		if strings.Contains(u, "/search") || anyElementText(elements, "search") {
			return SearchResults
		}
		return SearchEngine
	}
	if containsAny(u, shopDomains) || containsAny(t, shopTitleWords) {
		return Ecommerce
	}
	if containsAny(u, socialDomains) {
		return SocialProfile
	}

	inputs := 0
	for _, el := range elements {
		if el.Input {
			inputs++
		}
	}
	if inputs > formInputsAbove {
		return FormApplication
	}

	switch {
	case containsAny(t, contentWords):
		return ContentSite
	case containsAny(t, companyWords):
		return CompanySite
	case containsAny(u, directoryWords):
		return DatabaseSite
	}
	return GeneralWebsite
}

func anyElementText(elements []page.Element, word string) bool {
	for _, el := range elements {
		if strings.Contains(strings.ToLower(el.Text), word) {
			return true
		}
	}
	return false
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
