package trust

// DefaultDomains is the built-in page whitelist. Pages on these domains (or
// their subdomains) are reported with parent_domain_whitelisted = 1.
var DefaultDomains = []string{
	// search
	"google.com", "google.co.in", "google.co.uk", "bing.com", "duckduckgo.com", "yahoo.com",
	// social
	"facebook.com", "twitter.com", "x.com", "instagram.com", "linkedin.com", "reddit.com",
	// video
	"youtube.com", "vimeo.com", "twitch.tv", "dailymotion.com",
	// commerce
	"amazon.com", "amazon.in", "ebay.com", "shopify.com", "etsy.com",
	// news
	"nytimes.com", "bbc.com", "cnn.com", "theguardian.com",
	// development
	"github.com", "stackoverflow.com", "medium.com", "dev.to",
	// productivity
	"gmail.com", "outlook.com", "office.com", "docs.google.com", "drive.google.com",
	"jobsiri.in",
}

// EmbedProviders lists origins whose iframes are routinely embedded by
// legitimate pages. Users cannot extend it.
var EmbedProviders = []string{
	// video
	"youtube.com", "youtube-nocookie.com", "youtu.be", "vimeo.com", "dailymotion.com", "twitch.tv",
	// payment
	"paypal.com", "stripe.com", "shopify.com", "checkout.shopify.com",
	// social
	"facebook.com", "fb.com", "twitter.com", "platform.twitter.com", "instagram.com", "linkedin.com",
	// analytics and ads
	"google.com", "doubleclick.net", "googlesyndication.com", "googletagmanager.com",
	"facebook.net", "google-analytics.com",
	// maps
	"openstreetmap.org", "mapbox.com",
}
