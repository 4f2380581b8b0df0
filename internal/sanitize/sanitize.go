// Package sanitize strips active content from feed-supplied HTML before it is shown.
package sanitize

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// policy is safe for concurrent use once built.
var policy = newPolicy()

func newPolicy() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.AllowDataURIImages()
	p.RequireNoReferrerOnLinks(true)
	p.AddTargetBlankToFullyQualifiedLinks(true)
	return p
}

// HTML returns a copy of fragment reduced to user-generated-content markup:
// no scripts, frames, forms, event handlers, inline styles or URLs outside
// http, https and mailto. Inline raster images are kept. Links to other sites
// open in a new context without a referrer.
func HTML(fragment string) string {
	if strings.TrimSpace(fragment) == "" {
		return ""
	}
	return strings.TrimSpace(policy.Sanitize(fragment))
}
