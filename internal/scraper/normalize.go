package scraper

import (
	"crypto/md5"
	"encoding/hex"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// Candidate field names per attribute, tried in priority order. The two
// sources do not agree on a schema, so normalization probes each alias.
var (
	titleFields       = []string{"title", "jobTitle", "position", "name"}
	companyFields     = []string{"company", "companyName", "employer", "organization"}
	descriptionFields = []string{"description", "descriptionHtml", "jobDescription", "text", "content"}
	urlFields         = []string{"url", "link", "jobUrl", "applyUrl"}
	idFields          = []string{"id", "jobId", "externalId", "listingId"}
	postedAtFields    = []string{"postedAt", "datePosted", "publishedAt", "listedAt"}
)

// postedAtLayouts are the timestamp formats seen across sources.
var postedAtLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// Normalize merges a lightweight hit with its (possibly nil) details record
// into a RawJobData. Jobs with unobtainable descriptions are still returned;
// the analysis stage rejects them for being too short.
func Normalize(hit, details map[string]any) RawJobData {
	merged := make(map[string]any, len(hit)+len(details))
	for k, v := range hit {
		merged[k] = v
	}
	// Details win over list hits on field conflicts.
	for k, v := range details {
		merged[k] = v
	}

	job := RawJobData{
		Title:       pickString(merged, titleFields),
		Company:     pickString(merged, companyFields),
		URL:         pickString(merged, urlFields),
		Description: normalizeDescription(pickString(merged, descriptionFields)),
		PostedAt:    pickTime(merged, postedAtFields),
	}
	job.ExternalID = DeriveExternalID(pickString(merged, idFields), job.URL)

	if structured, ok := merged["structuredData"].(map[string]any); ok {
		job.Structured = structured
	}
	return job
}

// DeriveExternalID produces a stable per-posting identifier: the source's id
// field when present, else the last numeric segment of the URL path, else an
// md5 of the URL itself.
func DeriveExternalID(sourceID, jobURL string) string {
	if sourceID != "" {
		return sourceID
	}
	if segment := numericURLSegment(jobURL); segment != "" {
		return segment
	}
	if jobURL == "" {
		return ""
	}
	sum := md5.Sum([]byte(jobURL))
	return hex.EncodeToString(sum[:])[:16]
}

// numericURLSegment returns the last all-digit path segment of a URL, the
// convention most job boards use for listing ids.
func numericURLSegment(jobURL string) string {
	parsed, err := url.Parse(jobURL)
	if err != nil {
		return ""
	}

	segments := strings.Split(strings.Trim(parsed.Path, "/"), "/")
	for i := len(segments) - 1; i >= 0; i-- {
		if isDigits(segments[i]) {
			return segments[i]
		}
		// Ids embedded in slugs like "senior-engineer-4021337779".
		if idx := strings.LastIndex(segments[i], "-"); idx >= 0 && isDigits(segments[i][idx+1:]) {
			return segments[i][idx+1:]
		}
	}
	return ""
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// normalizeDescription flattens HTML descriptions to plain text. Sources
// that already return plain text pass through with whitespace collapsed.
func normalizeDescription(description string) string {
	trimmed := strings.TrimSpace(description)
	if trimmed == "" {
		return ""
	}

	if strings.Contains(trimmed, "<") && strings.Contains(trimmed, ">") {
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(trimmed))
		if err == nil {
			trimmed = doc.Text()
		}
	}

	return strings.TrimSpace(strings.Join(strings.Fields(trimmed), " "))
}

func pickString(record map[string]any, candidates []string) string {
	for _, field := range candidates {
		if value, ok := record[field].(string); ok {
			if trimmed := strings.TrimSpace(value); trimmed != "" {
				return trimmed
			}
		}
	}
	return ""
}

func pickTime(record map[string]any, candidates []string) *time.Time {
	raw := pickString(record, candidates)
	if raw == "" {
		return nil
	}
	for _, layout := range postedAtLayouts {
		if parsed, err := time.Parse(layout, raw); err == nil {
			return &parsed
		}
	}
	return nil
}
