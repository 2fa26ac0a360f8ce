package urlstrategy

import (
	"fmt"
	"strings"
)

// CDNStrategy serves objects from a base URL, e.g. a CDN or a public bucket endpoint.
type CDNStrategy struct {
	CDNBaseURL string // e.g., "https://cdn.example.com"
}

// NewCDNStrategy creates a new CDN URL strategy
func NewCDNStrategy(cdnBaseURL string) *CDNStrategy {
	// Ensure cdnBaseURL doesn't have trailing slash
	return &CDNStrategy{CDNBaseURL: strings.TrimSuffix(cdnBaseURL, "/")}
}

// PublicURL creates a direct CDN URL for an object key
func (s *CDNStrategy) PublicURL(objectKey string) (string, error) {
	if s.CDNBaseURL == "" {
		return "", fmt.Errorf("CDN base URL not configured")
	}
	if strings.Trim(objectKey, "/") == "" {
		return "", fmt.Errorf("object key is required")
	}
	return fmt.Sprintf("%s/%s", s.CDNBaseURL, escapeKey(objectKey)), nil
}

// ObjectKey strips the base URL from a reference issued by PublicURL.
func (s *CDNStrategy) ObjectKey(publicURL string) (string, bool) {
	if s.CDNBaseURL == "" {
		return "", false
	}
	rest, ok := strings.CutPrefix(publicURL, s.CDNBaseURL+"/")
	if !ok {
		return "", false
	}
	return unescapeKey(rest)
}

// BucketBaseURL returns the public base URL of an S3 bucket. A custom endpoint
// (MinIO and similar) uses path-style addressing; AWS uses the virtual-hosted form.
func BucketBaseURL(bucket, region, endpoint string, usePathStyle bool) string {
	if endpoint != "" {
		endpoint = strings.TrimSuffix(endpoint, "/")
		if usePathStyle {
			return fmt.Sprintf("%s/%s", endpoint, bucket)
		}
		scheme, host, found := strings.Cut(endpoint, "://")
		if !found {
			return fmt.Sprintf("https://%s.%s", bucket, endpoint)
		}
		return fmt.Sprintf("%s://%s.%s", scheme, bucket, host)
	}
	if region == "" {
		region = "us-east-1"
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com", bucket, region)
}
