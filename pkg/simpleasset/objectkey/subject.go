package objectkey

import (
	"regexp"
	"strings"
)

var (
	gallerySubject  = regexp.MustCompile(`(?:^|/)(?:products|goods|components)/([^/]+)/`)
	customerSubject = regexp.MustCompile(`(?:^|/)customers/([^/]+)/`)
	trailingDigits  = regexp.MustCompile(`-\d+$`)
)

// TagSubjectPrefix marks a tag that names the asset's subject, e.g. "product-black-driver".
const TagSubjectPrefix = "product-"

// SubjectFromPath pulls a subject identifier out of a gallery or customer path.
func SubjectFromPath(path string) (string, bool) {
	p := normalizePath(path)
	if m := gallerySubject.FindStringSubmatch(p); m != nil {
		if s := Sanitize(m[1]); s != "" {
			return s, true
		}
	}
	if m := customerSubject.FindStringSubmatch(p); m != nil {
		if s := CustomerName(m[1]); s != "" {
			return s, true
		}
	}
	return "", false
}

// CustomerName drops the numeric disambiguation suffix from a customer folder name
// ("hong-gildong-0412" becomes "hong-gildong").
func CustomerName(folder string) string {
	return Sanitize(trailingDigits.ReplaceAllString(strings.TrimSpace(folder), ""))
}

// SubjectFromTags returns the first tag of the form "product-{subject}".
func SubjectFromTags(tags []string) (string, bool) {
	for _, tag := range tags {
		if !strings.HasPrefix(tag, TagSubjectPrefix) {
			continue
		}
		if s := Sanitize(strings.TrimPrefix(tag, TagSubjectPrefix)); s != "" {
			return s, true
		}
	}
	return "", false
}
