package objectkey

import (
	"fmt"
	"strings"
)

// AssetLocation is the semantic category a stored path belongs to.
// It is always derived from a path prefix and never stored on its own.
type AssetLocation int

const (
	GenericUpload AssetLocation = iota
	DailySocial
	ProductGallery
	GoodsGallery
	ComponentGallery
	BlogAsset
	CustomerAsset
	AIGenerated
)

// Root is the prefix every resolved folder lives under.
const Root = "originals"

var locationTokens = map[AssetLocation]string{
	GenericUpload:    "uploaded",
	DailySocial:      "daily-kakao",
	ProductGallery:   "products",
	GoodsGallery:     "goods",
	ComponentGallery: "components",
	BlogAsset:        "blog",
	CustomerAsset:    "customers",
	AIGenerated:      "ai-generated",
}

// String returns the token used both in file names and in folder segments.
func (l AssetLocation) String() string {
	if token, ok := locationTokens[l]; ok {
		return token
	}
	return fmt.Sprintf("AssetLocation(%d)", int(l))
}

// IsGallery reports whether the location stores per-subject galleries.
func (l AssetLocation) IsGallery() bool {
	return l == ProductGallery || l == GoodsGallery || l == ComponentGallery
}

// ParseLocation maps a token produced by String back to its location.
func ParseLocation(token string) (AssetLocation, bool) {
	for loc, t := range locationTokens {
		if t == token {
			return loc, true
		}
	}
	return GenericUpload, false
}

// classifyRule ties a path marker to its location. Order matters: the first match wins.
type classifyRule struct {
	marker   string
	location AssetLocation
}

// classifyRules is the fixed priority list. Daily social content is checked first so that
// a kakao folder nested anywhere never classifies as a gallery.
var classifyRules = []classifyRule{
	{"daily-branding/kakao/", DailySocial},
	{Root + "/goods/", GoodsGallery},
	{Root + "/products/", ProductGallery},
	{Root + "/components/", ComponentGallery},
	{Root + "/blog/", BlogAsset},
	{Root + "/customers/", CustomerAsset},
	{Root + "/ai-generated/", AIGenerated},
}

// Classify maps a storage path (folder or full object key) to its AssetLocation.
// It is total: anything unrecognised is a GenericUpload.
func Classify(path string) AssetLocation {
	p := normalizePath(path)
	for _, rule := range classifyRules {
		if strings.Contains(p, rule.marker) {
			return rule.location
		}
	}
	return GenericUpload
}

// normalizePath trims slashes and ensures a trailing one so folder paths
// match the same markers as full object keys.
func normalizePath(path string) string {
	p := strings.ReplaceAll(path, "\\", "/")
	p = strings.Trim(p, "/")
	if p == "" {
		return ""
	}
	return p + "/"
}

// Folder returns the folder part of an object key, or "" if the key has none.
func Folder(objectKey string) string {
	key := strings.Trim(objectKey, "/")
	idx := strings.LastIndex(key, "/")
	if idx < 0 {
		return ""
	}
	return key[:idx]
}

// Base returns the file name part of an object key.
func Base(objectKey string) string {
	key := strings.Trim(objectKey, "/")
	return key[strings.LastIndex(key, "/")+1:]
}

// Join builds an object key from a folder and a file name.
func Join(folder, name string) string {
	folder = strings.Trim(folder, "/")
	if folder == "" {
		return name
	}
	return folder + "/" + name
}
