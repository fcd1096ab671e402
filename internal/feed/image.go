package feed

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
)

// ExtractImage returns the entry's image URL, checking in order: media:content
// attachments, enclosures, then the first <img src> in the description or
// content. It returns "" when none is present.
func ExtractImage(item *gofeed.Item) string {
	if item == nil {
		return ""
	}
	if u := mediaContentURL(item); u != "" {
		return u
	}
	for _, enc := range item.Enclosures {
		if enc == nil {
			continue
		}
		if u := strings.TrimSpace(enc.URL); u != "" {
			return u
		}
	}
	for _, fragment := range []string{item.Description, item.Content} {
		if u := firstImgSrc(fragment); u != "" {
			return u
		}
	}
	return ""
}

func mediaContentURL(item *gofeed.Item) string {
	media, ok := item.Extensions["media"]
	if !ok {
		return ""
	}
	for _, content := range media["content"] {
		if u := strings.TrimSpace(content.Attrs["url"]); u != "" {
			return u
		}
	}
	// media:group wraps alternate renditions of the same attachment.
	for _, group := range media["group"] {
		for _, content := range group.Children["content"] {
			if u := strings.TrimSpace(content.Attrs["url"]); u != "" {
				return u
			}
		}
	}
	return ""
}

// firstImgSrc finds the first <img> with a non-empty src. The HTML tokenizer
// lowercases tag and attribute names, so IMG/SRC and attribute order do not
// matter.
func firstImgSrc(fragment string) string {
	if !strings.Contains(strings.ToLower(fragment), "<img") {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return ""
	}
	var src string
	doc.Find("img").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		if v, ok := sel.Attr("src"); ok && strings.TrimSpace(v) != "" {
			src = strings.TrimSpace(v)
			return false
		}
		return true
	})
	return src
}
