package linkpreview

import (
	"io"
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

// Metadata is what a page says about itself.
type Metadata struct {
	Title       string
	Description string
	Image       string
}

// ParseHTML extracts OpenGraph and Twitter card metadata, falling back to
// <title> and <meta name="description">. Relative image URLs are resolved
// against base when it is non-nil.
func ParseHTML(r io.Reader, base *url.URL) (Metadata, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return Metadata{}, err
	}

	props := make(map[string]string)
	var title string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "meta":
				key := strings.ToLower(getAttr(n, "property"))
				if key == "" {
					key = strings.ToLower(getAttr(n, "name"))
				}
				content := strings.TrimSpace(getAttr(n, "content"))
				if key != "" && content != "" {
					if _, seen := props[key]; !seen {
						props[key] = content
					}
				}
			case "title":
				if title == "" && n.FirstChild != nil && n.FirstChild.Type == html.TextNode {
					title = strings.TrimSpace(n.FirstChild.Data)
				}
			case "body":
				// metadata lives in <head>
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	meta := Metadata{
		Title:       first(props["og:title"], props["twitter:title"], title),
		Description: first(props["og:description"], props["twitter:description"], props["description"]),
		Image:       first(props["og:image"], props["og:image:url"], props["twitter:image"]),
	}
	if meta.Image != "" && base != nil {
		if ref, err := url.Parse(meta.Image); err == nil {
			meta.Image = base.ResolveReference(ref).String()
		}
	}
	return meta, nil
}

func getAttr(n *html.Node, key string) string {
	for _, attr := range n.Attr {
		if strings.EqualFold(attr.Key, key) {
			return attr.Val
		}
	}
	return ""
}

func first(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
