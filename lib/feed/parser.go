package feed

import (
	"bytes"
	"encoding/xml"
	"errors"
	"io"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var ErrNotAFeed = errors.New("document is not an rss, rdf or atom feed")

// Item is one entry of a feed with every link that might be an enclosure
type Item struct {
	Title       string
	Description string
	Links       []string
	Thumbnail   string
}

type Feed struct {
	Title string
	Items []Item
}

// itemBuilder collects one item while walking tokens
type itemBuilder struct {
	item  Item
	seen  map[string]bool
	field string
	text  strings.Builder
}

func (b *itemBuilder) addLink(l string) {
	l = strings.TrimSpace(l)
	if l == "" || b.seen[l] {
		return
	}
	b.seen[l] = true
	b.item.Links = append(b.item.Links, l)
}

func (b *itemBuilder) finish() Item {
	for _, l := range htmlTorrentLinks(b.item.Description) {
		b.addLink(l)
	}
	return b.item
}

// Parse reads an RSS 2.0, RDF or Atom document
func Parse(r io.Reader) (f *Feed, err error) {
	d := xml.NewDecoder(r)
	d.Strict = false
	d.AutoClose = xml.HTMLAutoClose
	d.Entity = xml.HTMLEntity
	d.CharsetReader = charsetReader
	var cur *itemBuilder
	var root string
	var feedTitle strings.Builder
	inFeedTitle := false
	f = new(Feed)
	for {
		var tok xml.Token
		tok, err = d.Token()
		if err == io.EOF {
			err = nil
			break
		}
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			name := strings.ToLower(t.Name.Local)
			if root == "" {
				root = name
				if root != "rss" && root != "rdf" && root != "feed" {
					return nil, ErrNotAFeed
				}
				continue
			}
			if name == "item" || name == "entry" {
				cur = &itemBuilder{seen: make(map[string]bool)}
				continue
			}
			if cur == nil {
				inFeedTitle = name == "title" && len(f.Items) == 0 && feedTitle.Len() == 0
				continue
			}
			cur.startElement(t, name)
		case xml.CharData:
			if cur != nil && cur.field != "" {
				cur.text.Write(t)
			} else if inFeedTitle {
				feedTitle.Write(t)
			}
		case xml.EndElement:
			name := strings.ToLower(t.Name.Local)
			if cur == nil {
				inFeedTitle = false
				continue
			}
			if name == "item" || name == "entry" {
				f.Items = append(f.Items, cur.finish())
				cur = nil
				continue
			}
			if name == cur.field {
				cur.endField()
			}
		}
	}
	if root == "" {
		return nil, ErrNotAFeed
	}
	f.Title = strings.TrimSpace(feedTitle.String())
	return
}

func (b *itemBuilder) startElement(t xml.StartElement, name string) {
	space := strings.ToLower(t.Name.Space)
	isMedia := strings.Contains(space, "search.yahoo.com/mrss") || space == "media"
	for _, a := range t.Attr {
		switch strings.ToLower(a.Name.Local) {
		case "href":
			if name == "link" || name == "a" {
				b.addLink(a.Value)
			}
		case "url", "src":
			if isMedia && name == "thumbnail" {
				if b.item.Thumbnail == "" {
					b.item.Thumbnail = strings.TrimSpace(a.Value)
				}
			}
			b.addLink(a.Value)
		}
	}
	switch name {
	case "title", "link", "description", "summary", "content", "encoded":
		if b.field == "" {
			b.field = name
			b.text.Reset()
		}
	}
}

func (b *itemBuilder) endField() {
	val := strings.TrimSpace(b.text.String())
	switch b.field {
	case "title":
		if b.item.Title == "" {
			b.item.Title = val
		}
	case "link":
		b.addLink(val)
	default:
		if b.item.Description == "" {
			b.item.Description = val
		}
	}
	b.field = ""
	b.text.Reset()
}

// htmlTorrentLinks finds a@href and img@src in an html fragment that point
// at .torrent files
func htmlTorrentLinks(fragment string) (links []string) {
	if !strings.Contains(fragment, "<") {
		return
	}
	nodes, err := html.ParseFragment(strings.NewReader(fragment), &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body})
	if err != nil {
		return
	}
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			var key string
			switch n.DataAtom {
			case atom.A:
				key = "href"
			case atom.Img:
				key = "src"
			}
			for _, a := range n.Attr {
				if key != "" && a.Key == key && isTorrentLink(a.Val) {
					links = append(links, a.Val)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range nodes {
		walk(n)
	}
	return
}

func isTorrentLink(l string) bool {
	l = strings.ToLower(l)
	if idx := strings.IndexAny(l, "?#;"); idx >= 0 {
		l = l[:idx]
	}
	return strings.HasSuffix(l, ".torrent")
}

// charsetReader accepts utf-8 and transcodes latin1, anything else is read
// as is
func charsetReader(label string, input io.Reader) (io.Reader, error) {
	switch strings.ToLower(label) {
	case "iso-8859-1", "latin1", "latin-1", "windows-1252":
		data, err := io.ReadAll(input)
		if err != nil {
			return nil, err
		}
		var buf bytes.Buffer
		for _, c := range data {
			buf.WriteRune(rune(c))
		}
		return &buf, nil
	}
	return input, nil
}
