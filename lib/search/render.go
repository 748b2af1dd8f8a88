package search

import (
	"bytes"
	"net/url"
	"sort"
	"strings"
	"text/template"
	"time"

	"github.com/majestrate/swarmwatch/lib/common"
	"github.com/microcosm-cc/bluemonday"
)

var xmlEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
var attrEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;", "'", "&apos;")

// escapeText escapes & < > for inclusion in atom and mpeg7 documents
func escapeText(s string) string {
	return xmlEscaper.Replace(s)
}

// escapeAttr also escapes quotes, for quoted attribute values
func escapeAttr(s string) string {
	return attrEscaper.Replace(s)
}

var strict = bluemonday.StrictPolicy()

// summaryText strips markup from a remote or feed supplied summary
func summaryText(s string) string {
	return strings.TrimSpace(strict.Sanitize(s))
}

// MagnetURI builds a magnet link with the name utf-8 percent encoded
func MagnetURI(ih common.Infohash, name string) string {
	u := "magnet:?xt=urn:btih:" + ih.Hex()
	if name != "" {
		u += "&dn=" + url.QueryEscape(name)
	}
	return u
}

var funcs = template.FuncMap{
	"esc":     escapeText,
	"attr":    escapeAttr,
	"summary": func(s string) string { return escapeText(summaryText(s)) },
	"magnet": func(h Hit) string {
		return escapeAttr(MagnetURI(h.Infohash, h.Title))
	},
	"rfc3339": func(t time.Time) string { return t.UTC().Format(time.RFC3339) },
}

var atomTemplate = template.Must(template.New("atom").Funcs(funcs).Parse(`<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
<title>Hits for {{esc .Query}}</title>
<id>urn:swarmwatch:hits:{{esc .ID}}</id>
<link rel="self" href="{{attr .Base}}/hits/{{attr .ID}}"/>
<updated>{{rfc3339 .Updated}}</updated>
{{- range .Hits}}
<entry>
<title>{{esc .Title}}</title>
<id>urn:btih:{{.Infohash.Hex}}</id>
<updated>{{rfc3339 $.Updated}}</updated>
<summary>{{summary .Summary}}</summary>
<link rel="alternate" type="application/xml" href="{{attr $.Base}}/hits/{{attr $.ID}}/{{.Infohash.Hex}}.xml"/>
{{- if eq .MetaType 0}}
<link rel="enclosure" type="application/x-bittorrent" href="{{attr $.Base}}/hits/{{attr $.ID}}/{{.Infohash.Hex}}.tstream"/>
{{- else if .URL}}
<link rel="enclosure" href="{{attr .URL}}"/>
{{- end}}
<link rel="related" href="{{magnet .}}"/>
</entry>
{{- end}}
</feed>
`))

var mpeg7Template = template.Must(template.New("mpeg7").Funcs(funcs).Parse(`<?xml version="1.0" encoding="UTF-8"?>
<Mpeg7 xmlns="urn:mpeg:mpeg7:schema:2001" xmlns:p2pnext="urn:p2p-next:metadata:2008">
<Description>
<MultimediaContent>
<Video>
<CreationInformation>
<Creation>
<Title type="main">{{esc .Title}}</Title>
<Abstract><FreeTextAnnotation>{{summary .Summary}}</FreeTextAnnotation></Abstract>
</Creation>
</CreationInformation>
<MediaInformation>
<MediaProfile>
<MediaFormat><FileSize>{{.Length}}</FileSize></MediaFormat>
</MediaProfile>
</MediaInformation>
<p2pnext:Torrent infohash="{{.Infohash.Hex}}" source="{{.Source}}" files="{{.NumFiles}}" seeders="{{.Seeders}}" leechers="{{.Leechers}}"/>
</Video>
</MultimediaContent>
</Description>
</Mpeg7>
`))

type atomContext struct {
	Base    string
	ID      string
	Query   string
	Updated time.Time
	Hits    []Hit
}

// sortHits orders hits by seeders then title
func sortHits(hits map[common.Infohash]Hit) []Hit {
	l := make([]Hit, 0, len(hits))
	for _, h := range hits {
		l = append(l, h)
	}
	sort.Slice(l, func(i, j int) bool {
		if l[i].Seeders != l[j].Seeders {
			return l[i].Seeders > l[j].Seeders
		}
		return l[i].Title < l[j].Title
	})
	return l
}

func renderAtom(base, id, query string, updated time.Time, hits map[common.Infohash]Hit) ([]byte, error) {
	var buf bytes.Buffer
	err := atomTemplate.Execute(&buf, atomContext{Base: base, ID: id, Query: query, Updated: updated, Hits: sortHits(hits)})
	return buf.Bytes(), err
}

func renderMPEG7(h Hit) ([]byte, error) {
	var buf bytes.Buffer
	err := mpeg7Template.Execute(&buf, h)
	return buf.Bytes(), err
}
