// CLAUDE:SUMMARY Structure-aware input truncation: HTML to markdown, block split, density scoring, keep densest blocks in order.
package extract

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"golang.org/x/net/html"
)

// signalWords raise a block's score: address, contact and booth vocabulary.
var signalWords = []string{
	"street", "st.", "avenue", "ave", "road", "rd.", "blvd", "boulevard", "lane",
	"straße", "strasse", "str.", "platz", "rue", "via", "calle", "plaza",
	"address", "location", "located", "floor", "station", "mall",
	"phone", "tel", "call", "www.", "http", "@",
	"open", "hours", "daily", "mon", "tue", "wed", "thu", "fri", "sat", "sun",
	"$", "€", "£", "price", "strip", "cost",
	"booth", "photobooth", "photo-me", "photomaton", "auto-photo", "analog",
}

type block struct {
	idx   int
	text  string
	score float64
}

var mdConverter = converter.NewConverter(
	converter.WithPlugins(
		base.NewBasePlugin(),
		commonmark.NewCommonmarkPlugin(),
		table.NewTablePlugin(),
	),
)

// Prepare turns a page body into extraction input of at most maxChars bytes.
// HTML is converted to markdown first. When the result is still too long the
// densest blocks are kept in their original order. It reports whether
// content was dropped.
func Prepare(body, format string, maxChars int) (string, bool) {
	text := body
	if format == "html" || looksLikeHTML(body) {
		text = htmlToText(body)
	}
	text = strings.TrimSpace(text)
	if maxChars <= 0 || len(text) <= maxChars {
		return text, false
	}
	return truncateBlocks(text, maxChars), true
}

func looksLikeHTML(s string) bool {
	head := strings.ToLower(strings.TrimSpace(s))
	if len(head) > 512 {
		head = head[:512]
	}
	return strings.HasPrefix(head, "<!doctype html") || strings.HasPrefix(head, "<html") ||
		strings.Contains(head, "<body")
}

// htmlToText converts HTML to markdown, falling back to a plain text walk.
func htmlToText(body string) string {
	if md, err := mdConverter.ConvertString(body); err == nil && strings.TrimSpace(md) != "" {
		return md
	}
	doc, err := html.Parse(strings.NewReader(body))
	if err != nil {
		return body
	}
	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "noscript", "svg", "head":
				return
			}
		}
		if n.Type == html.TextNode {
			if t := strings.TrimSpace(n.Data); t != "" {
				b.WriteString(t)
				b.WriteByte(' ')
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode {
			switch n.Data {
			case "p", "div", "li", "tr", "br", "h1", "h2", "h3", "h4", "h5", "h6", "section", "article", "table":
				b.WriteString("\n\n")
			}
		}
	}
	walk(doc)
	return b.String()
}

func truncateBlocks(text string, maxChars int) string {
	parts := splitBlocks(text)
	blocks := make([]block, 0, len(parts))
	for i, p := range parts {
		blocks = append(blocks, block{idx: i, text: p, score: density(p)})
	}

	ranked := make([]block, len(blocks))
	copy(ranked, blocks)
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	const sep = "\n\n"
	keep := make(map[int]bool)
	used := 0
	for _, b := range ranked {
		cost := len(b.text)
		if used > 0 {
			cost += len(sep)
		}
		if used+cost > maxChars {
			continue
		}
		keep[b.idx] = true
		used += cost
	}

	if len(keep) == 0 {
		// Even the densest block is too long on its own.
		return cutRunes(ranked[0].text, maxChars)
	}

	var out []string
	for _, b := range blocks {
		if keep[b.idx] {
			out = append(out, b.text)
		}
	}
	return strings.Join(out, sep)
}

// splitBlocks splits markdown on blank lines and folds very short runs
// (headings, single list items) into the block that follows.
func splitBlocks(text string) []string {
	raw := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n")
	var out []string
	var pending string
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		if pending != "" {
			r = pending + "\n" + r
			pending = ""
		}
		if len(r) < 40 && strings.HasPrefix(r, "#") {
			pending = r
			continue
		}
		out = append(out, r)
	}
	if pending != "" {
		out = append(out, pending)
	}
	return out
}

// density scores how much location information a block carries per byte.
func density(s string) float64 {
	if s == "" {
		return 0
	}
	lower := strings.ToLower(s)
	digits := 0
	for _, r := range s {
		if unicode.IsDigit(r) {
			digits++
		}
	}
	hits := 0
	for _, w := range signalWords {
		hits += strings.Count(lower, w)
	}
	return (float64(digits) + 8*float64(hits)) / float64(len(s))
}

// cutRunes returns at most max bytes of s without splitting a rune.
func cutRunes(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
