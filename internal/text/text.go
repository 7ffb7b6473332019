// Package text turns article bodies into word lists and shows terms in
// their surrounding context.
package text

import (
	"io"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/text/unicode/norm"
)

// decorations are stripped from both ends of every word.
const decorations = `+"'-.!?;:,|/“”()`

// Words splits every part on whitespace and returns the undecorated,
// NFC-normalized words. Words consisting only of decorations are dropped.
func Words(parts ...string) []string {
	var words []string
	for _, p := range parts {
		for _, w := range strings.Fields(p) {
			w = strings.Trim(w, decorations)
			if w == "" {
				continue
			}
			words = append(words, norm.NFC.String(w))
		}
	}
	return words
}

// Join returns the words of all parts separated by single spaces.
func Join(parts ...string) string {
	return strings.Join(Words(parts...), " ")
}

// HTMLWords extracts the visible words of an html document.
func HTMLWords(r io.Reader) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, err
	}
	doc.Find("script, style, noscript, template").Remove()

	var parts []string
	for _, n := range doc.Find("body").Nodes {
		collectText(n, &parts)
	}
	return Words(parts...), nil
}

// collectText gathers text nodes in document order so adjacent block
// elements do not run into each other.
func collectText(n *html.Node, parts *[]string) {
	if n.Type == html.TextNode {
		*parts = append(*parts, n.Data)
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, parts)
	}
}

// Match is the inclusive word range of one occurrence of a term.
type Match struct {
	Start int
	End   int
}

// Find returns every occurrence of term in words, ignoring case.
func Find(words []string, term string) []Match {
	needle := Words(term)
	if len(needle) == 0 {
		return nil
	}

	var matches []Match
	for i := 0; i+len(needle) <= len(words); i++ {
		found := true
		for k, w := range needle {
			if !strings.EqualFold(words[i+k], w) {
				found = false
				break
			}
		}
		if found {
			matches = append(matches, Match{Start: i, End: i + len(needle) - 1})
		}
	}
	return matches
}

// Window is a context line together with the column of the matched word.
type Window struct {
	Text   string
	Offset int
}

// Context returns words i..j with width words of context on both sides.
// The line is marked with "..." on each side where words were left out.
// Offset is the column, in characters, where words[i] starts.
func Context(words []string, i, j, width int) Window {
	if len(words) == 0 {
		return Window{}
	}
	if j < i {
		i, j = j, i
	}
	i = min(max(i, 0), len(words)-1)
	j = min(max(j, i), len(words)-1)

	i0 := max(i-width, 0)
	j0 := min(j+width+1, len(words))

	line := strings.Join(words[i0:j0], " ")
	offset := utf8.RuneCountInString(strings.Join(words[i0:i], " "))
	if i > i0 {
		offset++
	}
	if i0 > 0 {
		line = "... " + line
		offset += 4
	}
	if j0 < len(words) {
		line += " ..."
	}
	return Window{Text: line, Offset: offset}
}

// Align indents the windows so their matched words line up.
func Align(windows []Window) []string {
	indent := 0
	for _, w := range windows {
		indent = max(indent, w.Offset)
	}
	lines := make([]string, len(windows))
	for k, w := range windows {
		lines[k] = strings.Repeat(" ", indent-w.Offset) + w.Text
	}
	return lines
}
