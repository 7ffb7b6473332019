package text

import (
	"strings"
	"testing"
)

var numbers = strings.Fields("null eins zwei drei vier fünf sechs sieben acht neun zehn elf zwölf dreiz vierz fünfz")

func TestWordsRemovesDecorations(t *testing.T) {
	cases := []struct {
		in   []string
		want string
	}{
		{[]string{"+A /B", "X-", "U. V."}, "A B X U V"},
		{[]string{` "Aa. B" `}, "Aa B"},
		{[]string{` "Aa. B" ...`}, "Aa B"},
		{[]string{` “Aa. B” ...`}, "Aa B"},
		{[]string{` 'Aa. B' ...`}, "Aa B"},
		{[]string{"A", "B", " ", "C", "D"}, "A B C D"},
		{[]string{"A", "B", " ...", "C", "D"}, "A B C D"},
	}
	for _, c := range cases {
		if got := Join(c.in...); got != c.want {
			t.Errorf("Join(%q): expected %q, got %q", c.in, c.want, got)
		}
	}
}

func TestWordsNormalizes(t *testing.T) {
	words := Words("Gru\u0308\u00dfe")
	if len(words) != 1 || words[0] != "Gr\u00fc\u00dfe" {
		t.Errorf("expected NFC form, got %q", words)
	}
}

func checkContext(t *testing.T, i, j, width int, wantText string, wantOffset int) {
	t.Helper()
	w := Context(numbers, i, j, width)
	if w.Text != wantText {
		t.Errorf("Context(%d, %d, %d): expected %q, got %q", i, j, width, wantText, w.Text)
	}
	if w.Offset != wantOffset {
		t.Errorf("Context(%d, %d, %d): expected offset %d, got %d", i, j, width, wantOffset, w.Offset)
	}
	first := min(i, j)
	first = min(max(first, 0), len(numbers)-1)
	runes := []rune(w.Text)
	if w.Offset >= len(runes) || runes[w.Offset] != []rune(numbers[first])[0] {
		t.Errorf("Context(%d, %d, %d): offset does not point at %q", i, j, width, numbers[first])
	}
}

func TestContext(t *testing.T) {
	checkContext(t, 1, 2, 1, "null eins zwei drei ...", 5)
	checkContext(t, 1, 2, 3, "null eins zwei drei vier fünf ...", 5)
	checkContext(t, 13, 14, 3, "... zehn elf zwölf dreiz vierz fünfz", 19)
	checkContext(t, 0, 1, 3, "null eins zwei drei vier ...", 0)
	checkContext(t, 14, 15, 3, "... elf zwölf dreiz vierz fünfz", 20)
	checkContext(t, 7, 8, 20, strings.Join(numbers, " "), 36)
	checkContext(t, 7, 7, 2, "... fünf sechs sieben acht neun ...", 15)
	checkContext(t, 0, 0, 1, "null eins ...", 0)
	checkContext(t, 15, 15, 1, "... vierz fünfz", 10)
}

func TestContextEdges(t *testing.T) {
	checkContext(t, 8, 7, 2, "... fünf sechs sieben acht neun zehn ...", 15)
	checkContext(t, 7, 8, 0, "... sieben acht ...", 4)
	checkContext(t, 0, 0, 0, "null ...", 0)
	checkContext(t, 15, 15, 0, "... fünfz", 4)
	checkContext(t, -5, 2, 1, "null eins zwei drei ...", 0)
	checkContext(t, 15, 163, 1, "... vierz fünfz", 10)
}

func TestContextEmpty(t *testing.T) {
	if w := Context(nil, 0, 0, 3); w.Text != "" {
		t.Errorf("expected empty window, got %q", w.Text)
	}
}

func TestFindAndAlign(t *testing.T) {
	words := Words("Nordkorea Kim kündigt neue Waffe an. Machthaber Kim Jong Un wird sich laut kim nicht mehr halten.")

	matches := Find(words, "Kim")
	if len(matches) != 3 {
		t.Fatalf("expected 3 matches, got %d", len(matches))
	}

	multi := Find(words, "Kim Jong")
	if len(multi) != 1 || multi[0].End-multi[0].Start != 1 {
		t.Errorf("expected one two-word match, got %v", multi)
	}

	var windows []Window
	for _, m := range matches {
		windows = append(windows, Context(words, m.Start, m.End, 2))
	}
	lines := Align(windows)

	column := -1
	for _, line := range lines {
		idx := strings.Index(strings.ToLower(line), "kim")
		col := len([]rune(line[:idx]))
		if column == -1 {
			column = col
		}
		if col != column {
			t.Errorf("expected term aligned at column %d, got %d in %q", column, col, line)
		}
	}
}

func TestHTMLWords(t *testing.T) {
	html := `<html><head><title>T</title><style>p { color: red }</style></head>
<body><h1>Überschrift</h1><script>var x = 1;</script><p>Erster Absatz, mit "Zitat".</p></body></html>`

	words, err := HTMLWords(strings.NewReader(html))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := strings.Join(words, " ")
	if got != "Überschrift Erster Absatz mit Zitat" {
		t.Errorf("unexpected words %q", got)
	}
}
