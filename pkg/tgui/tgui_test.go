package tgui

import (
	"strings"
	"testing"

	tele "gopkg.in/telebot.v4"
)

func TestDataRoundTrip(t *testing.T) {
	d := Data("cat", "sub", "q-bio.NC")
	ns, action, payload, ok := ParseData(d)
	if !ok || ns != "cat" || action != "sub" || payload != "q-bio.NC" {
		t.Fatalf("unexpected parse: %q %q %q %v", ns, action, payload, ok)
	}
	if _, _, p, ok := ParseData("sub:del:a:b"); !ok || p != "a:b" {
		t.Fatalf("payload with colon not preserved: %q", p)
	}
	if _, _, _, ok := ParseData("garbage"); ok {
		t.Fatalf("expected parse failure")
	}
	if err := CheckData(strings.Repeat("x", 65)); err != ErrCallbackDataTooLong {
		t.Fatalf("expected too long, got %v", err)
	}
}

func TestTruncRunes(t *testing.T) {
	cases := []struct {
		in   string
		n    int
		want string
	}{
		{"hello", 10, "hello"},
		{"hello", 5, "hello"},
		{"hello", 3, "hel…"},
		{"héllo", 2, "hé…"},
		{"x", 0, ""},
	}
	for _, tc := range cases {
		if got := TruncRunes(tc.in, tc.n); got != tc.want {
			t.Fatalf("TruncRunes(%q,%d)=%q want %q", tc.in, tc.n, got, tc.want)
		}
	}
}

func TestBuilderEscapes(t *testing.T) {
	kb := NewInline().Grid(2, []tele.Btn{Btn("a", "x:a"), Btn("b", "x:b"), Btn("c", "x:c")})
	if kb.Len() != 2 {
		t.Fatalf("expected 2 rows, got %d", kb.Len())
	}
	msg := New().Title("📚", "A <b> title").Line("1 < 2").KV("k", "v&w").Inline(kb).Build()
	want := "📚 <b>A &lt;b&gt; title</b>\n1 &lt; 2\n• <b>k</b>: v&amp;w"
	if msg.Text != want {
		t.Fatalf("text=%q\nwant=%q", msg.Text, want)
	}
	if msg.Opt.ParseMode != "HTML" || !msg.Opt.DisablePreview || msg.Opt.ReplyMarkupAdapter == nil {
		t.Fatalf("unexpected options: %+v", msg.Opt)
	}
}

func TestLinkEscapesURL(t *testing.T) {
	got := Link("Read", `https://x.org/?a=1&b="2"`)
	if got != `<a href="https://x.org/?a=1&amp;b=&#34;2&#34;">Read</a>` {
		t.Fatalf("unexpected link: %s", got)
	}
}
