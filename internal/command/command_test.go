package command

import (
	"strings"
	"testing"
	"unicode"
)

func TestFindCommands(t *testing.T) {
	tests := []struct {
		name         string
		body         string
		wantInternal bool
	}{
		{name: "Leading directive", body: "/internal \nHello", wantInternal: true},
		{name: "Directive alone", body: "/internal", wantInternal: true},
		{name: "Directive at end", body: "note to self /internal", wantInternal: true},
		{name: "Directive on its own line", body: "Hello\n/internal\nbye", wantInternal: true},
		{name: "Upper case", body: "/INTERNAL hi", wantInternal: true},
		{name: "Longer word", body: "/internalfoo hi", wantInternal: false},
		{name: "Inside a path", body: "see a/internal b", wantInternal: false},
		{name: "Path like token", body: "/internal/docs", wantInternal: false},
		{name: "No directive", body: "Hello", wantInternal: false},
		{name: "No-break space after directive", body: "/internal\u00a0secret plan", wantInternal: true},
		{name: "Em space before directive", body: "note\u2003/internal", wantInternal: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FindCommands(tt.body).Has(Internal)
			if got != tt.wantInternal {
				t.Errorf("FindCommands(%q).Has(Internal) = %v, want %v", tt.body, got, tt.wantInternal)
			}
		})
	}
}

func TestFindCommandsIgnoresUnknown(t *testing.T) {
	got := FindCommands("/close /internal /assign")
	if len(got) != 1 || !got.Has(Internal) {
		t.Errorf("FindCommands() = %v, want only internal", got)
	}
}

func TestStripCommands(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "Leading directive", body: "/internal \nHello", want: "Hello"},
		{name: "Leading directive with indent", body: "/internal \n This is a comment", want: "This is a comment"},
		{name: "Middle directive", body: "hello /internal world", want: "hello world"},
		{name: "Adjacent directives", body: "/a /b text", want: "text"},
		{name: "Unknown directive", body: "/close thanks", want: "thanks"},
		{name: "Longer word still stripped", body: "/internalfoo hi", want: "hi"},
		{name: "Paths untouched", body: "edit /etc/hosts now", want: "edit /etc/hosts now"},
		{name: "No directive keeps whitespace", body: " This is a comment", want: " This is a comment"},
		{name: "Only directive", body: "/internal", want: ""},
		{name: "No-break space after directive", body: "/internal\u00a0secret plan", want: "secret plan"},
		{name: "Em space before directive", body: "note\u2003/internal", want: "note\u2003"},
		{name: "Ideographic space between", body: "a\u3000/internal\u3000b", want: "a\u3000b"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := StripCommands(tt.body)
			if got != tt.want {
				t.Errorf("StripCommands(%q) = %q, want %q", tt.body, got, tt.want)
			}
		})
	}
}

func TestFindAndStripAgree(t *testing.T) {
	var spaces []rune
	for r := rune(0); r <= 0x3000; r++ {
		if unicode.IsSpace(r) {
			spaces = append(spaces, r)
		}
	}

	for _, r := range spaces {
		body := "before" + string(r) + "/internal" + string(r) + "after"
		if !FindCommands(body).Has(Internal) {
			t.Errorf("FindCommands(%q) missed the directive", body)
		}
		if got := StripCommands(body); strings.Contains(got, "/internal") {
			t.Errorf("StripCommands(%q) = %q, directive left in body", body, got)
		}
	}
}
