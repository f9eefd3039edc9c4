package extract

import "testing"

func TestDecodePDFString(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`plain`, "plain"},
		{`a\(b\)c`, "a(b)c"},
		{`back\\slash`, `back\slash`},
		{`line\nbreak`, "line\nbreak"},
		{`\101\102C`, "ABC"},
		{`\7`, "\a"},
		{`trailing\`, `trailing\`},
	}
	for _, tt := range tests {
		if got := DecodePDFString([]byte(tt.in)); got != tt.want {
			t.Errorf("DecodePDFString(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTextFromContentStream(t *testing.T) {
	stream := []byte(`BT
/F1 12 Tf
72 712 Td
(Chapter 1) Tj
0 -14 Td
[(The ) -250 (Beginning)] TJ
T*
(Escaped \(text\)) Tj
ET`)
	want := "Chapter 1\nThe Beginning\nEscaped (text)"
	if got := TextFromContentStream(stream); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	if got := TextFromContentStream(nil); got != "" {
		t.Errorf("empty stream = %q", got)
	}
}
