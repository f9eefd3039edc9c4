// Package naming derives filesystem-safe book names from source file names.
package naming

import (
	"crypto/md5"
	"encoding/hex"
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxBookNameLength is the longest name SafeBookName returns.
const MaxBookNameLength = 50

var cyrillic = map[rune]string{
	'а': "a", 'б': "b", 'в': "v", 'г': "g", 'д': "d", 'е': "e",
	'ё': "yo", 'ж': "zh", 'з': "z", 'и': "i", 'й': "y", 'к': "k",
	'л': "l", 'м': "m", 'н': "n", 'о': "o", 'п': "p", 'р': "r",
	'с': "s", 'т': "t", 'у': "u", 'ф': "f", 'х': "h", 'ц': "ts",
	'ч': "ch", 'ш': "sh", 'щ': "sch", 'ъ': "", 'ы': "y", 'ь': "",
	'э': "e", 'ю': "yu", 'я': "ya",
}

// SafeBookName turns a PDF path into the book name used for dataset files:
// the lowercase stem with Cyrillic transliterated, every other
// non-alphanumeric character replaced by "_", runs of "_" collapsed, and
// leading or trailing "_" removed. Names longer than MaxBookNameLength are
// cut and suffixed with 6 hex characters of the stem's MD5 so that distinct
// long titles stay distinct.
func SafeBookName(path string) string {
	base := filepath.Base(path)
	stem := strings.TrimSuffix(base, filepath.Ext(base))

	var b strings.Builder
	for _, r := range strings.ToLower(stem) {
		if s, ok := cyrillic[r]; ok {
			b.WriteString(s)
			continue
		}
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			continue
		}
		b.WriteByte('_')
	}

	name := collapseUnderscores(b.String())
	if utf8.RuneCountInString(name) > MaxBookNameLength {
		sum := md5.Sum([]byte(stem))
		runes := []rune(name)
		name = string(runes[:MaxBookNameLength-7]) + "_" + hex.EncodeToString(sum[:])[:6]
	}
	return strings.Trim(name, "_")
}

func collapseUnderscores(s string) string {
	for strings.Contains(s, "__") {
		s = strings.ReplaceAll(s, "__", "_")
	}
	return s
}
