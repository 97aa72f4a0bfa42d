package tokenizer

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

// byteToRune and runeToByte implement the GPT-2 reversible byte↔unicode
// mapping: printable Latin-1 bytes map to themselves, the rest to U+0100+n.
var (
	byteToRune [256]rune
	runeToByte = make(map[rune]byte, 256)
)

func init() {
	n := 0

	for b := 0; b < 256; b++ {
		printable := (b >= '!' && b <= '~') || (b >= 0xA1 && b <= 0xAC) || (b >= 0xAE && b <= 0xFF)
		if printable {
			byteToRune[b] = rune(b)
		} else {
			byteToRune[b] = rune(256 + n)
			n++
		}

		runeToByte[byteToRune[b]] = byte(b)
	}
}

func byteLevelEncode(s string) string {
	var sb strings.Builder
	sb.Grow(len(s) * 2)

	for i := 0; i < len(s); i++ {
		sb.WriteRune(byteToRune[s[i]])
	}

	return sb.String()
}

// byteLevelDecode maps each token back to bytes. A token containing a rune
// outside the table is kept as its raw UTF-8 bytes.
func byteLevelDecode(tokens []string) string {
	var buf []byte

	for _, tok := range tokens {
		mapped := make([]byte, 0, len(tok))
		ok := true

		for _, r := range tok {
			b, found := runeToByte[r]
			if !found {
				ok = false
				break
			}
			mapped = append(mapped, b)
		}

		if ok {
			buf = append(buf, mapped...)
		} else {
			buf = append(buf, tok...)
		}
	}

	return strings.ToValidUTF8(string(buf), string(utf8.RuneError))
}

// parseByteToken parses SentencePiece-style byte tokens such as "<0x0A>".
func parseByteToken(tok string) (byte, bool) {
	if len(tok) != 6 || !strings.HasPrefix(tok, "<0x") || tok[5] != '>' {
		return 0, false
	}

	v, err := strconv.ParseUint(tok[3:5], 16, 8)
	if err != nil {
		return 0, false
	}

	return byte(v), true
}

func byteToken(b byte) string {
	return fmt.Sprintf("<0x%02X>", b)
}
