// Package text holds the string escaping used to produce the canonical NIP-01
// serialization of events, from which event ids are derived.
package text

// NostrEscape for JSON encoding according to RFC8259, restricted to what
// NIP-01 allows:
//
//	No characters except the following should be escaped, and instead should
//	be included verbatim:
//
//	- A line break, 0x0A, as \n
//	- A double quote, 0x22, as \"
//	- A backslash, 0x5C, as \\
//	- A carriage return, 0x0D, as \r
//	- A tab character, 0x09, as \t
//	- A backspace, 0x08, as \b
//	- A form feed, 0x0C, as \f
//
// Other control characters get the \u00XX form so the output is still valid
// JSON.
func NostrEscape(dst, src []byte) []byte {
	for i := 0; i < len(src); i++ {
		c := src[i]
		switch {
		case c == '"':
			dst = append(dst, '\\', '"')
		case c == '\\':
			dst = append(dst, '\\', '\\')
		case c == '\b':
			dst = append(dst, '\\', 'b')
		case c == '\t':
			dst = append(dst, '\\', 't')
		case c == '\n':
			dst = append(dst, '\\', 'n')
		case c == '\f':
			dst = append(dst, '\\', 'f')
		case c == '\r':
			dst = append(dst, '\\', 'r')
		case c < 0x20:
			const hexDigits = "0123456789abcdef"
			dst = append(dst, '\\', 'u', '0', '0', hexDigits[c>>4], hexDigits[c&0xf])
		default:
			dst = append(dst, c)
		}
	}
	return dst
}

// AppendQuote appends src to dst wrapped in double quotes, passing it through
// the escape function f.
func AppendQuote(dst, src []byte, f func(dst, src []byte) []byte) []byte {
	dst = append(dst, '"')
	dst = f(dst, src)
	return append(dst, '"')
}

// Noop is an escape function that copies the input unchanged.
func Noop(dst, src []byte) []byte { return append(dst, src...) }

// JSONKey appends a quoted object key and its colon.
func JSONKey(dst, key []byte) []byte {
	dst = append(dst, '"')
	dst = append(dst, key...)
	return append(dst, '"', ':')
}
