package ingest

import "strings"

var strftimeDirectives = map[byte]string{
	'Y': "2006",
	'y': "06",
	'm': "01",
	'd': "02",
	'e': "_2",
	'H': "15",
	'I': "03",
	'M': "04",
	'S': "05",
	'L': "000",
	'N': "000000000",
	'p': "PM",
	'b': "Jan",
	'h': "Jan",
	'B': "January",
	'a': "Mon",
	'A': "Monday",
	'z': "-0700",
	'Z': "MST",
	'j': "002",
	'T': "15:04:05",
	'F': "2006-01-02",
	'D': "01/02/06",
	'%': "%",
}

// StrftimeLayout translates a strftime-style format (the form column
// formats are written in) to a Go time layout. Unknown directives are kept
// literally.
func StrftimeLayout(format string) string {
	var b strings.Builder
	for i := 0; i < len(format); i++ {
		c := format[i]
		if c != '%' || i+1 == len(format) {
			b.WriteByte(c)
			continue
		}
		i++
		if format[i] == ':' && i+1 < len(format) && format[i+1] == 'z' {
			b.WriteString("-07:00")
			i++
			continue
		}
		if layout, ok := strftimeDirectives[format[i]]; ok {
			b.WriteString(layout)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(format[i])
	}
	return b.String()
}
