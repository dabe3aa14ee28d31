package liquid

import (
	"bytes"
	"fmt"
	"html"
	"math"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/araddon/dateparse"
	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var (
	strictPolicy *bluemonday.Policy
	ugcPolicy    *bluemonday.Policy
	markdown     goldmark.Markdown
	initOnce     sync.Once
)

func initFormatters() {
	initOnce.Do(func() {
		// StrictPolicy strips all markup and leaves text
		strictPolicy = bluemonday.StrictPolicy()
		ugcPolicy = bluemonday.UGCPolicy()
		markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))
	})
}

func standardFilters() map[string]FilterFunc {
	return map[string]FilterFunc{
		"upcase":         stringFilter(strings.ToUpper),
		"downcase":       stringFilter(strings.ToLower),
		"capitalize":     stringFilter(capitalize),
		"titlecase":      stringFilter(titlecase),
		"strip":          stringFilter(strings.TrimSpace),
		"lstrip":         stringFilter(func(s string) string { return strings.TrimLeftFunc(s, unicode.IsSpace) }),
		"rstrip":         stringFilter(func(s string) string { return strings.TrimRightFunc(s, unicode.IsSpace) }),
		"strip_newlines": stringFilter(func(s string) string { return strings.NewReplacer("\r", "", "\n", "").Replace(s) }),
		"url_encode":     stringFilter(url.QueryEscape),
		"escape":         filterEscape,
		"newline_to_br":  filterNewlineToBr,
		"strip_html":     filterStripHTML,
		"sanitize":       filterSanitize,
		"markdown":       filterMarkdown,
		"default":        filterDefault,
		"size":           func(in Value, _ []Value) (Value, error) { return Int(in.Len()), nil },
		"first":          filterFirst,
		"last":           filterLast,
		"join":           filterJoin,
		"split":          filterSplit,
		"reverse":        filterReverse,
		"sort":           filterSort,
		"uniq":           filterUniq,
		"compact":        filterCompact,
		"map":            filterMap,
		"where":          filterWhere,
		"append":         filterAppend,
		"prepend":        filterPrepend,
		"replace":        filterReplace,
		"replace_first":  filterReplaceFirst,
		"remove":         filterRemove,
		"truncate":       filterTruncate,
		"plus":           arithmetic(func(a, b float64) float64 { return a + b }),
		"minus":          arithmetic(func(a, b float64) float64 { return a - b }),
		"times":          arithmetic(func(a, b float64) float64 { return a * b }),
		"divided_by":     filterDividedBy,
		"modulo":         modulo,
		"round":          filterRound,
		"abs":            filterAbs,
		"date":           filterDate,
		"json":           filterJSON,
	}
}

func arg(args []Value, i int) Value {
	if i < len(args) {
		return args[i]
	}
	return Nil()
}

func stringFilter(fn func(string) string) FilterFunc {
	return func(in Value, _ []Value) (Value, error) {
		return String(fn(in.String())), nil
	}
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + strings.ToLower(s[size:])
}

func titlecase(s string) string {
	return cases.Title(language.Und).String(s)
}

func filterEscape(in Value, _ []Value) (Value, error) {
	return SafeString(html.EscapeString(in.String())), nil
}

func filterNewlineToBr(in Value, _ []Value) (Value, error) {
	s := html.EscapeString(in.String())
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return SafeString(strings.ReplaceAll(s, "\n", "<br />\n")), nil
}

func filterStripHTML(in Value, _ []Value) (Value, error) {
	initFormatters()
	return String(html.UnescapeString(strictPolicy.Sanitize(in.String()))), nil
}

func filterSanitize(in Value, _ []Value) (Value, error) {
	initFormatters()
	return SafeString(ugcPolicy.Sanitize(in.String())), nil
}

func filterMarkdown(in Value, _ []Value) (Value, error) {
	initFormatters()
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(in.String()), &buf); err != nil {
		return Nil(), err
	}
	return SafeString(ugcPolicy.Sanitize(buf.String())), nil
}

func filterDefault(in Value, args []Value) (Value, error) {
	fallback := arg(args, 0)
	allowFalse := false
	if len(args) > 1 {
		if opts := args[len(args)-1].Object(); opts != nil {
			if v, ok := opts.Get("allow_false"); ok {
				allowFalse = v.Truthy()
			}
		}
	}
	if in.IsNil() || in.IsEmpty() {
		return fallback, nil
	}
	if in.Kind() == KindBool && !in.Truthy() && !allowFalse {
		return fallback, nil
	}
	return in, nil
}

func filterFirst(in Value, _ []Value) (Value, error) {
	if in.Kind() == KindString {
		r, _ := utf8.DecodeRuneInString(in.String())
		if r == utf8.RuneError {
			return String(""), nil
		}
		return String(string(r)), nil
	}
	return in.Index(0), nil
}

func filterLast(in Value, _ []Value) (Value, error) {
	if in.Kind() == KindString {
		r, _ := utf8.DecodeLastRuneInString(in.String())
		if r == utf8.RuneError {
			return String(""), nil
		}
		return String(string(r)), nil
	}
	return in.Index(-1), nil
}

func filterJoin(in Value, args []Value) (Value, error) {
	sep := " "
	if a := arg(args, 0); !a.IsNil() {
		sep = a.String()
	}
	items := in.Items()
	parts := make([]string, len(items))
	for i, item := range items {
		parts[i] = item.String()
	}
	return String(strings.Join(parts, sep)), nil
}

func filterSplit(in Value, args []Value) (Value, error) {
	parts := strings.Split(in.String(), arg(args, 0).String())
	items := make([]Value, 0, len(parts))
	for _, part := range parts {
		if part != "" {
			items = append(items, String(part))
		}
	}
	return Array(items...), nil
}

func filterReverse(in Value, _ []Value) (Value, error) {
	items := in.Items()
	out := make([]Value, len(items))
	for i, item := range items {
		out[len(items)-1-i] = item
	}
	return Array(out...), nil
}

func filterSort(in Value, args []Value) (Value, error) {
	out := append([]Value(nil), in.Items()...)
	prop := arg(args, 0)
	key := func(v Value) Value {
		if prop.IsNil() {
			return v
		}
		return v.Field(prop.String())
	}
	sort.SliceStable(out, func(i, j int) bool {
		cmp, ok := key(out[i]).Compare(key(out[j]))
		return ok && cmp < 0
	})
	return Array(out...), nil
}

func filterUniq(in Value, _ []Value) (Value, error) {
	var out []Value
	for _, item := range in.Items() {
		dup := false
		for _, seen := range out {
			if seen.Equal(item) {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, item)
		}
	}
	return Array(out...), nil
}

func filterCompact(in Value, _ []Value) (Value, error) {
	var out []Value
	for _, item := range in.Items() {
		if !item.IsNil() {
			out = append(out, item)
		}
	}
	return Array(out...), nil
}

func filterMap(in Value, args []Value) (Value, error) {
	prop := arg(args, 0).String()
	items := in.Items()
	out := make([]Value, len(items))
	for i, item := range items {
		out[i] = item.Field(prop)
	}
	return Array(out...), nil
}

func filterWhere(in Value, args []Value) (Value, error) {
	prop := arg(args, 0).String()
	want := arg(args, 1)
	var out []Value
	for _, item := range in.Items() {
		v := item.Field(prop)
		if (len(args) < 2 && v.Truthy()) || (len(args) >= 2 && v.Equal(want)) {
			out = append(out, item)
		}
	}
	return Array(out...), nil
}

func filterAppend(in Value, args []Value) (Value, error) {
	return String(in.String() + arg(args, 0).String()), nil
}

func filterPrepend(in Value, args []Value) (Value, error) {
	return String(arg(args, 0).String() + in.String()), nil
}

func filterReplace(in Value, args []Value) (Value, error) {
	return String(strings.ReplaceAll(in.String(), arg(args, 0).String(), arg(args, 1).String())), nil
}

func filterReplaceFirst(in Value, args []Value) (Value, error) {
	return String(strings.Replace(in.String(), arg(args, 0).String(), arg(args, 1).String(), 1)), nil
}

func filterRemove(in Value, args []Value) (Value, error) {
	return String(strings.ReplaceAll(in.String(), arg(args, 0).String(), "")), nil
}

// filterTruncate shortens to n runes including the ellipsis.
func filterTruncate(in Value, args []Value) (Value, error) {
	n := 50
	if f, ok := arg(args, 0).Float(); ok {
		n = int(f)
	}
	ellipsis := "..."
	if a := arg(args, 1); !a.IsNil() {
		ellipsis = a.String()
	}
	runes := []rune(in.String())
	if len(runes) <= n {
		return String(string(runes)), nil
	}
	keep := n - utf8.RuneCountInString(ellipsis)
	if keep < 0 {
		keep = 0
	}
	return String(string(runes[:keep]) + ellipsis), nil
}

// number reads v as a float. Anything that is not a number counts as 0.
func number(v Value) float64 {
	f, ok := v.Float()
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

func arithmetic(op func(a, b float64) float64) FilterFunc {
	return func(in Value, args []Value) (Value, error) {
		return Number(op(number(in), number(arg(args, 0)))), nil
	}
}

// modulo renders nothing for a zero divisor.
func modulo(in Value, args []Value) (Value, error) {
	b := number(arg(args, 0))
	if b == 0 {
		return Nil(), nil
	}
	return Number(math.Mod(number(in), b)), nil
}

// filterDividedBy performs integer division when the divisor is an integer
// and renders nothing for a zero divisor.
func filterDividedBy(in Value, args []Value) (Value, error) {
	a, b := number(in), number(arg(args, 0))
	if b == 0 {
		return Nil(), nil
	}
	if b == math.Trunc(b) {
		return Number(math.Floor(a / b)), nil
	}
	return Number(a / b), nil
}

const maxRoundPlaces = 15

func filterRound(in Value, args []Value) (Value, error) {
	f := number(in)
	places := 0
	if p, ok := arg(args, 0).Float(); ok {
		places = int(max(-maxRoundPlaces, min(maxRoundPlaces, p)))
	}
	scale := math.Pow(10, float64(places))
	r := math.Round(f*scale) / scale
	if math.IsNaN(r) || math.IsInf(r, 0) {
		return Number(f), nil
	}
	return Number(r), nil
}

func filterAbs(in Value, _ []Value) (Value, error) {
	return Number(math.Abs(number(in))), nil
}

func filterJSON(in Value, _ []Value) (Value, error) {
	b, err := in.MarshalJSON()
	if err != nil {
		return Nil(), err
	}
	return String(string(b)), nil
}

// now is replaced in tests.
var now = time.Now

// filterDate formats a date with a strftime pattern. Input may be "now",
// "today", a Unix timestamp or any layout dateparse understands; anything
// else is returned unchanged.
func filterDate(in Value, args []Value) (Value, error) {
	if in.IsNil() || in.IsEmpty() {
		return in, nil
	}
	t, err := toTime(in)
	if err != nil {
		return in, nil
	}
	format := arg(args, 0)
	if format.IsNil() || format.IsEmpty() {
		return String(t.Format(time.RFC3339)), nil
	}
	return String(strftime(t, format.String())), nil
}

func toTime(v Value) (time.Time, error) {
	if v.Kind() == KindNumber {
		f, _ := v.Float()
		return time.Unix(int64(f), 0).UTC(), nil
	}
	s := strings.TrimSpace(v.String())
	switch strings.ToLower(s) {
	case "now", "today":
		return now(), nil
	}
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	return dateparse.ParseAny(s)
}

func strftime(t time.Time, format string) string {
	var sb strings.Builder
	for i := 0; i < len(format); i++ {
		ch := format[i]
		if ch != '%' || i+1 >= len(format) {
			sb.WriteByte(ch)
			continue
		}
		i++
		switch format[i] {
		case 'Y':
			sb.WriteString(strconv.Itoa(t.Year()))
		case 'y':
			fmt.Fprintf(&sb, "%02d", t.Year()%100)
		case 'm':
			fmt.Fprintf(&sb, "%02d", int(t.Month()))
		case 'd':
			fmt.Fprintf(&sb, "%02d", t.Day())
		case 'e':
			fmt.Fprintf(&sb, "%2d", t.Day())
		case 'j':
			fmt.Fprintf(&sb, "%03d", t.YearDay())
		case 'H':
			fmt.Fprintf(&sb, "%02d", t.Hour())
		case 'I':
			h := t.Hour() % 12
			if h == 0 {
				h = 12
			}
			fmt.Fprintf(&sb, "%02d", h)
		case 'M':
			fmt.Fprintf(&sb, "%02d", t.Minute())
		case 'S':
			fmt.Fprintf(&sb, "%02d", t.Second())
		case 'p':
			if t.Hour() < 12 {
				sb.WriteString("AM")
			} else {
				sb.WriteString("PM")
			}
		case 'b':
			sb.WriteString(t.Month().String()[:3])
		case 'B':
			sb.WriteString(t.Month().String())
		case 'a':
			sb.WriteString(t.Weekday().String()[:3])
		case 'A':
			sb.WriteString(t.Weekday().String())
		case 'Z':
			sb.WriteString(t.Format("MST"))
		case 'z':
			sb.WriteString(t.Format("-0700"))
		case 's':
			sb.WriteString(strconv.FormatInt(t.Unix(), 10))
		case '%':
			sb.WriteByte('%')
		default:
			sb.WriteByte('%')
			sb.WriteByte(format[i])
		}
	}
	return sb.String()
}
