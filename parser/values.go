package parser

import (
	"encoding/json"
	"math"
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/aluiziolira/go-scrape-figures/models"
)

// stringValue renders scalar wire values as trimmed text.
func stringValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.Join(strings.Fields(t), " ")
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

func firstString(raw models.RawRecord, keys []string) string {
	for _, k := range keys {
		if s := stringValue(raw[k]); s != "" {
			return s
		}
	}
	return ""
}

// isTruthy accepts the encodings sources use for boolean flags.
func isTruthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case float64:
		return t != 0
	case int:
		return t != 0
	case int64:
		return t != 0
	case json.Number:
		f, err := t.Float64()
		return err == nil && f != 0
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "1", "true", "yes", "y", "on":
			return true
		}
		if f, err := strconv.ParseFloat(strings.TrimSpace(t), 64); err == nil {
			return f != 0
		}
		return false
	default:
		return false
	}
}

func readFlag(raw models.RawRecord, sources []FlagSource) bool {
	for _, src := range sources {
		v, ok := raw[src.Key]
		if !ok {
			continue
		}
		if src.Present {
			if stringValue(v) != "" {
				return true
			}
			continue
		}
		if src.Contains == "" {
			if isTruthy(v) {
				return true
			}
			continue
		}
		if s, ok := v.(string); ok && strings.Contains(strings.ToLower(s), src.Contains) {
			return true
		}
	}
	return false
}

// ParsePrice extracts an integer amount from numeric values or price text
// such as "¥12,800" or "12,800 yen". Only the first number is used.
func ParsePrice(v any) *int64 {
	switch t := v.(type) {
	case nil:
		return nil
	case float64:
		n := int64(math.Round(t))
		return &n
	case int:
		n := int64(t)
		return &n
	case int64:
		return &t
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return &n
		}
		if f, err := t.Float64(); err == nil {
			n := int64(math.Round(f))
			return &n
		}
		return nil
	case string:
		return parsePriceText(t)
	default:
		return nil
	}
}

func parsePriceText(s string) *int64 {
	start := strings.IndexFunc(s, func(r rune) bool { return r >= '0' && r <= '9' })
	if start < 0 {
		return nil
	}
	var digits strings.Builder
scan:
	for _, r := range s[start:] {
		switch {
		case r >= '0' && r <= '9':
			digits.WriteRune(r)
		case r == ',':
		default:
			break scan
		}
	}
	n, err := strconv.ParseInt(digits.String(), 10, 64)
	if err != nil {
		return nil
	}
	return &n
}

// AbsoluteURL rewrites protocol-relative and host-relative references against
// host. Empty input stays empty.
func AbsoluteURL(host, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	if strings.HasPrefix(ref, "//") {
		return "https:" + ref
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	if u.IsAbs() {
		return u.String()
	}
	base, err := url.Parse(host)
	if err != nil || base.Host == "" {
		return ""
	}
	if base.Path == "" {
		base.Path = "/"
	}
	return base.ResolveReference(u).String()
}

// idFromURL returns the last non-empty path segment, ignoring query strings.
func idFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	seg := path.Base(strings.TrimSuffix(u.Path, "/"))
	if seg == "." || seg == "/" {
		return ""
	}
	return seg
}
