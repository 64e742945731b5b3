package modelio

import (
	"regexp"
	"strconv"
	"strings"
)

// SBML identifiers must be SIds ([A-Za-z_][A-Za-z0-9_]*). Model ids are
// written with a type prefix and every other character escaped as
// __<code point>__, the same convention COBRA tools use.
const (
	reactionPrefix   = "R_"
	metabolitePrefix = "M_"
)

var escaped = regexp.MustCompile(`__(\d+)__`)

func escapeID(id string) string {
	var sb strings.Builder
	for _, r := range id {
		if r == '_' || ('a' <= r && r <= 'z') || ('A' <= r && r <= 'Z') || ('0' <= r && r <= '9') {
			sb.WriteRune(r)
			continue
		}
		sb.WriteString("__")
		sb.WriteString(strconv.Itoa(int(r)))
		sb.WriteString("__")
	}
	return sb.String()
}

func unescapeID(id string) string {
	return escaped.ReplaceAllStringFunc(id, func(m string) string {
		code, err := strconv.Atoi(m[2 : len(m)-2])
		if err != nil {
			return m
		}
		return string(rune(code))
	})
}

func reactionSID(id string) string   { return reactionPrefix + escapeID(id) }
func metaboliteSID(id string) string { return metabolitePrefix + escapeID(id) }

func reactionFromSID(sid string) string {
	return unescapeID(strings.TrimPrefix(sid, reactionPrefix))
}

func metaboliteFromSID(sid string) string {
	return unescapeID(strings.TrimPrefix(sid, metabolitePrefix))
}
