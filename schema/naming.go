package schema

import (
	"strings"
	"unicode"

	"github.com/go-openapi/inflect"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var (
	rules    = ruleset()
	title    = cases.Title(language.Und, cases.NoLower)
	acronyms = make(map[string]struct{})
)

func ruleset() *inflect.Ruleset {
	rules := inflect.NewDefaultRuleset()
	for _, w := range []string{"ACL", "API", "ASCII", "CPU", "CSS", "DNS", "EOF", "GUID", "HTML", "HTTP", "HTTPS", "ID", "IP", "JSON", "LHS", "QPS", "RAM", "RHS", "RPC", "SLA", "SMTP", "SQL", "SSH", "TCP", "TLS", "TTL", "UDP", "UI", "UID", "URI", "URL", "UTF8", "UUID", "VM", "XML", "XMPP", "XSRF", "XSS"} {
		acronyms[w] = struct{}{}
		rules.AddAcronym(w)
	}
	// Suffix rules are case sensitive: "ero" matches both Hero and hero.
	rules.AddPlural("ero", "eroes")
	rules.AddSingular("eroes", "ero")
	return rules
}

// Plural returns the plural form of a noun.
func Plural(s string) string {
	return rules.Pluralize(s)
}

// Singular returns the singular form of a noun.
func Singular(s string) string {
	return rules.Singularize(s)
}

// Snake converts the given identifier to snake_case.
//
//	Username => username
//	FullName => full_name
//	HTTPCode => http_code
func Snake(s string) string {
	var (
		j int
		b strings.Builder
	)
	for i := 0; i < len(s); i++ {
		r := rune(s[i])
		// Put '_' if it is not a start or end of a word, current letter is uppercase,
		// and previous is lowercase (cases like: "UserInfo"), or next letter is also
		// a lowercase and previous letter is not "_".
		if i > 0 && i < len(s)-1 && unicode.IsUpper(r) {
			if unicode.IsLower(rune(s[i-1])) ||
				j != i-1 && unicode.IsLower(rune(s[i+1])) && unicode.IsLetter(rune(s[i-1])) {
				j = i
				b.WriteString("_")
			}
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}

// Pascal converts the given name into a PascalCase.
//
//	user_info => UserInfo
//	full_name => FullName
//	user_id   => UserID
func Pascal(s string) string {
	words := strings.FieldsFunc(s, func(r rune) bool { return r == '_' || r == '-' || r == ' ' })
	for i, w := range words {
		upper := strings.ToUpper(w)
		if _, ok := acronyms[upper]; ok {
			words[i] = upper
		} else {
			words[i] = title.String(w)
		}
	}
	return strings.Join(words, "")
}

// Camel converts the given name into a camelCase.
//
//	user_info => userInfo
//	user_id   => userID
func Camel(s string) string {
	words := strings.FieldsFunc(s, func(r rune) bool { return r == '_' || r == '-' || r == ' ' })
	if len(words) == 0 {
		return ""
	}
	return strings.ToLower(words[0]) + Pascal(strings.Join(words[1:], "_"))
}

// TableName returns the default table name of an entity: the snake_case
// plural of its name.
//
//	Team     => teams
//	UserInfo => user_infos
func TableName(entity string) string {
	return Snake(Plural(entity))
}
