package form

import (
	"strings"
)

// InferRole guesses a content role from a question label. This is the legacy
// label-sniffing heuristic, kept only for schema ingestion: backends that do
// not annotate roles get them assigned here, once, and the rest of the system
// reads the explicit Role field.
//
// Precedence when a label matches several families: email, phone, identifier,
// numeric. Labels that match nothing are plain text.
func InferRole(label string) Role {
	l := strings.ToLower(label)
	tokens := tokenize(l)

	switch {
	case strings.Contains(l, "email") || strings.Contains(l, "e-mail"):
		return RoleEmail
	case strings.Contains(l, "phone") || strings.Contains(l, "mobile") || strings.Contains(l, "telephone"):
		return RolePhone
	case hasToken(tokens, "id") || strings.Contains(l, "identifier") || strings.Contains(l, "id number"):
		return RoleIdentifier
	case hasToken(tokens, "age") || strings.Contains(l, "how many") || strings.Contains(l, "number of"):
		return RoleNumeric
	default:
		return RolePlain
	}
}

// tokenize splits a label into lowercase words so short keywords like "id"
// only match whole tokens, not substrings of other words.
func tokenize(label string) []string {
	return strings.FieldsFunc(label, func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	})
}

func hasToken(tokens []string, want string) bool {
	for _, tok := range tokens {
		if tok == want {
			return true
		}
	}
	return false
}

// AnnotateRoles fills in missing roles on a schema's questions using
// InferRole. Questions with an explicit role keep it; the branch
// discriminator is never inferred, only declared.
func AnnotateRoles(s *Schema) {
	for i := range s.Questions {
		if s.Questions[i].Role == "" {
			s.Questions[i].Role = InferRole(s.Questions[i].Label)
		}
	}
}
