package namespace

import (
	"regexp"

	"github.com/vuxtra/mcp-jive/internal/jiveerr"
)

// Header is the HTTP/WS header carrying a namespace override.
const Header = "X-Namespace"

var validNamespace = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

// Sources are the candidate namespace values for one request, in priority
// order: URL path segment, X-Namespace header, params._meta.namespace, the
// per-tool arguments.namespace. Empty fields mean the source was absent.
type Sources struct {
	PathParam string
	Header    string
	Meta      string
	Argument  string
}

// Resolve picks the effective namespace for a request. First present source
// wins; an invalid value from any consulted source is an error rather than
// a fallthrough.
func Resolve(src Sources, fallback string) (string, error) {
	for _, candidate := range []string{src.PathParam, src.Header, src.Meta, src.Argument} {
		if candidate == "" {
			continue
		}
		if !validNamespace.MatchString(candidate) {
			return "", jiveerr.New(jiveerr.CodeInvalidNamespace, "invalid namespace %q", candidate)
		}
		return candidate, nil
	}
	if !validNamespace.MatchString(fallback) {
		return "", jiveerr.New(jiveerr.CodeInvalidNamespace, "invalid default namespace %q", fallback)
	}
	return fallback, nil
}

// Valid reports whether ns matches the namespace grammar.
func Valid(ns string) bool { return validNamespace.MatchString(ns) }
