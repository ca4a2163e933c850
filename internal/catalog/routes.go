package catalog

import "strings"

// LegacyRoute maps a current parametrization path to the path the same data
// was served under before the API was versioned. Segments written as {name}
// match any single segment and are substituted by name in Legacy. An empty
// Legacy means the route has no legacy equivalent.
type LegacyRoute struct {
	Pattern string
	Legacy  string
}

// DefaultLegacyRoutes is the route table of the national parametrization API
var DefaultLegacyRoutes = []LegacyRoute{
	{Pattern: "/parametrizacao/municipios", Legacy: "/municipios"},
	{Pattern: "/parametrizacao/{mun}/{serv}/{comp}/aliquota", Legacy: "/aliquotas/{mun}/{serv}/{comp}"},
	{Pattern: "/parametrizacao/{mun}/{serv}/historicoaliquotas", Legacy: ""},
	{Pattern: "/parametrizacao/{mun}/convenio", Legacy: "/convenios/{mun}"},
}

// Rewrite returns the legacy path for path when it matches the pattern and
// a legacy path exists
func (r LegacyRoute) Rewrite(path string) (string, bool) {
	params, ok := matchPattern(r.Pattern, path)
	if !ok || r.Legacy == "" {
		return "", false
	}

	segments := splitPath(r.Legacy)
	for i, seg := range segments {
		if name, isParam := paramName(seg); isParam {
			segments[i] = params[name]
		}
	}
	return "/" + strings.Join(segments, "/"), true
}

// legacyPath finds the first route whose pattern matches path
func legacyPath(routes []LegacyRoute, path string) (string, bool) {
	for _, r := range routes {
		if _, ok := matchPattern(r.Pattern, path); ok {
			return r.Rewrite(path)
		}
	}
	return "", false
}

func matchPattern(pattern, path string) (map[string]string, bool) {
	pp := splitPath(pattern)
	sp := splitPath(path)
	if len(pp) != len(sp) {
		return nil, false
	}

	params := make(map[string]string)
	for i, seg := range pp {
		if name, isParam := paramName(seg); isParam {
			if sp[i] == "" {
				return nil, false
			}
			params[name] = sp[i]
			continue
		}
		if seg != sp[i] {
			return nil, false
		}
	}
	return params, true
}

func paramName(seg string) (string, bool) {
	if len(seg) > 2 && strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}") {
		return seg[1 : len(seg)-1], true
	}
	return "", false
}

func splitPath(p string) []string {
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	return strings.Split(strings.Trim(p, "/"), "/")
}
