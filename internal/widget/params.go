package widget

import (
	"net/url"
	"sort"
	"strings"
)

const (
	ParamOrganizationID      = "organizationId"
	paramOrganizationIDLower = "organizationid"
)

// OrganizationIDFromQuery reads the organization id from a widget URL
// query. The exact spellings are tried first, then any other key that
// matches ignoring case. The first key present decides: an empty value or
// a repeated key yields no id.
func OrganizationIDFromQuery(q url.Values) (string, bool) {
	for _, key := range organizationKeys(q) {
		vals := q[key]
		if len(vals) != 1 || vals[0] == "" {
			return "", false
		}
		return vals[0], true
	}
	return "", false
}

func organizationKeys(q url.Values) []string {
	var keys []string
	for _, k := range []string{ParamOrganizationID, paramOrganizationIDLower} {
		if _, ok := q[k]; ok {
			keys = append(keys, k)
		}
	}
	var folded []string
	for k := range q {
		if k != ParamOrganizationID && k != paramOrganizationIDLower && strings.EqualFold(k, ParamOrganizationID) {
			folded = append(folded, k)
		}
	}
	sort.Strings(folded)
	return append(keys, folded...)
}
