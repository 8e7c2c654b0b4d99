package worklist

import (
	"regexp"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/openimaging/upsd/pkg/api"
)

// MatchFilter reports whether a workitem dataset satisfies a DICOM+JSON
// query dataset. Every attribute in the query with a non-empty value must
// match the corresponding attribute of the dataset; `*` and `?` wildcards
// are honored, and a multi-valued query attribute matches when any of its
// values does
func MatchFilter(filter, ds api.Dataset) bool {
	if len(filter) == 0 {
		return true
	}
	matched := true
	gjson.ParseBytes(filter).ForEach(func(tag, attr gjson.Result) bool {
		values := attr.Get("Value").Array()
		if len(values) == 0 {
			return true
		}
		candidate := api.DatasetString(ds, tag.String())
		for _, v := range values {
			pattern := v.String()
			if pattern == "" || pattern == "*" {
				return true
			}
			if matchValue(pattern, candidate) {
				return true
			}
		}
		matched = false
		return false
	})
	return matched
}

// MatchParams reports whether a dataset satisfies a flat tag-to-pattern
// query, as produced by search query parameters
func MatchParams(params map[string]string, ds api.Dataset) bool {
	for tag, pattern := range params {
		if pattern == "" || pattern == "*" {
			continue
		}
		if !matchValue(pattern, api.DatasetString(ds, tag)) {
			return false
		}
	}
	return true
}

func matchValue(pattern, value string) bool {
	if !strings.ContainsAny(pattern, "*?") {
		return pattern == value
	}
	re, err := compileWildcard(pattern)
	if err != nil {
		return false
	}
	return re.MatchString(value)
}

func compileWildcard(pattern string) (*regexp.Regexp, error) {
	escaped := regexp.QuoteMeta(pattern)
	escaped = strings.ReplaceAll(escaped, `\*`, ".*")
	escaped = strings.ReplaceAll(escaped, `\?`, ".")
	return regexp.Compile("^" + escaped + "$")
}
