package scim

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// DefaultUserMapping is the attribute mapping applied when a destination
// configures none. Targets are SCIM attribute paths, sources are expressions
// over the event snapshot view {user:{…}, profile:{…}}.
var DefaultUserMapping = map[string]string{
	"userName":          "$.user.username",
	"externalId":        "$.user.id",
	"name.givenName":    "$.profile.given_name",
	"name.familyName":   "$.profile.family_name",
	"emails[0].value":   "$.user.email",
	"emails[0].primary": "true",
}

// defaultGroupMapping is fixed: custom attribute mappings configure user
// serialization only.
var defaultGroupMapping = map[string]string{
	"displayName": "$.group.displayName",
	"externalId":  "$.group.id",
}

// BuildUserResource maps an event snapshot to a SCIM User document using the
// destination's attribute mapping (or the defaults when empty). scimID is set
// as the top-level id for updates and left out for creates. Sources that do
// not resolve against the snapshot are skipped, so a mapping with no valid
// sources yields a minimal document carrying only schemas.
func BuildUserResource(snapshot map[string]any, mapping map[string]string, scimID string) (map[string]any, error) {
	if len(mapping) == 0 {
		mapping = DefaultUserMapping
	}
	return buildResource(snapshot, mapping, UserSchema, scimID)
}

// BuildGroupResource maps an event snapshot to a SCIM Group document.
func BuildGroupResource(snapshot map[string]any, scimID string) (map[string]any, error) {
	return buildResource(snapshot, defaultGroupMapping, GroupSchema, scimID)
}

func buildResource(snapshot map[string]any, mapping map[string]string, schema, scimID string) (map[string]any, error) {
	doc := map[string]any{
		"schemas": []string{schema},
	}

	// Apply entries in sorted target order so repeated translations of the
	// same snapshot produce the same document.
	targets := make([]string, 0, len(mapping))
	for target := range mapping {
		targets = append(targets, target)
	}
	sort.Strings(targets)

	for _, target := range targets {
		value, ok := resolveSource(mapping[target], snapshot)
		if !ok {
			continue
		}
		if err := setPath(doc, target, value); err != nil {
			return nil, fmt.Errorf("failed to assign %q: %w", target, err)
		}
	}

	if scimID != "" {
		doc["id"] = scimID
	}
	return doc, nil
}

// ValidateMapping checks a custom attribute mapping at configuration time:
// every target must be a parseable SCIM attribute path and every source
// expression non-empty. A nil or empty mapping is valid (the defaults apply).
func ValidateMapping(mapping map[string]string) error {
	for target, source := range mapping {
		if _, err := parseTargetPath(target); err != nil {
			return fmt.Errorf("target %q: %w", target, err)
		}
		if strings.TrimSpace(source) == "" {
			return fmt.Errorf("target %q has an empty source expression", target)
		}
	}
	return nil
}

// DeactivatePatch builds the PATCH that flips a downstream user inactive.
func DeactivatePatch() PatchOp {
	return PatchOp{
		Schemas: []string{PatchOpSchema},
		Operations: []PatchOperation{
			{Op: "replace", Path: "active", Value: false},
		},
	}
}

// AddMemberPatch builds the PATCH that adds one user to a group.
func AddMemberPatch(userSCIMID string) PatchOp {
	return PatchOp{
		Schemas: []string{PatchOpSchema},
		Operations: []PatchOperation{
			{Op: "add", Path: "members", Value: []MemberValue{{Value: userSCIMID}}},
		},
	}
}

// RemoveMemberPatch builds the PATCH that removes one user from a group via
// a value filter path.
func RemoveMemberPatch(userSCIMID string) PatchOp {
	return PatchOp{
		Schemas: []string{PatchOpSchema},
		Operations: []PatchOperation{
			{Op: "remove", Path: fmt.Sprintf("members[value eq %q]", userSCIMID)},
		},
	}
}

// resolveSource evaluates a mapping source expression against the snapshot
// view. Supported forms: the literals "true"/"false" (booleans) and "$."
// paths walked through nested objects. String values are normalized to NFC
// so downstream servers compare identifiers consistently.
func resolveSource(expr string, view map[string]any) (any, bool) {
	switch expr {
	case "true":
		return true, true
	case "false":
		return false, true
	}
	rest, ok := strings.CutPrefix(expr, "$.")
	if !ok || rest == "" {
		return nil, false
	}

	var cur any = view
	for _, seg := range strings.Split(rest, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok || cur == nil {
			return nil, false
		}
	}
	if s, ok := cur.(string); ok {
		return norm.NFC.String(s), true
	}
	return cur, true
}

// pathSegment is one dotted component of a target path, with any bracket
// indices that follow its name ("emails[0]" → name "emails", indices [0]).
type pathSegment struct {
	name    string
	indices []int
}

func parseTargetPath(path string) ([]pathSegment, error) {
	if path == "" {
		return nil, fmt.Errorf("empty target path")
	}
	parts := strings.Split(path, ".")
	segs := make([]pathSegment, 0, len(parts))
	for _, part := range parts {
		seg := pathSegment{name: part}
		if i := strings.IndexByte(part, '['); i >= 0 {
			seg.name = part[:i]
			for rest := part[i:]; rest != ""; {
				if rest[0] != '[' {
					return nil, fmt.Errorf("malformed index in %q", part)
				}
				end := strings.IndexByte(rest, ']')
				if end < 0 {
					return nil, fmt.Errorf("unterminated index in %q", part)
				}
				idx, err := strconv.Atoi(rest[1:end])
				if err != nil || idx < 0 {
					return nil, fmt.Errorf("bad index in %q", part)
				}
				seg.indices = append(seg.indices, idx)
				rest = rest[end+1:]
			}
		}
		if seg.name == "" {
			return nil, fmt.Errorf("missing attribute name in %q", part)
		}
		segs = append(segs, seg)
	}
	return segs, nil
}

// setPath assigns value at the target path inside doc, creating intermediate
// objects and growing arrays on demand so in-range assignments never fail.
func setPath(doc map[string]any, path string, value any) error {
	segs, err := parseTargetPath(path)
	if err != nil {
		return err
	}
	assignInto(doc, segs, value)
	return nil
}

func assignInto(m map[string]any, segs []pathSegment, value any) {
	seg := segs[0]
	rest := segs[1:]

	if len(seg.indices) == 0 {
		if len(rest) == 0 {
			m[seg.name] = value
			return
		}
		child, ok := m[seg.name].(map[string]any)
		if !ok {
			child = make(map[string]any)
			m[seg.name] = child
		}
		assignInto(child, rest, value)
		return
	}

	arr, _ := m[seg.name].([]any)
	m[seg.name] = assignIndexed(arr, seg.indices, rest, value)
}

func assignIndexed(arr []any, indices []int, rest []pathSegment, value any) []any {
	idx := indices[0]
	for len(arr) <= idx {
		arr = append(arr, nil)
	}

	switch {
	case len(indices) > 1:
		inner, _ := arr[idx].([]any)
		arr[idx] = assignIndexed(inner, indices[1:], rest, value)
	case len(rest) == 0:
		arr[idx] = value
	default:
		child, ok := arr[idx].(map[string]any)
		if !ok {
			child = make(map[string]any)
		}
		assignInto(child, rest, value)
		arr[idx] = child
	}
	return arr
}
