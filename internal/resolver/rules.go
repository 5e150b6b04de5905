package resolver

// rule locates raw media objects in one payload shape. applies reports
// whether the shape is present; extract returns its media objects in order.
type rule struct {
	name    string
	applies func(post, includes map[string]any) bool
	extract func(post, includes map[string]any) []map[string]any
}

// rules are evaluated in priority order; the first rule that yields at least
// one descriptor wins. New payload shapes are added here.
var rules = []rule{
	{
		name:    "normalized",
		applies: func(post, _ map[string]any) bool { return len(asSlice(post["_media"])) > 0 },
		extract: func(post, _ map[string]any) []map[string]any { return objects(post["_media"]) },
	},
	{
		name: "includes",
		applies: func(post, includes map[string]any) bool {
			return len(mediaKeys(post)) > 0 && len(asSlice(includes["media"])) > 0
		},
		extract: fromIncludes,
	},
	embeddedRule("extended_entities", "extendedEntities", "media"),
	embeddedRule("extended_entities", "extended_entities", "media"),
	embeddedRule("entities", "entities", "media"),
	{
		name:    "media",
		applies: func(post, _ map[string]any) bool { return len(asSlice(post["media"])) > 0 },
		extract: func(post, _ map[string]any) []map[string]any { return objects(post["media"]) },
	},
}

func embeddedRule(name string, keys ...string) rule {
	return rule{
		name:    name,
		applies: func(post, _ map[string]any) bool { return len(asSlice(path(post, keys...))) > 0 },
		extract: func(post, _ map[string]any) []map[string]any { return objects(path(post, keys...)) },
	}
}

func mediaKeys(post map[string]any) []string {
	att := asMap(post["attachments"])
	if att == nil {
		return nil
	}
	raw := asSlice(att["media_keys"])
	if raw == nil {
		raw = asSlice(att["mediaKeys"])
	}
	keys := make([]string, 0, len(raw))
	for _, k := range raw {
		if s := stringOf(k); s != "" {
			keys = append(keys, s)
		}
	}
	return keys
}

// fromIncludes resolves each attachment key against the includes side-table
// by exact key match. Unresolved keys are skipped.
func fromIncludes(post, includes map[string]any) []map[string]any {
	byKey := make(map[string]map[string]any)
	for _, m := range objects(includes["media"]) {
		key := firstString(m, "media_key", "mediaKey", "key")
		if key == "" {
			continue
		}
		if _, seen := byKey[key]; !seen {
			byKey[key] = m
		}
	}

	var out []map[string]any
	for _, key := range mediaKeys(post) {
		if m, ok := byKey[key]; ok {
			out = append(out, m)
		}
	}
	return out
}
