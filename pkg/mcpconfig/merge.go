package mcpconfig

import (
	"maps"
	"slices"

	"dario.cat/mergo"
)

// mergeServers combines two server maps. Neither input is modified.
func mergeServers(local, remote map[string]rawServer, strategy MergeStrategy) (map[string]rawServer, error) {
	out := make(map[string]rawServer, len(local)+len(remote))
	switch strategy {
	case MergeRemotePriority:
		for name, s := range local {
			out[name] = cloneRaw(s)
		}
		for name, s := range remote {
			out[name] = cloneRaw(s)
		}
	case MergeDeep:
		for name, s := range remote {
			out[name] = cloneRaw(s)
		}
		for name, l := range local {
			r, shared := remote[name]
			if !shared || launchKind(l) != launchKind(r) {
				out[name] = cloneRaw(l)
				continue
			}
			merged := cloneRaw(l)
			// Set pointers count as values: a local false is not filled in.
			if err := mergo.Merge(&merged, cloneRaw(r), mergo.WithoutDereference); err != nil {
				return nil, err
			}
			out[name] = merged
		}
	default:
		for name, s := range remote {
			out[name] = cloneRaw(s)
		}
		for name, s := range local {
			out[name] = cloneRaw(s)
		}
	}
	return out, nil
}

// launchKind distinguishes process-launched entries from URL entries; a
// deep merge across the two would produce an entry with both set.
func launchKind(s rawServer) string {
	if s.Command != "" {
		return "command"
	}
	return "url"
}

func cloneRaw(s rawServer) rawServer {
	s.Args = slices.Clone(s.Args)
	s.Env = maps.Clone(s.Env)
	s.Headers = maps.Clone(s.Headers)
	s.Config.ToolBlacklist = slices.Clone(s.Config.ToolBlacklist)
	s.Disabled = cloneBool(s.Disabled)
	s.Config.OmitToolDescription = cloneBool(s.Config.OmitToolDescription)
	return s
}

func cloneBool(b *bool) *bool {
	if b == nil {
		return nil
	}
	v := *b
	return &v
}
