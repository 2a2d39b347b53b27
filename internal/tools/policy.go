package tools

// ResolveAllowed computes a bot's effective tool set: the allow list
// intersected with registered tools, minus the deny list. An empty allow
// list means every registered tool.
func ResolveAllowed(all []string, allowedTools, deniedTools []string) map[string]bool {
	registered := make(map[string]bool, len(all))
	for _, name := range all {
		registered[name] = true
	}

	effective := make(map[string]bool)
	if len(allowedTools) == 0 {
		for name := range registered {
			effective[name] = true
		}
	} else {
		for _, name := range allowedTools {
			if registered[name] {
				effective[name] = true
			}
		}
	}

	for _, name := range deniedTools {
		delete(effective, name)
	}
	return effective
}
