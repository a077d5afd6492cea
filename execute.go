package machina

// Execute is a registered on-demand unit: a name, a body, and an
// ordered sequence of ConcurrentGroups the invocation wrapper must acquire,
// in order, before the body runs. Immutable after registration.
type Execute struct {
	name   Name
	body   ExecuteBody
	groups []*ConcurrentGroup
}

func newExecute(name Name, body ExecuteBody, groups []*ConcurrentGroup) *Execute {
	return &Execute{name: name, body: body, groups: groups}
}
