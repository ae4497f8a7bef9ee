package steps

// Sequence is the gating state of one group execution: names of steps that
// succeeded, and names or optional-group keys of optional steps that failed.
// A fresh Sequence is used for every group execution.
type Sequence struct {
	Group   string
	success map[string]struct{}
	failed  map[string]struct{}
}

// NewSequence creates empty gating state for group.
func NewSequence(group string) *Sequence {
	return &Sequence{
		Group:   group,
		success: make(map[string]struct{}),
		failed:  make(map[string]struct{}),
	}
}

// Succeeded reports whether a step called name completed.
func (s *Sequence) Succeeded(name string) bool {
	_, ok := s.success[name]
	return ok
}

// Failed reports whether an optional step or optional group called key failed.
func (s *Sequence) Failed(key string) bool {
	_, ok := s.failed[key]
	return ok
}

func (s *Sequence) markSuccess(name string) {
	if name != "" {
		s.success[name] = struct{}{}
	}
}

func (s *Sequence) markFailed(name, optionalGroup string) {
	if name != "" {
		s.failed[name] = struct{}{}
	}
	if optionalGroup != "" {
		s.failed[optionalGroup] = struct{}{}
	}
}
