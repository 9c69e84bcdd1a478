package memory

import "go.uber.org/zap"

// Store bundles the repositories that share one outbox
type Store struct {
	Templates *TemplateRepository
	Responses *ResponseRepository
	Profiles  *ProfileRepository
	Outbox    *Outbox
}

// NewStore wires the repositories together
func NewStore(logger *zap.Logger) *Store {
	s := &Store{Outbox: NewOutbox(logger), Profiles: NewProfileRepository()}
	s.Templates = NewTemplateRepository(nil)
	s.Responses = NewResponseRepository(s.Templates, s.Outbox)
	s.Templates.responses = s.Responses.countFor
	return s
}
