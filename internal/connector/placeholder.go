package connector

import (
	"context"

	"github.com/and161185/portal-keeper/internal/model"
)

// Placeholder answers every sync with a fixed "not yet implemented" summary.
type Placeholder struct {
	Name     string
	Message  string
	Sections []string
}

// Sync implements Connector.
func (p Placeholder) Sync(context.Context, model.DecryptedCredential) (model.SyncResult, error) {
	details := make(map[string]int, len(p.Sections))
	for _, s := range p.Sections {
		details[s] = 0
	}
	return model.SyncResult{Summary: model.SyncSummary{
		Connector: p.Name,
		Status:    model.StatusNotImplemented,
		Message:   p.Message,
		Details:   details,
	}}, nil
}

// RegisterPlaceholders registers the API-based portal types that have no connector yet.
func RegisterPlaceholders(r *Registry) {
	for typ, p := range map[string]Placeholder{
		"epic": {
			Name:     "Epic MyChart (FHIR)",
			Message:  "Epic MyChart FHIR connector is not available in this build",
			Sections: []string{"labResults", "medications", "vitals", "conditions"},
		},
		"cerner": {
			Name:     "Cerner Health (FHIR)",
			Message:  "Cerner FHIR API connector planned for Phase 3",
			Sections: []string{"labResults", "medications", "vitals", "conditions", "immunizations"},
		},
		"athena": {
			Name:     "Athenahealth (FHIR)",
			Message:  "Athenahealth API connector planned for Phase 3",
			Sections: []string{"labResults", "medications", "vitals", "conditions"},
		},
	} {
		p := p
		r.Register(typ, func(Deps) (Connector, error) { return p, nil })
	}
}
