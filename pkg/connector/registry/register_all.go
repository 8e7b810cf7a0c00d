package registry

import (
	"github.com/ajitpratap0/nebula-sync/pkg/connector/core"
	linkedinads "github.com/ajitpratap0/nebula-sync/pkg/connector/sources/linkedin_ads"
	"github.com/ajitpratap0/nebula-sync/pkg/connector/sources/sample"
	"github.com/ajitpratap0/nebula-sync/pkg/errors"
)

// Builtin lists every connector shipped with nebula-sync in registration order.
func Builtin() []Descriptor {
	return []Descriptor{
		{
			Type:        core.ConnectorTypeLinkedInAds,
			Version:     linkedinads.Version,
			Description: linkedinads.Description,
			Spec:        linkedinads.Spec(),
			Factory:     linkedinads.New,
		},
		{
			Type:        core.ConnectorTypeSample,
			Version:     sample.Version,
			Description: sample.Description,
			Spec:        sample.Spec(),
			Factory:     sample.New,
		},
	}
}

// RegisterAll registers the builtin connectors on r.
func RegisterAll(r *Registry) error {
	var result error
	for _, d := range Builtin() {
		result = errors.Append(result, r.Register(d))
	}
	return result
}
