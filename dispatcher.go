package httpet

import (
	"net/http"

	registry "github.com/always-cache/httpet/pkg/animal-registry"
	resolver "github.com/always-cache/httpet/pkg/asset-resolver"
	statuscode "github.com/always-cache/httpet/pkg/status-code"
)

// ResponseDescriptor is what the transport needs to answer a request.
//
// Status is always 200: the requested code is content, not the outcome of the request.
// It is echoed in the X-Httpet-Status header instead.
type ResponseDescriptor struct {
	Status      int
	ContentType string
	Asset       registry.Asset
	Result      resolver.Result
	// Host animal as requested, whether or not it is registered.
	RequestedAnimal string
	// Segment is the raw status code segment of the path.
	Segment string
}

// Dispatcher turns a host and a path into a response descriptor.
type Dispatcher struct {
	baseDomain string
	snapshot   func() *resolver.Resolver
}

// NewDispatcher validates the base domain. snapshot returns the resolver to use
// for a request; it is called once per Dispatch.
func NewDispatcher(baseDomain string, snapshot func() *resolver.Resolver) (*Dispatcher, error) {
	domain, err := NormalizeBaseDomain(baseDomain)
	if err != nil {
		return nil, err
	}
	return &Dispatcher{baseDomain: domain, snapshot: snapshot}, nil
}

// BaseDomain returns the normalized base domain.
func (d *Dispatcher) BaseDomain() string {
	return d.baseDomain
}

// Dispatch resolves a request. It never fails: malformed input resolves to a fallback.
func (d *Dispatcher) Dispatch(host, path string) ResponseDescriptor {
	animal := animalFromHost(d.baseDomain, host)
	segment := statusSegment(path)
	code, codeErr := statuscode.Parse(segment)

	result := d.snapshot().Resolve(animal, code, codeErr)
	return ResponseDescriptor{
		Status:          http.StatusOK,
		ContentType:     result.Asset.ContentType,
		Asset:           result.Asset,
		Result:          result,
		RequestedAnimal: animal,
		Segment:         segment,
	}
}
