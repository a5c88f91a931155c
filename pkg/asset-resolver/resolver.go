package resolver

import (
	registry "github.com/always-cache/httpet/pkg/animal-registry"
	statuscode "github.com/always-cache/httpet/pkg/status-code"
)

// Kind tells which rung of the fallback ladder produced a result.
type Kind int

const (
	// Exact is the bespoke asset for the requested animal and code.
	Exact Kind = iota + 1
	// AnimalFallback is the animal's default asset.
	AnimalFallback
	// GlobalFallback is the site default asset.
	GlobalFallback
)

func (k Kind) String() string {
	switch k {
	case Exact:
		return "exact"
	case AnimalFallback:
		return "animal_fallback"
	case GlobalFallback:
		return "global_fallback"
	}
	return "unknown"
}

// Reasons for falling back, for logs.
const (
	ReasonNoAnimal      = "no animal"
	ReasonUnknownAnimal = "unknown animal"
	ReasonInvalidCode   = "invalid code"
	ReasonNoAsset       = "no asset for code"
)

// Result is the outcome of resolving an animal and a status code.
type Result struct {
	Kind  Kind
	Asset registry.Asset
	// Animal is set only when the animal is registered.
	Animal string
	// Code is zero when the code did not parse.
	Code statuscode.Code
	// CodeErr keeps the parse error of the code segment, for diagnostics only.
	CodeErr error
	// Reason explains a fallback. Empty for Exact.
	Reason string
}

// Resolver maps (animal, code) pairs to assets against one registry snapshot.
type Resolver struct {
	registry *registry.Registry
}

func New(reg *registry.Registry) *Resolver {
	return &Resolver{registry: reg}
}

// Registry returns the snapshot the resolver reads from.
func (r *Resolver) Registry() *registry.Registry {
	return r.registry
}

// Resolve walks the fallback ladder. An empty animal means the request named no animal.
// codeErr is the error returned when parsing the code segment, if any.
// Every input resolves to some asset; the function never fails.
func (r *Resolver) Resolve(animal string, code statuscode.Code, codeErr error) Result {
	if codeErr != nil {
		code = 0
	}
	global := Result{
		Kind:    GlobalFallback,
		Asset:   r.registry.Fallback(),
		Code:    code,
		CodeErr: codeErr,
	}

	if animal == "" {
		global.Reason = ReasonNoAnimal
		return global
	}
	entry, ok := r.registry.Lookup(animal)
	if !ok {
		global.Reason = ReasonUnknownAnimal
		return global
	}

	fallback := Result{
		Kind:    AnimalFallback,
		Asset:   entry.Fallback,
		Animal:  entry.Name,
		Code:    code,
		CodeErr: codeErr,
	}
	if codeErr != nil {
		fallback.Reason = ReasonInvalidCode
		return fallback
	}
	asset, ok := entry.Asset(code)
	if !ok {
		fallback.Reason = ReasonNoAsset
		return fallback
	}

	return Result{
		Kind:   Exact,
		Asset:  asset,
		Animal: entry.Name,
		Code:   code,
	}
}
