package secret

import (
	"context"
	"fmt"
	"reflect"
	"strings"
)

// Provider resolves references for one scheme.
type Provider interface {
	Resolve(ctx context.Context, ref Ref) (string, error)
}

// Resolver routes references to providers and expands placeholders in
// strings and structs.
type Resolver struct {
	providers map[string]Provider
	onResolve func(value string)
}

// Option adjusts resolver construction.
type Option func(*Resolver)

// WithProvider registers an additional scheme.
func WithProvider(scheme string, p Provider) Option {
	return func(r *Resolver) { r.providers[scheme] = p }
}

// WithResolveHook installs a callback invoked with every resolved
// value. The log sanitizer registers secrets through it.
func WithResolveHook(fn func(value string)) Option {
	return func(r *Resolver) { r.onResolve = fn }
}

// NewResolver creates a resolver with the env and keyring providers
// registered.
func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{providers: map[string]Provider{
		"env":     NewEnvProvider(),
		"keyring": NewKeyringProvider(),
	}}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve resolves one parsed reference.
func (r *Resolver) Resolve(ctx context.Context, ref Ref) (string, error) {
	provider, ok := r.providers[ref.Provider]
	if !ok {
		return "", fmt.Errorf("%w: %q in %s", ErrUnknownProvider, ref.Provider, ref.Original)
	}
	value, err := provider.Resolve(ctx, ref)
	if err != nil {
		return "", err
	}
	if r.onResolve != nil && value != "" {
		r.onResolve(value)
	}
	return value, nil
}

// Expand substitutes every ${provider:name} placeholder in s. Strings
// without placeholders pass through untouched; any failed reference
// fails the whole expansion.
func (r *Resolver) Expand(ctx context.Context, s string) (string, error) {
	if !IsRef(s) {
		return s, nil
	}
	out := s
	for _, ref := range FindRefs(s) {
		value, err := r.Resolve(ctx, ref)
		if err != nil {
			return "", fmt.Errorf("expand %s: %w", ref.Original, err)
		}
		out = strings.ReplaceAll(out, ref.Original, value)
	}
	return out, nil
}

// ExpandStruct walks v (a pointer to a struct) and expands placeholders
// in every settable string field, including nested structs, slices,
// and string-valued maps.
func (r *Resolver) ExpandStruct(ctx context.Context, v interface{}) error {
	return r.expandValue(ctx, reflect.ValueOf(v))
}

func (r *Resolver) expandValue(ctx context.Context, v reflect.Value) error {
	if !v.IsValid() {
		return nil
	}
	if v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return nil
		}
		return r.expandValue(ctx, v.Elem())
	}

	switch v.Kind() {
	case reflect.String:
		if !v.CanSet() || !IsRef(v.String()) {
			return nil
		}
		expanded, err := r.Expand(ctx, v.String())
		if err != nil {
			return err
		}
		v.SetString(expanded)

	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			if field := v.Field(i); field.CanInterface() {
				if err := r.expandValue(ctx, field); err != nil {
					return err
				}
			}
		}

	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			if err := r.expandValue(ctx, v.Index(i)); err != nil {
				return err
			}
		}

	case reflect.Map:
		for _, key := range v.MapKeys() {
			elem := v.MapIndex(key)
			if elem.Kind() == reflect.Interface {
				elem = elem.Elem()
			}
			if elem.Kind() != reflect.String || !IsRef(elem.String()) {
				continue
			}
			expanded, err := r.Expand(ctx, elem.String())
			if err != nil {
				return err
			}
			v.SetMapIndex(key, reflect.ValueOf(expanded))
		}
	}
	return nil
}
