package transport

import (
	"math/rand"
	"reflect"
	"time"

	"github.com/imdario/mergo"
)

func init() {
	rand.Seed(time.Now().UnixNano())
}

type ptrTransformers struct{}

// overwrites pointer-typed fields only when dst left them nil, so a default
// can fill a gap but never blanks out a value the caller already set. mergo
// consults it only for a dst pointer whose pointee is non-zero; a pointer to
// a zero value such as *bool(false) is protected by applyDefaults instead.
func (ptrTransformers) Transformer(tp reflect.Type) func(dst, src reflect.Value) error {
	if tp.Kind() == reflect.Ptr {
		return func(dst, src reflect.Value) error {
			if dst.CanSet() && dst.IsNil() && !src.IsNil() {
				dst.Set(src)
			}
			return nil
		}
	}
	return nil
}

// applyDefaults merges non-zero fields of defaults into opts wherever opts
// left them unset. A pointer field opts already set is never touched, even
// when it points at a zero value: its default is dropped before merging so
// mergo cannot dereference into it.
func applyDefaults(opts, defaults interface{}) error {
	dst := reflect.Indirect(reflect.ValueOf(opts))
	src := reflect.Indirect(reflect.ValueOf(defaults))
	if dst.Kind() == reflect.Struct && dst.Type() == src.Type() {
		trimmed := reflect.New(src.Type()).Elem()
		trimmed.Set(src)
		for i := 0; i < dst.NumField(); i++ {
			if f := dst.Field(i); f.Kind() == reflect.Ptr && !f.IsNil() && trimmed.Field(i).CanSet() {
				trimmed.Field(i).Set(reflect.Zero(f.Type()))
			}
		}
		defaults = trimmed.Interface()
	}
	return mergo.Merge(opts, defaults, mergo.WithTransformers(ptrTransformers{}))
}

func boolPtr(v bool) *bool { return &v }

// defaultRtcpParameters fills in the reducedSize/mux fields endpoints
// commonly omit from their signaled RtcpParameters, per the "Default true"
// notes on RtcpParameters.
func defaultRtcpParameters() RtcpParameters {
	return RtcpParameters{
		ReducedSize: boolPtr(true),
		Mux:         boolPtr(true),
	}
}

// jitterFactor draws the RTCP reciprocal-timing jitter multiplier: a uniform
// value in [0.5, 1.5], in steps of 0.1, as mandated by RFC 3550 section 6.3.1.
func jitterFactor() float64 {
	return float64(5+rand.Intn(11)) / 10
}
