package session

import (
	"context"

	"github.com/opentracing/opentracing-go"

	"github.com/mailsweep/mailsweep/internal/credential"
	"github.com/mailsweep/mailsweep/internal/enum"
	"github.com/mailsweep/mailsweep/internal/tracing"
)

// Validator classifies one provider's credential, possibly returning a
// refreshed replacement. Implemented by credential.Vault.
type Validator interface {
	Validate(ctx context.Context, provider enum.Provider, cred *credential.Credential) (*credential.Credential, error)
}

type VerifyResult struct {
	Valid   []enum.Provider
	Invalid []enum.Provider

	// ShouldForceReauth is true only when the primary provider is invalid and
	// no other connected provider is valid. A user with a dead primary but a
	// working fallback keeps their session; only total loss forces login.
	ShouldForceReauth bool
}

func (r VerifyResult) IsValid(name enum.Provider) bool {
	for _, p := range r.Valid {
		if p == name {
			return true
		}
	}
	return false
}

// VerifyAll reconciles the believed connection set against credential ground
// truth. Ordering matters: an expired OAuth credential gets its refresh
// attempt before being declared invalid, because access-token expiry is the
// common case, not the exceptional one. Refreshed credentials are written
// back into the state in place.
func VerifyAll(ctx context.Context, st *State, v Validator) VerifyResult {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Session.VerifyAll")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	var result VerifyResult

	for _, name := range providerOrder {
		cred, ok := st.Credentials[name]
		if !ok {
			continue
		}

		validated, err := v.Validate(ctx, name, cred)
		if err != nil {
			tracing.TraceErr(span, err)
			result.Invalid = append(result.Invalid, name)
			continue
		}
		if validated != cred {
			st.Credentials[name] = validated
		}
		result.Valid = append(result.Valid, name)
	}

	if st.Primary != enum.ProviderNone && !result.IsValid(st.Primary) {
		result.ShouldForceReauth = len(result.Valid) == 0
	}

	span.SetTag("providers.valid", len(result.Valid))
	span.SetTag("providers.invalid", len(result.Invalid))
	span.SetTag("force.reauth", result.ShouldForceReauth)

	return result
}
