package bootstrap

import (
	"errors"
	"fmt"
	"strings"

	skerrors "github.com/skylight-social/skyops/internal/errors"
	"github.com/skylight-social/skyops/internal/logging"
)

// Source says where a secret value came from in this run.
type Source string

const (
	SourceSupplied Source = "supplied"
	SourceMinted   Source = "minted"
	// SourceSkipped means fetching was turned off and no value was given.
	SourceSkipped Source = "skipped"
	// SourceDegraded means acquisition or issuance failed and the run went on
	// without a value.
	SourceDegraded Source = "degraded"
	SourceNone     Source = "none"
)

// Status is what happened to the secret in the store.
type Status string

const (
	StatusCreated  Status = "created"
	StatusUpdated  Status = "updated"
	StatusVerified Status = "verified"
	StatusMissing  Status = "missing"
	StatusFailed   Status = "failed"
)

// Outcome is the result for one secret.
type Outcome struct {
	Secret  string
	Source  Source
	Status  Status
	Version string
	Granted bool
	// Cause is why no value was available, for degraded outcomes.
	Cause error
	// Err is the store failure, for failed outcomes.
	Err error
}

// Report collects the outcomes of one run.
type Report struct {
	Project     string
	Environment string
	Outcomes    []Outcome
}

func (r *Report) add(o Outcome) {
	r.Outcomes = append(r.Outcomes, o)
}

// Outcome returns the outcome for a secret name.
func (r *Report) Outcome(secret string) (Outcome, bool) {
	for _, o := range r.Outcomes {
		if o.Secret == secret {
			return o, true
		}
	}
	return Outcome{}, false
}

// Failed returns outcomes whose secret could not be written or granted.
func (r *Report) Failed() []Outcome {
	return r.filter(func(o Outcome) bool { return o.Status == StatusFailed })
}

// Degraded returns outcomes that went ahead without an issued key.
func (r *Report) Degraded() []Outcome {
	return r.filter(func(o Outcome) bool { return o.Source == SourceDegraded })
}

func (r *Report) filter(keep func(Outcome) bool) []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if keep(o) {
			out = append(out, o)
		}
	}
	return out
}

// Err turns the report into the run's exit error. Store failures always
// fail the run; degraded key issuance only does when failOnDegrade is set.
func (r *Report) Err(failOnDegrade bool) error {
	if failed := r.Failed(); len(failed) > 0 {
		names := make([]string, 0, len(failed))
		errs := make([]error, 0, len(failed))
		for _, o := range failed {
			names = append(names, o.Secret)
			errs = append(errs, o.Err)
		}
		return &skerrors.Error{
			Kind:    skerrors.SecretPersistenceFailed,
			Message: fmt.Sprintf("%d of %d secrets not provisioned (%s)", len(failed), len(r.Outcomes), strings.Join(names, ", ")),
			Err:     errors.Join(errs...),
		}
	}
	if failOnDegrade {
		if degraded := r.Degraded(); len(degraded) > 0 {
			return &skerrors.Error{
				Kind:       skerrors.KeyIssuanceFailed,
				Message:    fmt.Sprintf("no key issued for %s", degraded[0].Secret),
				Suggestion: "Fix the cluster credential or pass --elasticsearch-api-key; unset --fail-on-degrade to continue without it",
				Err:        degraded[0].Cause,
			}
		}
	}
	return nil
}

// Status summarises the run for metrics.
func (r *Report) Status() string {
	switch {
	case len(r.Failed()) > 0:
		return "failed"
	case len(r.Degraded()) > 0:
		return "degraded"
	default:
		return "ok"
	}
}

// Log prints one line per secret.
func (r *Report) Log(logger *logging.Logger) {
	for _, o := range r.Outcomes {
		switch o.Status {
		case StatusCreated, StatusUpdated:
			logger.Info("%s: %s (version %s, value %s)", o.Secret, o.Status, o.Version, o.Source)
		case StatusVerified:
			if o.Source == SourceDegraded {
				logger.Warn("%s: existing secret kept, no new key was issued", o.Secret)
			} else {
				logger.Info("%s: access verified", o.Secret)
			}
		case StatusMissing:
			logger.Warn("%s: secret does not exist; supply a value to create it", o.Secret)
		case StatusFailed:
			logger.Error("%s: %v", o.Secret, o.Err)
		}
	}
}
