package session

import (
	"github.com/ashureev/readiness-wizard/internal/domain"
	"github.com/ashureev/readiness-wizard/internal/metrics"
	"github.com/ashureev/readiness-wizard/internal/wizard"
)

// ValidateFunc validates the data of the step identified by stepID.
type ValidateFunc func(stepID string, data domain.StepData) domain.FieldErrors

// ValidationMiddleware checks step data before it reaches the reducer.
//
// Step data updates are always forwarded; failing fields are attached with a
// follow-up SetStepErrors. Forward navigation away from an invalid step is
// suppressed when the step still fails its rules. Backward navigation always
// passes.
func ValidationMiddleware(validate ValidateFunc) Middleware {
	if validate == nil {
		validate = wizard.Validate
	}
	return func(api API) func(next Dispatch) Dispatch {
		return func(next Dispatch) Dispatch {
			return func(action Action) {
				switch a := action.(type) {
				case SetStepData:
					step := api.State().Step(a.StepIndex)
					if step == nil {
						next(action)
						return
					}
					errs := validate(step.ID, MergeData(step.Data, a.Data))
					next(action)
					if len(errs) > 0 {
						api.Dispatch(SetStepErrors{StepIndex: a.StepIndex, Errors: errs})
					}

				case SetCurrentStep:
					state := api.State()
					current := state.CurrentStep()
					forward := a.Index > state.CurrentStepIndex && a.Index < state.TotalSteps()
					if forward && current != nil && !current.IsValid {
						if errs := validate(current.ID, current.Data); len(errs) > 0 {
							metrics.NavigationBlockedTotal.Inc()
							api.Dispatch(SetStepErrors{StepIndex: state.CurrentStepIndex, Errors: errs})
							return
						}
					}
					next(action)

				default:
					next(action)
				}
			}
		}
	}
}
