package domain

// OnboardingStep is one gate in the fixed onboarding sequence. Steps advance
// monotonically; setting a step at or below the current one is a no-op.
type OnboardingStep string

const (
	StepInitial                OnboardingStep = "initial"
	StepProfileSetup           OnboardingStep = "profile_setup"
	StepKYCSubmission          OnboardingStep = "kyc_submission"
	StepVirtualAccountCreation OnboardingStep = "virtual_account_creation"
	StepPINSetup               OnboardingStep = "pin_setup"
	StepCompleted              OnboardingStep = "completed"
)

var onboardingOrder = map[OnboardingStep]int{
	StepInitial:                0,
	StepProfileSetup:           1,
	StepKYCSubmission:          2,
	StepVirtualAccountCreation: 3,
	StepPINSetup:               4,
	StepCompleted:              5,
}

// Index returns the position of the step in the onboarding sequence, or -1
// for an unknown step.
func (s OnboardingStep) Index() int {
	if i, ok := onboardingOrder[s]; ok {
		return i
	}
	return -1
}

// After reports whether s comes strictly after other in the sequence.
func (s OnboardingStep) After(other OnboardingStep) bool {
	return s.Index() > other.Index()
}
