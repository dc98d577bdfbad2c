package ctstraffic

// ErrorPolicy controls what happens on the first non-success verdict.
// Neither policy alters run control: the broker always runs to completion
// of the configured iteration plan.
type ErrorPolicy uint8

const (
	// ErrorPolicyLog logs the failing verdict and continues.
	ErrorPolicyLog ErrorPolicy = iota
	// ErrorPolicyBreak raises a debugger-attach signal for investigation.
	ErrorPolicyBreak
)

func (p ErrorPolicy) String() string {
	switch p {
	case ErrorPolicyLog:
		return "log"
	case ErrorPolicyBreak:
		return "break"
	default:
		return "unknown"
	}
}
