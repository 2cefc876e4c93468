package swapdb

// Stage indicates how far a swap progressed. A single type serves both sides
// of a swap.
type Stage uint8

const (
	// StageInitiated is the initial stage. The request is created, and on
	// the refund side the hold invoices exist.
	StageInitiated Stage = 0

	// StagePaymentsSent means the claim side dispatched the funding and
	// deposit payments.
	StagePaymentsSent Stage = 1

	// StageHoldsAccepted means the refund side holds both the funding and
	// the deposit payment with sufficient margin.
	StageHoldsAccepted Stage = 2

	// StageScriptDerived means the swap output script was derived and
	// matches the counterpart's keys.
	StageScriptDerived Stage = 3

	// StageOutputConfirmed means the claim side found the confirmed swap
	// output.
	StageOutputConfirmed Stage = 4

	// StageSweepsSigned means the sweeps of our side are pre-signed.
	StageSweepsSigned Stage = 5

	// StagePreimagePushed means the claim side delivered the secret
	// through the push payment.
	StagePreimagePushed Stage = 6

	// StageCooperativeKey means the claim side learned the joint key.
	StageCooperativeKey Stage = 7

	// StageSweepPublished means a sweep of the swap output was broadcast.
	StageSweepPublished Stage = 8

	// StageFundingLocked means the refund side has a signed funding
	// transaction.
	StageFundingLocked Stage = 9

	// StageFundingPublished means the funding transaction was broadcast.
	StageFundingPublished Stage = 10

	// StageSecretLearned means the refund side learned the swap secret.
	StageSecretLearned Stage = 11

	// StageFundingSettled means the refund side settled the funding
	// invoice.
	StageFundingSettled Stage = 12

	// StageSuccess is the final stage of a completed swap.
	StageSuccess Stage = 13

	// StageFailOutputTimeout means no swap output appeared before the
	// claim side gave up waiting.
	StageFailOutputTimeout Stage = 14

	// StageFailTimeout means the refund side reached the timeout without
	// learning the secret and published a refund.
	StageFailTimeout Stage = 15

	// StageFailRefunded means the swap output was spent through the refund
	// leaf.
	StageFailRefunded Stage = 16

	// StageFailProtocol means the counterpart violated the protocol, for
	// example with a mismatching key or insufficient margin.
	StageFailProtocol Stage = 17

	// StageFailTemporary means the swap cannot progress because of an
	// internal or backend error. It is not final, a restart resumes it.
	StageFailTemporary Stage = 18
)

// StageType groups stages into pending, success and failure.
type StageType uint8

const (
	// StageTypePending indicates that the swap is still pending.
	StageTypePending StageType = 0

	// StageTypeSuccess indicates that the swap has completed successfully.
	StageTypeSuccess StageType = 1

	// StageTypeFail indicates that the swap has failed.
	StageTypeFail StageType = 2
)

// Type returns the type of the stage.
func (s Stage) Type() StageType {
	switch {
	case s == StageSuccess:
		return StageTypeSuccess

	case s == StageFailTemporary || s < StageSuccess:
		return StageTypePending

	default:
		return StageTypeFail
	}
}

// IsFinal returns true if the swap can no longer progress.
func (s Stage) IsFinal() bool {
	return s.Type() != StageTypePending
}

// String returns a string representation of the stage.
func (s Stage) String() string {
	switch s {
	case StageInitiated:
		return "Initiated"

	case StagePaymentsSent:
		return "PaymentsSent"

	case StageHoldsAccepted:
		return "HoldsAccepted"

	case StageScriptDerived:
		return "ScriptDerived"

	case StageOutputConfirmed:
		return "OutputConfirmed"

	case StageSweepsSigned:
		return "SweepsSigned"

	case StagePreimagePushed:
		return "PreimagePushed"

	case StageCooperativeKey:
		return "CooperativeKey"

	case StageSweepPublished:
		return "SweepPublished"

	case StageFundingLocked:
		return "FundingLocked"

	case StageFundingPublished:
		return "FundingPublished"

	case StageSecretLearned:
		return "SecretLearned"

	case StageFundingSettled:
		return "FundingSettled"

	case StageSuccess:
		return "Success"

	case StageFailOutputTimeout:
		return "FailOutputTimeout"

	case StageFailTimeout:
		return "FailTimeout"

	case StageFailRefunded:
		return "FailRefunded"

	case StageFailProtocol:
		return "FailProtocol"

	case StageFailTemporary:
		return "FailTemporary"

	default:
		return "Unknown"
	}
}
