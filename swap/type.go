package swap

// Side indicates which leaf of the swap output a participant owns.
type Side uint8

const (
	// SideClaim is the requester side. It pays off-chain and claims the
	// swap output with the secret.
	SideClaim Side = iota

	// SideRefund is the responder side. It funds the swap output and can
	// refund it after the timeout.
	SideRefund
)

func (s Side) String() string {
	switch s {
	case SideClaim:
		return "Claim"
	case SideRefund:
		return "Refund"
	default:
		return "Unknown"
	}
}
