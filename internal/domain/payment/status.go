package payment

// ChargeStatus tracks how much of a payment has been charged or refunded.
type ChargeStatus string

const (
	ChargeStatusNotCharged        ChargeStatus = "not-charged"
	ChargeStatusPending           ChargeStatus = "pending"
	ChargeStatusPartiallyCharged  ChargeStatus = "partially-charged"
	ChargeStatusFullyCharged      ChargeStatus = "fully-charged"
	ChargeStatusPartiallyRefunded ChargeStatus = "partially-refunded"
	ChargeStatusFullyRefunded     ChargeStatus = "fully-refunded"
	ChargeStatusRefused           ChargeStatus = "refused"
	ChargeStatusCancelled         ChargeStatus = "cancelled"
)

// ParseChargeStatus reports whether s names a known charge status.
func ParseChargeStatus(s string) (ChargeStatus, bool) {
	switch cs := ChargeStatus(s); cs {
	case ChargeStatusNotCharged, ChargeStatusPending, ChargeStatusPartiallyCharged,
		ChargeStatusFullyCharged, ChargeStatusPartiallyRefunded, ChargeStatusFullyRefunded,
		ChargeStatusRefused, ChargeStatusCancelled:
		return cs, true
	default:
		return "", false
	}
}

// TransactionKind identifies the gateway operation a transaction records.
type TransactionKind string

const (
	KindExternal        TransactionKind = "external"
	KindAuth            TransactionKind = "auth"
	KindPending         TransactionKind = "pending"
	KindActionToConfirm TransactionKind = "action_to_confirm"
	KindRefund          TransactionKind = "refund"
	KindRefundOngoing   TransactionKind = "refund_ongoing"
	KindRefundFailed    TransactionKind = "refund_failed"
	KindRefundReversed  TransactionKind = "refund_reversed"
	KindCapture         TransactionKind = "capture"
	KindCaptureFailed   TransactionKind = "capture_failed"
	KindVoid            TransactionKind = "void"
	KindConfirm         TransactionKind = "confirm"
	KindCancel          TransactionKind = "cancel"
)

// allowedGatewayKinds are the kinds a gateway may report back.
var allowedGatewayKinds = map[TransactionKind]struct{}{
	KindAuth:            {},
	KindCapture:         {},
	KindCaptureFailed:   {},
	KindActionToConfirm: {},
	KindVoid:            {},
	KindPending:         {},
	KindRefund:          {},
	KindRefundOngoing:   {},
	KindRefundFailed:    {},
	KindRefundReversed:  {},
	KindConfirm:         {},
	KindCancel:          {},
}

func (k TransactionKind) AllowedFromGateway() bool {
	_, ok := allowedGatewayKinds[k]
	return ok
}
