package nwc

type by = []byte

// Methods are the text of the method field of a wallet request, in a form
// that allows more convenient reference than a map or package scoped
// variable.
var Methods = struct {
	PayInvoice,
	MultiPayInvoice,
	PayKeysend,
	MakeInvoice,
	LookupInvoice,
	ListTransactions,
	GetBalance,
	GetInfo string
}{
	"pay_invoice",
	"multi_pay_invoice",
	"pay_keysend",
	"make_invoice",
	"lookup_invoice",
	"list_transactions",
	"get_balance",
	"get_info",
}

// Keys are the JSON object keys of the request payload.
var Keys = struct {
	ID,
	Method,
	Params,
	Invoice,
	Amount,
	ZapRequest,
	Lnurl by
}{
	by("id"),
	by("method"),
	by("params"),
	by("invoice"),
	by("amount"),
	by("zap_request"),
	by("lnurl"),
}

// Errors are the codes a wallet puts in the error object of a response.
var Errors = struct {
	// RateLimited - The client is sending commands too fast.It should retry in a few seconds.
	RateLimited,
	// NotImplemented - The command is not known or is intentionally not implemented.
	NotImplemented,
	// InsufficientBalance - The wallet does not have enough funds to cover a fee reserve or the payment amount.
	InsufficientBalance,
	// QuotaExceeded - The wallet has exceeded its spending quota.
	QuotaExceeded,
	// Restricted - This public key is not allowed to do this operation.
	Restricted,
	// Unauthorized - This public key has no wallet connected.
	Unauthorized,
	// UnsupportedEncryption - The encryption type of the request is not supported.
	UnsupportedEncryption,
	// PaymentFailed - The payment failed, for instance because no route was found.
	PaymentFailed,
	// Internal - An internal error.
	Internal,
	// Other - Other error.
	Other string
}{
	"RATE_LIMITED",
	"NOT_IMPLEMENTED",
	"INSUFFICIENT_BALANCE",
	"QUOTA_EXCEEDED",
	"RESTRICTED",
	"UNAUTHORIZED",
	"UNSUPPORTED_ENCRYPTION",
	"PAYMENT_FAILED",
	"INTERNAL",
	"OTHER",
}

// Tags are the tag keys used on wallet connect events.
var Tags = struct {
	P, E, Encryption, Notifications string
}{"p", "e", "encryption", "notifications"}
