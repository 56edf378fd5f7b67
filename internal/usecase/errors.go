package usecase

// ReasonCode classifies the outcome of one reply attempt. Failure detection
// is always by code, never by matching the customer-facing text.
type ReasonCode string

const (
	ReasonOK            ReasonCode = "ok"
	ReasonRunFailed     ReasonCode = "run_failed"
	ReasonTimeout       ReasonCode = "timeout"
	ReasonReplyNotFound ReasonCode = "reply_not_found"
	ReasonRequestError  ReasonCode = "request_error"
)

// Result is the outcome of an orchestration attempt. Text is always safe to
// show the customer: the sanitized assistant reply on success, a canned
// fallback otherwise.
type Result struct {
	Text   string
	Ok     bool
	Reason ReasonCode
}

func success(text string) Result {
	return Result{Text: text, Ok: true, Reason: ReasonOK}
}

func failure(reason ReasonCode, text string) Result {
	return Result{Text: text, Ok: false, Reason: reason}
}
