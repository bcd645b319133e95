package diagnostics

// NewErrorDetail builds an ErrorDetail with its DiagnosticID derived from
// (code, context, message), so callers never compute the hash by hand.
func NewErrorDetail(code, message string, retryable bool, source, category string, ctx ErrorContext) ErrorDetail {
	return ErrorDetail{
		Code:         code,
		Message:      message,
		Retryable:    retryable,
		Source:       source,
		Category:     category,
		DiagnosticID: DiagnosticID(code, ctx, message),
		Context:      ctx,
	}
}
