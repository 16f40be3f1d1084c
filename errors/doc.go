// Package errors provides structured error types for the IRM file adapter.
//
// Errors are categorized by Phase (where in a call the error occurred) and
// Kind (error category). A failed engine call is reported with Kind status
// and carries the engine's status code:
//
//	err := errors.FromStatus("encrypt-file", "report.docx", status)
//
//	if st, ok := errors.StatusOf(err); ok {
//		log.Printf("engine said %s", st)
//	}
//
// Use the Builder for other structured errors:
//
//	err := errors.New(errors.PhaseMarshal, errors.KindAllocation).
//		Op("alloc-string").
//		Detail("guest returned null").
//		Build()
//
// All errors implement the standard error interface and support errors.Is/As.
// A target with a non-zero Status matches only that status:
//
//	errors.Is(err, &errors.Error{Phase: errors.PhaseEngine, Kind: errors.KindStatus, Status: ipcf.StatusAccessDenied})
package errors
