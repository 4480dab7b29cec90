// Package loanengine contains the storage-agnostic core of the loan
// lifecycle and copy allocation engine: the closed status enums with their
// transition table, the entity value types (Loan, Copy, Member, Book,
// Policy), the typed error taxonomy, and the pure decision functions for
// borrowing eligibility, renewal eligibility, and overdue fee accrual.
//
// Everything in this package is free of side effects and free of external
// dependencies beyond identifier and time handling. The stateful parts of
// the engine - transactions, copy reservation, the overdue sweep - live in
// the storage engines, currently loanengine/postgresengine.
//
// The observability interfaces (Logger, ContextualLogger, MetricsCollector,
// TracingCollector) are defined here so that storage engines and callers can
// share implementations; ready-made OpenTelemetry implementations live in
// loanengine/oteladapters.
package loanengine
