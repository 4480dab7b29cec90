// Package sweeper schedules periodic overdue sweeps against a loan engine
// and pushes due-soon and overdue notifications to a pluggable notifier.
package sweeper
