// Package helper provides test fixtures for the loan tables and spy
// implementations of the observability interfaces.
package helper
