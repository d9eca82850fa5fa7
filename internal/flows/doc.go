// Package flows contains pure-function orchestrators for the multi-step
// Engine operations: refresh rotation with reuse detection, backup code
// generation and consumption, and password reuse checks.
//
// Each flow function accepts a typed dependency struct and returns results
// without side-effects beyond those dependencies, so the protocols can be
// tested with fakes and the Engine stays thin.
//
// # Architecture boundaries
//
// Flow functions coordinate calls to the stores, the token manager, audit and
// metrics. They do NOT own any of these resources; ownership stays with the
// Engine.
//
// # What this package must NOT do
//
//   - Hold mutable state between calls.
//   - Import authcore (to avoid import cycles).
//   - Perform I/O directly. All I/O is mediated through dependency fields.
package flows
