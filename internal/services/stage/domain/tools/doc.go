// Package tools is the typed registry of operations performers can call.
//
// Every tool declares an input struct whose JSON schema is derived once at
// registration and enforced before dispatch. Handlers never panic through
// Dispatch: failures, including recovered panics, come back as an
// {"error": ...} payload the model can read.
package tools
