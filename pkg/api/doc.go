// Package api defines the shared domain and wire types for the UPS-RS
// worklist server
//
// This package includes workitem and subscription records, procedure step
// states, state-change events, notification payloads, and the DICOM+JSON
// dataset helpers used throughout the server
package api
