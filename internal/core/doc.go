// Package core holds the domain types of the episode enrichment pipeline.
//
// It has no transport or storage dependencies and is shared by the parser,
// the catalog client, the enrichment engine, the worker and the HTTP layer.
//
// # Uploads
//
// An [Upload] moves through a monotonic state machine:
//
//	Pending -> InProgress -> Completed
//	                      -> Failed
//
// [Upload.Start] and [Upload.Finish] enforce the transitions and stamp
// StartedAt/FinishedAt. InProgress -> InProgress is permitted so an upload
// left behind by a shutdown can be resumed.
//
// # Catalog entities
//
// [Episode], [Character] and [Location] carry ids assigned by the external
// catalog; ids are never generated locally. [UnknownLocationID] is the
// reserved location used when a character's origin or current location
// cannot be resolved.
//
// # Error Handling
//
// Technical errors are mapped to user-friendly messages using [MapError].
// See error_messages.go for the code reference.
package core
