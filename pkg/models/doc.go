// Package models holds the driftnote domain types (notes, todos,
// categories, backup records), the canonical mapping between model and
// wire field names, and the CBOR types of the SurrealDB wire protocol.
package models
