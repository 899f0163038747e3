// Package schema loads collection schemas from CUE or YAML files.
//
// A CUE file declares collections under the top-level "collection" field:
//
//	collection: human: {
//		version:     0
//		primary_key: "passportId"
//		indexes: [["age"], ["firstName", "lastName"]]
//	}
//
// A YAML file lists them under "collections", using the same field names.
// Every loaded schema is checked with doc.Schema.Validate.
package schema
