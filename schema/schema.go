// Package schema defines the frozen logical schema of a dataset: the column
// set, record validation, and the columnar batch layout shared by storage,
// search, and the MCP tools.
package schema

// Column names of the canonical record schema. These are the storage-level
// identifiers used in projections and filter expressions.
const (
	ColUUID             = "uuid"
	ColTitle            = "title"
	ColRecordType       = "record_type"
	ColTextContent      = "text_content"
	ColContext          = "context"
	ColVector           = "vector"
	ColCreatedAt        = "created_at"
	ColUpdatedAt        = "updated_at"
	ColVersion          = "version"
	ColAuthor           = "author"
	ColContributors     = "contributors"
	ColTags             = "tags"
	ColStatus           = "status"
	ColCollection       = "collection"
	ColCollectionID     = "collection_id"
	ColCollectionIDType = "collection_id_type"
	ColPosition         = "position"
	ColSourceFile       = "source_file"
	ColSourceType       = "source_type"
	ColSourceURL        = "source_url"
	ColLocalPath        = "local_path"
	ColURI              = "uri"
	ColCID              = "cid"
	ColRelationships    = "relationships"
	ColCustomMetadata   = "custom_metadata"
	ColRawData          = "raw_data"
	ColRawDataType      = "raw_data_type"
)

// AllColumns lists every column in schema order.
var AllColumns = []string{
	ColUUID, ColTitle, ColRecordType, ColTextContent, ColContext, ColVector,
	ColCreatedAt, ColUpdatedAt, ColVersion, ColAuthor, ColContributors,
	ColTags, ColStatus, ColCollection, ColCollectionID, ColCollectionIDType,
	ColPosition, ColSourceFile, ColSourceType, ColSourceURL, ColLocalPath,
	ColURI, ColCID, ColRelationships, ColCustomMetadata, ColRawData,
	ColRawDataType,
}

// BlobColumns are the columns holding large binary payloads. They are
// excluded from any filtered scan (blob-safe projection) and reachable only
// through the explicit blob-fetch path.
var BlobColumns = map[string]bool{
	ColRawData: true,
}

// scalarColumns are the columns a filter expression may reference directly.
var scalarColumns = map[string]bool{
	ColUUID: true, ColTitle: true, ColRecordType: true, ColTextContent: true,
	ColContext: true, ColCreatedAt: true, ColUpdatedAt: true, ColVersion: true,
	ColAuthor: true, ColStatus: true, ColCollection: true,
	ColCollectionID: true, ColCollectionIDType: true, ColPosition: true,
	ColSourceFile: true, ColSourceType: true, ColSourceURL: true,
	ColLocalPath: true, ColURI: true, ColCID: true, ColRawDataType: true,
}

// listColumns are string-list columns filterable by element membership.
var listColumns = map[string]bool{
	ColContributors: true,
	ColTags:         true,
}

// relationshipFields are the dotted paths filters may use to reach into the
// repeated relationships column: a predicate on one of these matches if any
// element of the list satisfies it.
var relationshipFields = map[string]bool{
	"relationships.type": true,
	"relationships.id":   true,
	"relationships.uri":  true,
	"relationships.path": true,
	"relationships.cid":  true,
}

// IsKnownColumn reports whether name is a column of the schema.
func IsKnownColumn(name string) bool {
	for _, c := range AllColumns {
		if c == name {
			return true
		}
	}
	return false
}

// IsFilterable reports whether a filter expression may reference name.
// Blob, vector, and custom-metadata columns are never filterable.
func IsFilterable(name string) bool {
	return scalarColumns[name] || listColumns[name] || relationshipFields[name]
}

// IsListField reports whether name is a list column or relationship path,
// i.e. predicates match per element.
func IsListField(name string) bool {
	return listColumns[name] || relationshipFields[name]
}
