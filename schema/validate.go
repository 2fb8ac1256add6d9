package schema

import (
	"fmt"
	"regexp"

	"github.com/google/uuid"

	"github.com/contextframe/contextframe-go/models"
)

var dateRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// Validate checks a record against the schema and the dataset's vector
// dimension. dim <= 0 means the dataset has no fixed dimension yet and any
// vector length is rejected.
func Validate(rec *models.Record, dim int) error {
	if rec == nil {
		return &models.ValidationError{Field: "record", Reason: "record is nil"}
	}
	if rec.UUID == "" {
		return &models.ValidationError{Field: ColUUID, Reason: "uuid is required",
			Hint: "omit the field at creation to have one assigned"}
	}
	if _, err := uuid.Parse(rec.UUID); err != nil {
		return &models.ValidationError{Field: ColUUID,
			Reason: fmt.Sprintf("not a valid uuid: %q", rec.UUID)}
	}
	if rec.Title == "" {
		return &models.ValidationError{Field: ColTitle, Reason: "title is required"}
	}
	if !rec.RecordType.IsValid() {
		return &models.ValidationError{Field: ColRecordType,
			Reason: fmt.Sprintf("unknown record_type %q", rec.RecordType),
			Hint:   "one of document, collection_header, dataset_header, frameset"}
	}
	if !rec.Status.IsValid() {
		return &models.ValidationError{Field: ColStatus,
			Reason: fmt.Sprintf("unknown status %q", rec.Status),
			Hint:   "one of draft, review, published, archived, deprecated"}
	}
	if rec.Vector != nil {
		if dim <= 0 {
			return &models.ValidationError{Field: ColVector,
				Reason: "dataset has no vector dimension configured"}
		}
		if len(rec.Vector) != dim {
			return &models.DimensionError{Want: dim, Got: len(rec.Vector)}
		}
	}
	for _, field := range []struct{ name, value string }{
		{ColCreatedAt, rec.CreatedAt},
		{ColUpdatedAt, rec.UpdatedAt},
	} {
		if field.value != "" && !dateRe.MatchString(field.value) {
			return &models.ValidationError{Field: field.name,
				Reason: fmt.Sprintf("date %q is not YYYY-MM-DD", field.value)}
		}
	}
	for i, rel := range rec.Relationships {
		if !rel.Type.IsValid() {
			return &models.ValidationError{
				Field:  fmt.Sprintf("relationships[%d].type", i),
				Reason: fmt.Sprintf("unknown relationship type %q", rel.Type),
			}
		}
		if !rel.HasTarget() {
			return &models.ValidationError{
				Field:  fmt.Sprintf("relationships[%d]", i),
				Reason: "relationship has no identifier",
				Hint:   "set one of id, uri, path, cid",
			}
		}
	}
	seen := make(map[string]bool, len(rec.CustomMetadata))
	for i, p := range rec.CustomMetadata {
		if p.Key == "" {
			return &models.ValidationError{
				Field:  fmt.Sprintf("custom_metadata[%d].key", i),
				Reason: "empty key",
			}
		}
		if seen[p.Key] {
			return &models.ValidationError{
				Field:  ColCustomMetadata,
				Reason: fmt.Sprintf("duplicate key %q", p.Key),
			}
		}
		seen[p.Key] = true
	}
	if len(rec.RawData) > 0 && rec.RawDataType == "" {
		return &models.ValidationError{Field: ColRawDataType,
			Reason: "raw_data requires a raw_data_type MIME hint"}
	}
	return validateRole(rec)
}

// validateRole enforces the record-type specific invariants.
func validateRole(rec *models.Record) error {
	switch rec.RecordType {
	case models.RecordTypeCollectionHeader:
		if rec.Collection == "" {
			return &models.ValidationError{Field: ColCollection,
				Reason: "collection_header requires a collection name"}
		}
	case models.RecordTypeFrameset:
		if rec.Context == "" {
			return &models.ValidationError{Field: ColContext,
				Reason: "frameset requires a context describing the originating query"}
		}
		if len(rec.MemberOfTargets()) == 0 {
			return &models.ValidationError{Field: ColRelationships,
				Reason: "frameset requires member_of relationships to its source records"}
		}
	}
	return nil
}
