package models

// RecordType distinguishes the role a record plays inside a dataset.
type RecordType string

const (
	RecordTypeDocument         RecordType = "document"
	RecordTypeCollectionHeader RecordType = "collection_header"
	RecordTypeDatasetHeader    RecordType = "dataset_header"
	RecordTypeFrameset         RecordType = "frameset"
)

// ValidRecordTypes lists every accepted record_type value.
var ValidRecordTypes = []RecordType{
	RecordTypeDocument,
	RecordTypeCollectionHeader,
	RecordTypeDatasetHeader,
	RecordTypeFrameset,
}

// IsValid reports whether t is one of the known record types.
func (t RecordType) IsValid() bool {
	for _, v := range ValidRecordTypes {
		if t == v {
			return true
		}
	}
	return false
}

// RecordStatus is the enumerated lifecycle status of a record.
type RecordStatus string

const (
	StatusDraft      RecordStatus = "draft"
	StatusReview     RecordStatus = "review"
	StatusPublished  RecordStatus = "published"
	StatusArchived   RecordStatus = "archived"
	StatusDeprecated RecordStatus = "deprecated"
)

// ValidStatuses lists every accepted status value.
var ValidStatuses = []RecordStatus{
	StatusDraft, StatusReview, StatusPublished, StatusArchived, StatusDeprecated,
}

// IsValid reports whether s is a known status. The empty status is valid
// because status is optional metadata.
func (s RecordStatus) IsValid() bool {
	if s == "" {
		return true
	}
	for _, v := range ValidStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// MetadataPair is one (key, value) entry of a record's custom metadata.
// Values are always strings at the storage layer; callers carrying typed
// values JSON-encode them before writing.
type MetadataPair struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Record is a single document-shaped entity in a dataset. The zero value is
// not a valid record; use schema.Validate before writing.
type Record struct {
	UUID        string     `json:"uuid"`
	Title       string     `json:"title"`
	RecordType  RecordType `json:"record_type"`
	TextContent string     `json:"text_content,omitempty"`
	Context     string     `json:"context,omitempty"`
	Vector      []float32  `json:"vector,omitempty"`

	CreatedAt string `json:"created_at,omitempty"` // YYYY-MM-DD
	UpdatedAt string `json:"updated_at,omitempty"` // YYYY-MM-DD
	Version   string `json:"version,omitempty"`    // author-supplied semver

	Author       string       `json:"author,omitempty"`
	Contributors []string     `json:"contributors,omitempty"`
	Tags         []string     `json:"tags,omitempty"`
	Status       RecordStatus `json:"status,omitempty"`

	Collection       string `json:"collection,omitempty"`
	CollectionID     string `json:"collection_id,omitempty"`
	CollectionIDType string `json:"collection_id_type,omitempty"`
	Position         *int   `json:"position,omitempty"`

	SourceFile string `json:"source_file,omitempty"`
	SourceType string `json:"source_type,omitempty"`
	SourceURL  string `json:"source_url,omitempty"`
	LocalPath  string `json:"local_path,omitempty"`
	URI        string `json:"uri,omitempty"`
	CID        string `json:"cid,omitempty"`

	Relationships  []Relationship `json:"relationships,omitempty"`
	CustomMetadata []MetadataPair `json:"custom_metadata,omitempty"`

	RawData     []byte `json:"raw_data,omitempty"`
	RawDataType string `json:"raw_data_type,omitempty"`
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	out := *r
	if r.Vector != nil {
		out.Vector = append([]float32(nil), r.Vector...)
	}
	if r.Contributors != nil {
		out.Contributors = append([]string(nil), r.Contributors...)
	}
	if r.Tags != nil {
		out.Tags = append([]string(nil), r.Tags...)
	}
	if r.Position != nil {
		p := *r.Position
		out.Position = &p
	}
	if r.Relationships != nil {
		out.Relationships = append([]Relationship(nil), r.Relationships...)
	}
	if r.CustomMetadata != nil {
		out.CustomMetadata = append([]MetadataPair(nil), r.CustomMetadata...)
	}
	if r.RawData != nil {
		out.RawData = append([]byte(nil), r.RawData...)
	}
	return &out
}

// CustomValue returns the value for key in the record's custom metadata.
func (r *Record) CustomValue(key string) (string, bool) {
	for _, p := range r.CustomMetadata {
		if p.Key == key {
			return p.Value, true
		}
	}
	return "", false
}

// SetCustomValue inserts or replaces a custom-metadata entry, preserving
// the insertion order of existing keys.
func (r *Record) SetCustomValue(key, value string) {
	for i, p := range r.CustomMetadata {
		if p.Key == key {
			r.CustomMetadata[i].Value = value
			return
		}
	}
	r.CustomMetadata = append(r.CustomMetadata, MetadataPair{Key: key, Value: value})
}

// MemberOfTargets returns the target ids of every member_of relationship.
func (r *Record) MemberOfTargets() []string {
	var out []string
	for _, rel := range r.Relationships {
		if rel.Type == RelationshipMemberOf && rel.ID != "" {
			out = append(out, rel.ID)
		}
	}
	return out
}

// HasBlob reports whether the record carries a binary payload.
func (r *Record) HasBlob() bool {
	return len(r.RawData) > 0
}

// StripBlob returns a copy of the record with the blob payload removed.
// The raw_data_type MIME hint is kept so callers can tell a blob exists.
func (r *Record) StripBlob() *Record {
	out := r.Clone()
	out.RawData = nil
	return out
}
