package models

// ListingMetadata is the immutable record published next to the encrypted
// payload. The two blobs always travel together as one content-addressed
// directory.
type ListingMetadata struct {
	Seller         string   `json:"seller"`
	FileName       string   `json:"file_name"`
	Description    string   `json:"description"`
	Size           int64    `json:"size"`
	SuggestedPrice string   `json:"suggested_price"`
	CoverCID       string   `json:"cover_cid"`
	ChainIDs       []uint64 `json:"chain_ids"`
	CreatedAtBlock uint64   `json:"created_at_block"`
}

const (
	MetadataFileName  = "metadata.json"
	EncryptedFileName = "encrypted_file.enc"
)
