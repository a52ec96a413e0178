package compression

import (
	"encoding/json"
	"fmt"
)

// Compression tags.
const (
	Raw  = "RAW"
	Rice = "RICE"
)

// Response types of a list update.
const (
	FullUpdate    = "FULL_UPDATE"
	PartialUpdate = "PARTIAL_UPDATE"
)

// URLEntryType is the only threat entry type the cache stores.
const URLEntryType = "URL"

// RawHashes carries prefixes of one size packed back to back.
type RawHashes struct {
	PrefixSize *int   `json:"prefixSize"`
	RawHashes  string `json:"rawHashes"` // base64
}

// RiceDeltaEncoding carries a Golomb-Rice coded integer sequence.
type RiceDeltaEncoding struct {
	FirstValue    *string `json:"firstValue,omitempty"` // decimal, defaults to "0"
	RiceParameter *int    `json:"riceParameter"`
	NumEntries    *int    `json:"numEntries"`
	EncodedData   string  `json:"encodedData"` // base64
}

// ThreatEntrySet is one addition or removal set of a list update. Which
// field is read depends on the codec.
type ThreatEntrySet struct {
	CompressionType string             `json:"compressionType"`
	RawHashes       *RawHashes         `json:"rawHashes,omitempty"`
	RawIndices      []int              `json:"rawIndices,omitempty"`
	RiceHashes      *RiceDeltaEncoding `json:"riceHashes,omitempty"`
	RiceIndices     *RiceDeltaEncoding `json:"riceIndices,omitempty"`
}

// ListUpdateResponse is the server's update for one list.
type ListUpdateResponse struct {
	ThreatType      string           `json:"threatType"`
	PlatformType    string           `json:"platformType"`
	ThreatEntryType string           `json:"threatEntryType"`
	ResponseType    string           `json:"responseType"`
	Additions       []ThreatEntrySet `json:"additions,omitempty"`
	Removals        []ThreatEntrySet `json:"removals,omitempty"`
	NewClientState  string           `json:"newClientState"`
}

// FetchResponse is the body of a threat list update fetch.
type FetchResponse struct {
	ListUpdateResponses []ListUpdateResponse `json:"listUpdateResponses"`
	MinimumWaitDuration string               `json:"minimumWaitDuration,omitempty"`
}

// ParseFetchResponse unmarshals a fetch response body.
func ParseFetchResponse(body []byte) (FetchResponse, error) {
	var r FetchResponse
	if err := json.Unmarshal(body, &r); err != nil {
		return FetchResponse{}, fmt.Errorf("compression: parse fetch response: %w", err)
	}
	return r, nil
}
