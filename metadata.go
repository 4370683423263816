package mint

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// TokenMetadata is the ERC-721 metadata document uploaded for each token.
type TokenMetadata struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Image       string      `json:"image"`
	Attributes  []Attribute `json:"attributes"`
	Collection  string      `json:"collection"`
	TokenID     string      `json:"tokenId"`
}

const tokenMetadataSchema = `{
	"type": "object",
	"required": ["name", "description", "image", "attributes", "collection", "tokenId"],
	"properties": {
		"name": {"type": "string", "minLength": 1},
		"description": {"type": "string"},
		"image": {"type": "string", "minLength": 1},
		"collection": {"type": "string", "enum": ["standard", "premium", "legendary"]},
		"tokenId": {"type": "string", "pattern": "^[0-9]+$"},
		"attributes": ` + attributesSchema + `
	}
}`

const attributesSchema = `{
	"type": "array",
	"items": {
		"type": "object",
		"required": ["trait_type", "value"],
		"properties": {
			"trait_type": {"type": "string", "minLength": 1},
			"value": {"type": ["string", "number", "boolean"]}
		}
	}
}`

var (
	metadataSchemaLoader   = gojsonschema.NewStringLoader(tokenMetadataSchema)
	attributesSchemaLoader = gojsonschema.NewStringLoader(attributesSchema)
)

// ValidateAttributes checks caller-supplied traits against the rules the metadata
// document enforces, so a bad trait is rejected before anything is minted.
func ValidateAttributes(attrs []Attribute) error {
	if len(attrs) == 0 {
		return nil
	}
	raw, err := json.Marshal(attrs)
	if err != nil {
		return NewMintError(ErrCodeInvalidTask, "attributes are not serializable", err)
	}
	if err := validateAgainst(attributesSchemaLoader, raw); err != nil {
		return NewMintError(ErrCodeInvalidTask, "invalid attributes", err)
	}
	return nil
}

// ImageFilename is the canonical artifact name for a token's image.
func ImageFilename(collection CollectionType, tokenID *big.Int) string {
	return fmt.Sprintf("%s-%s.png", collection, tokenID.String())
}

// MetadataFilename is the canonical artifact name for a token's metadata.
func MetadataFilename(collection CollectionType, tokenID *big.Int) string {
	return fmt.Sprintf("%s-%s.json", collection, tokenID.String())
}

// BuildTokenMetadata renders and schema-checks the metadata document for a minted token.
func BuildTokenMetadata(task MintTask, tokenID *big.Int, imageURI string) ([]byte, error) {
	attrs := task.Attributes
	if attrs == nil {
		attrs = []Attribute{}
	}
	doc := TokenMetadata{
		Name:        fmt.Sprintf("%s #%s", titleCase(task.Collection.String()), tokenID.String()),
		Description: fmt.Sprintf("%s collection token minted for %s", task.Collection, strings.ToLower(task.UserAddress)),
		Image:       imageURI,
		Attributes:  attrs,
		Collection:  task.Collection.String(),
		TokenID:     tokenID.String(),
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}

	if err := validateAgainst(metadataSchemaLoader, raw); err != nil {
		return nil, fmt.Errorf("invalid metadata: %w", err)
	}
	return raw, nil
}

func validateAgainst(schema gojsonschema.JSONLoader, raw []byte) error {
	result, err := gojsonschema.Validate(schema, gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return errors.New(strings.Join(msgs, "; "))
	}
	return nil
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
