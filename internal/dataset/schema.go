package dataset

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schema/card.schema.json
var cardSchemaJSON []byte

var (
	schemaOnce    sync.Once
	cardSchema    *jsonschema.Schema
	cardSchemaErr error
)

func loadCardSchema() {
	c := jsonschema.NewCompiler()
	if err := c.AddResource("card.schema.json", bytes.NewReader(cardSchemaJSON)); err != nil {
		cardSchemaErr = fmt.Errorf("add card schema: %w", err)
		return
	}
	s, err := c.Compile("card.schema.json")
	if err != nil {
		cardSchemaErr = fmt.Errorf("compile card schema: %w", err)
		return
	}
	cardSchema = s
}

// ValidateCardSchema checks one card against the embedded card JSON Schema.
func ValidateCardSchema(c *Card) error {
	schemaOnce.Do(loadCardSchema)
	if cardSchemaErr != nil {
		return cardSchemaErr
	}

	data, err := c.MarshalJSON()
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return err
	}
	if err := cardSchema.Validate(v); err != nil {
		return fmt.Errorf("card %s does not match schema: %w", c.SegmentID, err)
	}
	return nil
}
