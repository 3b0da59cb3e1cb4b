package script

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// metadataSchema is the CUE schema for lesson frontmatter. All fields
// are optional and unknown fields are allowed (the engine does not
// interpret them), but known fields must have the right shape.
const metadataSchema = `
#Metadata: {
	title?:       string
	description?: string
	difficulty?:  "beginner" | "intermediate" | "advanced"
	target_gestures?: [...string]
	...
}
`

// validateMetadata schema-checks decoded frontmatter. A fresh CUE
// context per call keeps this safe under concurrent reloads; metadata
// validation is nowhere near the hot path.
func validateMetadata(raw map[string]any) error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(metadataSchema).LookupPath(cue.ParsePath("#Metadata"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("metadata schema: %w", err)
	}

	val := ctx.Encode(raw)
	if err := val.Err(); err != nil {
		return fmt.Errorf("metadata not encodable: %w", err)
	}

	if err := schema.Unify(val).Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("metadata: %w", err)
	}
	return nil
}
