package pipeline

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/lambda-feedback/hotswap/internal/locator"
	"github.com/lambda-feedback/hotswap/util"
	"github.com/xeipuuv/gojsonschema"
)

var ErrInvalidManifest = errors.New("invalid manifest")

// BuildStatus is the state of the build reported in the manifest.
type BuildStatus string

const (
	StatusBuilding BuildStatus = "building"
	StatusDone     BuildStatus = "done"
)

// Manifest is written by the build tool whenever a build starts or
// completes.
type Manifest struct {
	Status BuildStatus `json:"status"`

	locator.Output
}

//go:embed manifest.schema.json
var manifestSchemaData json.RawMessage

var manifestSchema = util.Must(gojsonschema.NewSchema(gojsonschema.NewBytesLoader(manifestSchemaData)))

// ParseManifest validates and decodes a manifest.
func ParseManifest(data []byte) (Manifest, error) {
	res, err := manifestSchema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return Manifest{}, fmt.Errorf("%w: %w", ErrInvalidManifest, err)
	}

	if !res.Valid() {
		msgs := make([]string, 0, len(res.Errors()))
		for _, e := range res.Errors() {
			msgs = append(msgs, e.String())
		}

		return Manifest{}, fmt.Errorf("%w: %s", ErrInvalidManifest, strings.Join(msgs, "; "))
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("%w: %w", ErrInvalidManifest, err)
	}

	return m, nil
}
