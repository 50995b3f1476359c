package protocol

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/vango-go/vai-voice/pkg/core"
)

//go:embed inbound.schema.json
var inboundSchemaJSON []byte

// printer formats schema violation messages.
var printer = message.NewPrinter(language.English)

var inboundSchema *jsonschema.Schema

func init() {
	inboundSchema = mustCompileSchema(inboundSchemaJSON, "inbound.schema.json")
}

func mustCompileSchema(raw []byte, name string) *jsonschema.Schema {
	var schemaDoc any
	if err := json.Unmarshal(raw, &schemaDoc); err != nil {
		panic(fmt.Sprintf("failed to parse embedded %s: %v", name, err))
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, schemaDoc); err != nil {
		panic(fmt.Sprintf("failed to add %s resource: %v", name, err))
	}

	sch, err := compiler.Compile(name)
	if err != nil {
		panic(fmt.Sprintf("failed to compile %s: %v", name, err))
	}
	return sch
}

// validate checks an inbound document and reports the first violation with
// the most specific code: session_id problems are INVALID_ID, bounds are
// OUT_OF_RANGE, anything else INVALID_FIELD.
func validate(doc any) error {
	err := inboundSchema.Validate(doc)
	if err == nil {
		return nil
	}
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return invalidField(printer.Sprintf("schema: %v", err), "")
	}

	var leaves []*jsonschema.ValidationError
	collectLeaves(ve, &leaves)
	if len(leaves) == 0 {
		leaves = append(leaves, ve)
	}

	best := leaves[0]
	bestCode := codeFor(best)
	for _, l := range leaves[1:] {
		if c := codeFor(l); rank(c) > rank(bestCode) {
			best, bestCode = l, c
		}
	}
	param := strings.Join(best.InstanceLocation, ".")
	loc := "/" + strings.Join(best.InstanceLocation, "/")
	return &DecodeError{
		Code:    bestCode,
		Message: printer.Sprintf("%s: %s", loc, best.ErrorKind.LocalizedString(printer)),
		Param:   param,
	}
}

func collectLeaves(ve *jsonschema.ValidationError, out *[]*jsonschema.ValidationError) {
	if len(ve.Causes) == 0 {
		*out = append(*out, ve)
		return
	}
	for _, c := range ve.Causes {
		collectLeaves(c, out)
	}
}

func codeFor(ve *jsonschema.ValidationError) core.Code {
	if len(ve.InstanceLocation) > 0 && ve.InstanceLocation[0] == "session_id" {
		return core.CodeValidationInvalidID
	}
	path := ve.ErrorKind.KeywordPath()
	if len(path) > 0 {
		switch path[len(path)-1] {
		case "minimum", "maximum", "exclusiveMinimum", "exclusiveMaximum":
			return core.CodeValidationOutOfRange
		}
	}
	return core.CodeValidationInvalidField
}

func rank(c core.Code) int {
	switch c {
	case core.CodeValidationInvalidID:
		return 2
	case core.CodeValidationOutOfRange:
		return 1
	default:
		return 0
	}
}
