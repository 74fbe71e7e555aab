// Package contract implements the contract validator: it checks a tool
// call's params against a JSON Schema registered for that tool name,
// compiled once and cached, so a malformed or schema-violating call is
// blocked before it ever reaches the tool.
package contract

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/failcore/core/pkg/contracts"
)

// Validator enforces per-tool JSON Schema contracts on call params.
type Validator struct {
	id string

	mu     sync.RWMutex
	schema map[string]*jsonschema.Schema
}

// New constructs an empty contract Validator.
func New(id string) *Validator {
	return &Validator{id: id, schema: make(map[string]*jsonschema.Schema)}
}

func (v *Validator) ID() string               { return v.id }
func (v *Validator) Domain() contracts.Domain { return contracts.DomainContract }

// RegisterSchema compiles rawSchema (a JSON Schema document, Draft 2020-12)
// and binds it to tool. A failed compile returns an error and leaves any
// prior schema for tool untouched.
func (v *Validator) RegisterSchema(tool, rawSchema string) error {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	url := fmt.Sprintf("https://failcore.local/contract/%s.schema.json", tool)
	if err := c.AddResource(url, strings.NewReader(rawSchema)); err != nil {
		return fmt.Errorf("contract: schema load failed for %q: %w", tool, err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return fmt.Errorf("contract: schema compile failed for %q: %w", tool, err)
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.schema[tool] = compiled
	return nil
}

// Validate checks rc.Params against the schema registered for rc.Tool, if
// any. Tools with no registered schema are left unconstrained.
func (v *Validator) Validate(ctx context.Context, rc *contracts.ContextV1, cfg contracts.ValidatorConfig) ([]contracts.DecisionV1, error) {
	v.mu.RLock()
	schema, ok := v.schema[rc.Tool]
	v.mu.RUnlock()
	if !ok {
		return nil, nil
	}

	if err := schema.Validate(rc.Params); err != nil {
		return []contracts.DecisionV1{{
			Code:      contracts.CodeInvalidArgument,
			Decision:  contracts.DecisionBlock,
			RiskLevel: contracts.RiskMedium,
			Domain:    contracts.DomainContract,
			Message:   fmt.Sprintf("params for %q failed contract schema: %v", rc.Tool, err),
		}}, nil
	}
	return nil, nil
}
