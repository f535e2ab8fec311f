package hcl_adapter

import (
	"context"
	"fmt"
	"sort"

	"github.com/hashicorp/hcl/v2"
	"github.com/vk/hopgrid/internal/config"
	"github.com/vk/hopgrid/internal/ctxlog"
	"github.com/zclconf/go-cty/cty"
)

// decodeArguments evaluates every attribute of an arguments block into a
// plain Go option bag.
func decodeArguments(ctx context.Context, args *Arguments) (config.Options, error) {
	opts := config.Options{}
	if args == nil || args.Body == nil {
		return opts, nil
	}
	attrs, diags := args.Body.JustAttributes()
	if diags.HasErrors() {
		return nil, fmt.Errorf("invalid arguments block: %w", diags)
	}

	names := make([]string, 0, len(attrs))
	for name := range attrs {
		names = append(names, name)
	}
	sort.Strings(names)

	logger := ctxlog.FromContext(ctx)
	for _, name := range names {
		expr := attrs[name].Expr
		val, diags := expr.Value(runtimeVariables(expr))
		if diags.HasErrors() {
			return nil, fmt.Errorf("argument '%s': %w", name, diags)
		}
		native, err := ctyToNative(val)
		if err != nil {
			return nil, fmt.Errorf("argument '%s': %w", name, err)
		}
		logger.Debug("Decoded argument.", "argument", name, "cty_type", val.Type().FriendlyName())
		opts[name] = native
	}
	return opts, nil
}

// runtimeVariables keeps "${NAME}" references in templates as literal text
// so that they are resolved against the variable scope when the run starts.
// Only bare names are supported.
func runtimeVariables(expr hcl.Expression) *hcl.EvalContext {
	refs := expr.Variables()
	if len(refs) == 0 {
		return nil
	}
	vars := make(map[string]cty.Value, len(refs))
	for _, tr := range refs {
		name := tr.RootName()
		vars[name] = cty.StringVal("${" + name + "}")
	}
	return &hcl.EvalContext{Variables: vars}
}

func enabled(b *bool) bool {
	return b == nil || *b
}
