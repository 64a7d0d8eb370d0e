package filter

import (
	"github.com/antonmedv/expr"
	"github.com/antonmedv/expr/vm"

	"github.com/hiyorigaoka/roomkeeper/globals"
)

// Compile compiles a message filter expression against Env. The expression
// must evaluate to a boolean.
func Compile(expression string) (*vm.Program, error) {
	return expr.Compile(expression, expr.Env(Env{}), expr.AsBool())
}

// Run evaluates a compiled filter for one message. A nil program accepts
// everything; evaluation errors reject the message.
func Run(prog *vm.Program, env Env) bool {
	if prog == nil {
		return true
	}
	res, err := expr.Run(prog, env)
	if err != nil {
		globals.AppLogger.Error("could not run message filter", "error", err)
		return false
	}
	if bRes, ok := res.(bool); ok {
		return bRes
	}
	return false
}
