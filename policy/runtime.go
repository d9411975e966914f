package policy

import (
	"crypto/sha512"
	"encoding/hex"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"

	"github.com/iov-one/claimsend/errors"
	"github.com/iov-one/claimsend/ledger"
)

// Runtime compiles and evaluates predicate programs. Programs are CEL
// expressions over two maps: txn, the operation being authorized, and app,
// the state of the contract owning the sender (empty for account programs).
// Runtime implements ledger.Evaluator and is safe for concurrent use.
type Runtime struct {
	env *cel.Env

	mu    sync.Mutex
	cache map[[sha512.Size256]byte]cel.Program
}

var _ ledger.Evaluator = (*Runtime)(nil)

// NewRuntime returns a runtime with an empty program cache.
func NewRuntime() (*Runtime, error) {
	env, err := cel.NewEnv(
		cel.Variable("txn", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("app", cel.MapType(cel.StringType, cel.DynType)),
		cel.Function("digest",
			cel.Overload("digest_string", []*cel.Type{cel.StringType}, cel.StringType,
				cel.UnaryBinding(digest))),
	)
	if err != nil {
		return nil, errors.Wrap(errors.ErrPolicyCompilation, err.Error())
	}
	return &Runtime{
		env:   env,
		cache: make(map[[sha512.Size256]byte]cel.Program),
	}, nil
}

// digest is the hex encoded SHA-512/256 of a string.
func digest(v ref.Val) ref.Val {
	s, ok := v.(types.String)
	if !ok {
		return types.MaybeNoSuchOverloadErr(v)
	}
	return types.String(Digest(string(s)))
}

// Digest is the value the digest function of a program returns for s.
func Digest(s string) string {
	h := sha512.Sum512_256([]byte(s))
	return hex.EncodeToString(h[:])
}

// Check compiles the program, failing with ErrPolicyCompilation if it is
// not a valid boolean expression.
func (r *Runtime) Check(program []byte) error {
	_, err := r.program(program)
	return err
}

func (r *Runtime) program(src []byte) (cel.Program, error) {
	key := sha512.Sum512_256(src)

	r.mu.Lock()
	defer r.mu.Unlock()

	if prg, ok := r.cache[key]; ok {
		return prg, nil
	}
	ast, issues := r.env.Compile(string(src))
	if issues != nil && issues.Err() != nil {
		return nil, errors.Wrap(errors.ErrPolicyCompilation, issues.Err().Error())
	}
	if !ast.OutputType().IsExactType(types.BoolType) {
		return nil, errors.Wrapf(errors.ErrPolicyCompilation, "program returns %s", ast.OutputType())
	}
	prg, err := r.env.Program(ast)
	if err != nil {
		return nil, errors.Wrap(errors.ErrPolicyCompilation, err.Error())
	}
	r.cache[key] = prg
	return prg, nil
}

// Approve evaluates the program against the operation. It returns nil only
// if the program evaluates to true.
func (r *Runtime) Approve(program []byte, op ledger.Operation, app *ledger.AppState) error {
	prg, err := r.program(program)
	if err != nil {
		return errors.Wrap(errors.ErrUnauthorized, err.Error())
	}
	out, _, err := prg.Eval(map[string]interface{}{
		"txn": txnVars(&op),
		"app": appVars(app),
	})
	if err != nil {
		return errors.Wrapf(errors.ErrUnauthorized, "evaluation: %s", err)
	}
	if out != types.True {
		return errors.Wrap(errors.ErrUnauthorized, "rejected by predicate")
	}
	return nil
}

func txnVars(op *ledger.Operation) map[string]interface{} {
	return map[string]interface{}{
		"type":        string(op.Type),
		"sender":      op.Sender.String(),
		"receiver":    op.Receiver.String(),
		"amount":      uint64(op.Amount),
		"asset_id":    op.AssetID,
		"fee":         uint64(op.Fee),
		"close_to":    op.CloseTo.String(),
		"rekey_to":    op.RekeyTo.String(),
		"note":        string(op.Note),
		"first_round": op.FirstRound,
		"last_round":  op.LastRound,
	}
}

func appVars(app *ledger.AppState) map[string]interface{} {
	if app == nil {
		return map[string]interface{}{}
	}
	return map[string]interface{}{
		"id":        app.ID,
		"creator":   app.Creator.String(),
		"operator":  app.Operator.String(),
		"recipient": app.Recipient.String(),
		"asset_id":  app.AssetID,
	}
}
