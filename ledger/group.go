package ledger

import (
	"bytes"
	"crypto/sha512"
	"encoding/json"

	"github.com/iov-one/claimsend"
	"github.com/iov-one/claimsend/errors"
)

// SignedOperation is an operation together with its authorization. Exactly
// one of Sig, Program and AppAuth is set on an authorized operation.
type SignedOperation struct {
	Op      Operation `json:"txn"`
	Sig     []byte    `json:"sig,omitempty"`
	Program []byte    `json:"lsig,omitempty"`
	AppAuth uint64    `json:"app_auth,omitempty,string"`
}

// IsAuthorized returns true if any authorization is attached.
func (s *SignedOperation) IsAuthorized() bool {
	return len(s.Sig) != 0 || len(s.Program) != 0 || s.AppAuth != 0
}

// Group is an ordered list of operations applied by the ledger all or
// nothing. A group of one operation carries no group id.
type Group struct {
	Ops []SignedOperation `json:"ops"`
}

// Assemble binds the operations into a group, setting the group id of every
// operation. The returned operations are not authorized.
func Assemble(ops ...Operation) (*Group, error) {
	if len(ops) == 0 {
		return nil, errors.Wrap(errors.ErrEmpty, "group")
	}
	if len(ops) > MaxGroupSize {
		return nil, errors.Wrapf(errors.ErrInvalidInput, "group of %d operations, max %d", len(ops), MaxGroupSize)
	}
	g := &Group{Ops: make([]SignedOperation, len(ops))}
	for i, op := range ops {
		op.Group = nil
		g.Ops[i] = SignedOperation{Op: op}
	}
	if len(ops) == 1 {
		return g, nil
	}
	gid, err := groupID(g.Ops)
	if err != nil {
		return nil, err
	}
	for i := range g.Ops {
		g.Ops[i].Op.Group = gid
	}
	return g, nil
}

// groupID is the digest over the ids of the operations, computed with the
// group field cleared.
func groupID(ops []SignedOperation) ([]byte, error) {
	buf := []byte("TG")
	for _, s := range ops {
		op := s.Op
		op.Group = nil
		h, err := op.hash()
		if err != nil {
			return nil, err
		}
		buf = append(buf, h[:]...)
	}
	h := sha512.Sum512_256(buf)
	return h[:], nil
}

// ID returns the group id, nil for a single operation.
func (g *Group) ID() []byte {
	if len(g.Ops) == 0 {
		return nil
	}
	return g.Ops[0].Op.Group
}

// Validate checks that every operation is well formed and carries the id of
// this group.
func (g *Group) Validate() error {
	if len(g.Ops) == 0 {
		return errors.Wrap(errors.ErrEmpty, "group")
	}
	if len(g.Ops) > MaxGroupSize {
		return errors.Wrapf(errors.ErrInvalidInput, "group of %d operations, max %d", len(g.Ops), MaxGroupSize)
	}
	for i := range g.Ops {
		if err := g.Ops[i].Op.Validate(); err != nil {
			return errors.Wrapf(err, "operation %d", i)
		}
	}
	if len(g.Ops) == 1 {
		if len(g.Ops[0].Op.Group) != 0 {
			return errors.Wrap(errors.ErrInvalidInput, "group id on a single operation")
		}
		return nil
	}
	want, err := groupID(g.Ops)
	if err != nil {
		return err
	}
	for i, s := range g.Ops {
		if !bytes.Equal(s.Op.Group, want) {
			return errors.Wrapf(errors.ErrInvalidInput, "operation %d: group id mismatch", i)
		}
	}
	return nil
}

// Authorize attaches the authorization produced by the signer to the
// operation at the given position.
func (g *Group) Authorize(i int, s Signer) error {
	if i < 0 || i >= len(g.Ops) {
		return errors.Wrapf(errors.ErrInvalidInput, "no operation %d", i)
	}
	signed, err := s.Sign(g.Ops[i].Op)
	if err != nil {
		return errors.Wrapf(err, "operation %d", i)
	}
	g.Ops[i] = signed
	return nil
}

// SignAll authorizes every not yet authorized operation sent by the signer.
// It returns the number of operations signed.
func (g *Group) SignAll(s Signer) (int, error) {
	n := 0
	for i := range g.Ops {
		if g.Ops[i].IsAuthorized() || !g.Ops[i].Op.Sender.Equals(s.Address()) {
			continue
		}
		if err := g.Authorize(i, s); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// Unsigned returns the positions of operations still lacking authorization.
func (g *Group) Unsigned() []int {
	var res []int
	for i := range g.Ops {
		if !g.Ops[i].IsAuthorized() {
			res = append(res, i)
		}
	}
	return res
}

// Operations returns the plain operations of the group in order.
func (g *Group) Operations() []Operation {
	res := make([]Operation, len(g.Ops))
	for i, s := range g.Ops {
		res[i] = s.Op
	}
	return res
}

// TxIDs returns the id of every operation in order.
func (g *Group) TxIDs() ([]TxID, error) {
	res := make([]TxID, len(g.Ops))
	for i := range g.Ops {
		id, err := g.Ops[i].Op.ID()
		if err != nil {
			return nil, err
		}
		res[i] = id
	}
	return res, nil
}

// Senders returns the distinct senders of operations still lacking
// authorization.
func (g *Group) Senders() []claimsend.Address {
	var res []claimsend.Address
	for _, i := range g.Unsigned() {
		snd := g.Ops[i].Op.Sender
		seen := false
		for _, a := range res {
			if a.Equals(snd) {
				seen = true
				break
			}
		}
		if !seen {
			res = append(res, snd)
		}
	}
	return res
}

// Encode returns the submission bytes of the group.
func (g *Group) Encode() ([]byte, error) {
	raw, err := json.Marshal(g.Ops)
	if err != nil {
		return nil, errors.Wrap(errors.ErrModel, err.Error())
	}
	return raw, nil
}

// DecodeGroup parses submission bytes produced by Encode.
func DecodeGroup(raw []byte) (*Group, error) {
	var ops []SignedOperation
	if err := json.Unmarshal(raw, &ops); err != nil {
		return nil, errors.Wrapf(errors.ErrInvalidInput, "decode group: %s", err)
	}
	g := &Group{Ops: ops}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}
