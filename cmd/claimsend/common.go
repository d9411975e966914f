package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"io/ioutil"

	"github.com/iov-one/claimsend/ledger"
	"github.com/iov-one/claimsend/records"
)

// Commands that build a group write a JSON object holding the encoded group
// under the "group" key. Other keys are informational and are passed along
// by commands that modify the group.
const groupKey = "group"

// writeGroup writes the group together with the extra fields.
func writeGroup(w io.Writer, g *ledger.Group, extra map[string]interface{}) error {
	raw, err := g.Encode()
	if err != nil {
		return err
	}
	out := make(map[string]interface{}, len(extra)+1)
	for k, v := range extra {
		out[k] = v
	}
	out[groupKey] = json.RawMessage(raw)
	return writeJSON(w, out)
}

// readGroup reads what writeGroup wrote. A bare encoded group is accepted
// as well. The extra fields are returned so they can be written back.
func readGroup(r io.Reader) (*ledger.Group, map[string]interface{}, error) {
	raw, err := ioutil.ReadAll(r)
	if err != nil {
		return nil, nil, fmt.Errorf("cannot read group: %s", err)
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, nil, fmt.Errorf("no group on input")
	}
	if raw[0] == '[' {
		g, err := ledger.DecodeGroup(raw)
		return g, nil, err
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, nil, fmt.Errorf("cannot decode input: %s", err)
	}
	encoded, ok := fields[groupKey]
	if !ok {
		return nil, nil, fmt.Errorf("input has no %q field", groupKey)
	}
	g, err := ledger.DecodeGroup(encoded)
	if err != nil {
		return nil, nil, err
	}
	extra := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		if k != groupKey {
			extra[k] = v
		}
	}
	return g, extra, nil
}

func writeJSON(w io.Writer, v interface{}) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot serialize: %s", err)
	}
	_, err = fmt.Fprintf(w, "%s\n", raw)
	return err
}

// redacted returns a copy of the record without its claim token. The token
// is a bearer secret and is printed only where it is created.
func redacted(r *records.Record) *records.Record {
	cp := *r
	cp.Token = ""
	return &cp
}
