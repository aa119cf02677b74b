package engine

import (
	"encoding/json"
	"fmt"
)

// SubKind identifies the syntactic construct an event represents.
type SubKind int

const (
	SubKindUnknown SubKind = iota
	SubKindImport
	SubKindTypeDecl
	SubKindFuncDecl
	SubKindConstDecl
	SubKindVarDecl
	// SubKindVarDeclInit is a variable declaration carrying an initializer.
	SubKindVarDeclInit
	// SubKindTempExpression holds the value of a bare expression.
	SubKindTempExpression
	SubKindVarValue
	SubKindAssignment
	SubKindStatement
)

type subKindInfo struct {
	name        string
	displayable bool
}

// Transcripts never echo declarations with an initializer or the holders
// of bare expression values.
var subKinds = map[SubKind]subKindInfo{
	SubKindUnknown:        {"unknown", true},
	SubKindImport:         {"import", true},
	SubKindTypeDecl:       {"type_decl", true},
	SubKindFuncDecl:       {"func_decl", true},
	SubKindConstDecl:      {"const_decl", true},
	SubKindVarDecl:        {"var_decl", true},
	SubKindVarDeclInit:    {"var_decl_init", false},
	SubKindTempExpression: {"temp_expression", false},
	SubKindVarValue:       {"var_value", true},
	SubKindAssignment:     {"assignment", true},
	SubKindStatement:      {"statement", true},
}

// Displayable reports whether events of this kind appear in a transcript.
func (k SubKind) Displayable() bool {
	info, ok := subKinds[k]
	return ok && info.displayable
}

func (k SubKind) String() string {
	if info, ok := subKinds[k]; ok {
		return info.name
	}
	return fmt.Sprintf("subkind(%d)", int(k))
}

func (k SubKind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

func (k *SubKind) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	for kind, info := range subKinds {
		if info.name == name {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown sub-kind %q", name)
}

func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Status) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	switch name {
	case "valid":
		*s = StatusValid
	case "rejected":
		*s = StatusRejected
	default:
		return fmt.Errorf("unknown status %q", name)
	}
	return nil
}
