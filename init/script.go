package main

import (
	"bufio"
	"errors"
	"fmt"
	"math"
	"os"
	"regexp"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/hashicorp/go-multierror"
)

const scriptPath = "/nerves_initramfs.conf"

// script evaluates configuration statements against the store. A statement is either an
// assignment "key = <expression>" or a bare expression. Expressions are CEL, store keys are
// visible as variables with dotted keys forming nested maps, e.g.
//
//	rootfs.path = uboot_env.nerves_fw_active == "b" ? "/dev/mmcblk0p3" : "/dev/mmcblk0p2"
type script struct {
	v *vars
}

func newScript(v *vars) *script {
	return &script{v: v}
}

var assignmentRe = regexp.MustCompile(`^\s*([A-Za-z_]\w*(?:\.\w+)*)\s*=(.*)$`)

// splitAssignment returns the key and the expression of an assignment, key is empty for
// bare expressions
func splitAssignment(line string) (string, string) {
	m := assignmentRe.FindStringSubmatch(line)
	if m == nil || strings.HasPrefix(m[2], "=") {
		// "a == b" is a comparison
		return "", line
	}
	return m[1], m[2]
}

// activation builds the variables visible to expressions. Dotted keys become nested maps, if a
// key is both a value and a prefix of other keys the value wins.
func (s *script) activation() map[string]any {
	root := make(map[string]any)
	keys := s.v.keys()
	// sorted keys put "a.b" before "a.b.c" so values are placed before subtrees
	for _, key := range keys {
		val, _ := s.v.get(key)
		parts := strings.Split(key, ".")
		m := root
		for _, p := range parts[:len(parts)-1] {
			next, ok := m[p].(map[string]any)
			if !ok {
				if _, taken := m[p]; taken {
					m = nil
					break
				}
				next = make(map[string]any)
				m[p] = next
			}
			m = next
		}
		if m == nil {
			continue
		}
		if _, taken := m[parts[len(parts)-1]]; !taken {
			m[parts[len(parts)-1]] = nativeValue(val)
		}
	}
	return root
}

func nativeValue(v value) any {
	switch v.kind {
	case kindBool:
		return v.boolean
	case kindNumber:
		return v.number
	default:
		return v.str
	}
}

func (s *script) env(activation map[string]any) (*cel.Env, error) {
	opts := []cel.EnvOption{
		// get("some.key") reads keys that are not valid identifiers
		cel.Function("get",
			cel.Overload("get_string", []*cel.Type{cel.StringType}, cel.DynType,
				cel.UnaryBinding(func(arg ref.Val) ref.Val {
					key, ok := arg.(types.String)
					if !ok {
						return types.MaybeNoSuchOverloadErr(arg)
					}
					val, found := s.v.get(string(key))
					if !found {
						return types.NewErr("no such key: %s", string(key))
					}
					return types.DefaultTypeAdapter.NativeToValue(nativeValue(val))
				}),
			),
		),
	}
	for name, val := range activation {
		if _, ok := val.(map[string]any); ok {
			opts = append(opts, cel.Variable(name, cel.MapType(cel.StringType, cel.DynType)))
		} else {
			opts = append(opts, cel.Variable(name, cel.DynType))
		}
	}
	return cel.NewEnv(opts...)
}

// eval evaluates a single CEL expression
func (s *script) eval(expr string) (value, error) {
	activation := s.activation()
	env, err := s.env(activation)
	if err != nil {
		return value{}, err
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return value{}, issues.Err()
	}
	prog, err := env.Program(ast)
	if err != nil {
		return value{}, err
	}
	out, _, err := prog.Eval(activation)
	if err != nil {
		return value{}, err
	}

	switch r := out.Value().(type) {
	case string:
		return stringValue(r), nil
	case bool:
		return boolValue(r), nil
	case int64:
		return numberValue(r), nil
	case uint64:
		if r > math.MaxInt64 {
			return value{}, fmt.Errorf("number %d is out of range", r)
		}
		return numberValue(int64(r)), nil
	case float64:
		if r != math.Trunc(r) || math.Abs(r) > math.MaxInt64 {
			return value{}, fmt.Errorf("number %v is not an integer", r)
		}
		return numberValue(int64(r)), nil
	default:
		return value{}, fmt.Errorf("expression output type is %s, expected string, bool or number", out.Type())
	}
}

// evalLine runs one statement. It returns nil for empty lines and comments.
func (s *script) evalLine(line string) (*value, error) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || strings.HasPrefix(trimmed, "#") {
		return nil, nil
	}

	key, expr := splitAssignment(trimmed)
	if strings.TrimSpace(expr) == "" {
		return nil, fmt.Errorf("missing expression")
	}
	val, err := s.eval(expr)
	if err != nil {
		return nil, err
	}
	if key != "" {
		s.v.set(key, val)
	}
	return &val, nil
}

// evalFile runs the script at path. A missing script is not an error. Failing statements are
// skipped and reported together.
func (s *script) evalFile(path string) error {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		debug("%s not found", path)
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	var errs *multierror.Error
	scanner := bufio.NewScanner(f)
	lineno := 0
	for scanner.Scan() {
		lineno++
		if _, err := s.evalLine(scanner.Text()); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("%s:%d: %v", path, lineno, err))
		}
	}
	if err := scanner.Err(); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("%s: %v", path, err))
	}
	return errs.ErrorOrNil()
}
