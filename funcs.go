package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Knetic/govaluate"
)

// FunctionRegistry holds the functions callable from expressions, keyed by
// their full prefix::name.
type FunctionRegistry struct {
	funcs map[string]govaluate.ExpressionFunction
}

func NewFunctionRegistry() *FunctionRegistry {
	return &FunctionRegistry{funcs: make(map[string]govaluate.ExpressionFunction)}
}

// Register adds fn under name. arity is the exact argument count, or -1 for
// any number of arguments.
func (r *FunctionRegistry) Register(name string, arity int, fn govaluate.ExpressionFunction) {
	r.funcs[name] = func(args ...interface{}) (interface{}, error) {
		if arity >= 0 && len(args) != arity {
			return nil, fmt.Errorf("%s expects %d argument(s), got %d", name, arity, len(args))
		}
		return fn(args...)
	}
}

func (r *FunctionRegistry) Lookup(name string) (govaluate.ExpressionFunction, bool) {
	fn, ok := r.funcs[name]
	return fn, ok
}

func (r *FunctionRegistry) Names() []string {
	names := make([]string, 0, len(r.funcs))
	for name := range r.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func argString(v interface{}) string {
	return formatValue(v)
}

func argInt(v interface{}) (int, error) {
	switch val := v.(type) {
	case float64:
		return int(val), nil
	case string:
		return strconv.Atoi(strings.TrimSpace(val))
	default:
		return 0, fmt.Errorf("'%v' is not an integer", v)
	}
}

// stringFunc adapts a string -> value function taking every argument as text.
func stringFunc(fn func(args []string) (interface{}, error)) govaluate.ExpressionFunction {
	return func(args ...interface{}) (interface{}, error) {
		strs := make([]string, len(args))
		for i, a := range args {
			strs[i] = argString(a)
		}
		return fn(strs)
	}
}

// registerStandardFunctions installs the project-independent library.
func registerStandardFunctions(r *FunctionRegistry) {
	r.Register("string::to-upper", 1, stringFunc(func(a []string) (interface{}, error) { return strings.ToUpper(a[0]), nil }))
	r.Register("string::to-lower", 1, stringFunc(func(a []string) (interface{}, error) { return strings.ToLower(a[0]), nil }))
	r.Register("string::trim", 1, stringFunc(func(a []string) (interface{}, error) { return strings.TrimSpace(a[0]), nil }))
	r.Register("string::contains", 2, stringFunc(func(a []string) (interface{}, error) { return strings.Contains(a[0], a[1]), nil }))
	r.Register("string::starts-with", 2, stringFunc(func(a []string) (interface{}, error) { return strings.HasPrefix(a[0], a[1]), nil }))
	r.Register("string::ends-with", 2, stringFunc(func(a []string) (interface{}, error) { return strings.HasSuffix(a[0], a[1]), nil }))
	r.Register("string::replace", 3, stringFunc(func(a []string) (interface{}, error) { return strings.ReplaceAll(a[0], a[1], a[2]), nil }))
	r.Register("string::get-length", 1, stringFunc(func(a []string) (interface{}, error) { return float64(len(a[0])), nil }))
	r.Register("string::index-of", 2, stringFunc(func(a []string) (interface{}, error) { return float64(strings.Index(a[0], a[1])), nil }))
	r.Register("string::substring", 3, func(args ...interface{}) (interface{}, error) {
		s := argString(args[0])
		start, err := argInt(args[1])
		if err != nil {
			return nil, err
		}
		length, err := argInt(args[2])
		if err != nil {
			return nil, err
		}
		if start < 0 || length < 0 || start+length > len(s) {
			return nil, fmt.Errorf("substring(%d, %d) out of range for '%s'", start, length, s)
		}
		return s[start : start+length], nil
	})

	r.Register("int::parse", 1, func(args ...interface{}) (interface{}, error) {
		n, err := argInt(args[0])
		if err != nil {
			return nil, err
		}
		return float64(n), nil
	})
	r.Register("bool::parse", 1, stringFunc(func(a []string) (interface{}, error) {
		return strconv.ParseBool(strings.TrimSpace(a[0]))
	}))
	r.Register("convert::to-string", 1, stringFunc(func(a []string) (interface{}, error) { return a[0], nil }))

	r.Register("path::combine", -1, stringFunc(func(a []string) (interface{}, error) { return filepath.Join(a...), nil }))
	r.Register("path::get-file-name", 1, stringFunc(func(a []string) (interface{}, error) { return filepath.Base(a[0]), nil }))
	r.Register("path::get-directory-name", 1, stringFunc(func(a []string) (interface{}, error) { return filepath.Dir(a[0]), nil }))
	r.Register("path::get-extension", 1, stringFunc(func(a []string) (interface{}, error) { return filepath.Ext(a[0]), nil }))

	r.Register("environment::get-variable", 1, stringFunc(func(a []string) (interface{}, error) {
		v, ok := os.LookupEnv(a[0])
		if !ok {
			return nil, fmt.Errorf("environment variable '%s' is not set", a[0])
		}
		return v, nil
	}))
	r.Register("environment::variable-exists", 1, stringFunc(func(a []string) (interface{}, error) {
		_, ok := os.LookupEnv(a[0])
		return ok, nil
	}))

	r.Register("platform::get-name", 0, func(...interface{}) (interface{}, error) { return runtime.GOOS, nil })
	r.Register("platform::is-unix", 0, func(...interface{}) (interface{}, error) { return runtime.GOOS != "windows", nil })
	r.Register("platform::is-windows", 0, func(...interface{}) (interface{}, error) { return runtime.GOOS == "windows", nil })

	r.Register("datetime::now", 0, func(...interface{}) (interface{}, error) {
		return time.Now().Format("2006-01-02 15:04:05"), nil
	})
	r.Register("directory::get-current-directory", 0, func(...interface{}) (interface{}, error) {
		return os.Getwd()
	})
}

// registerProjectFunctions installs the functions that look at p's state.
// Relative paths given to file:: and directory:: resolve against the
// project's base directory.
func registerProjectFunctions(r *FunctionRegistry, p *Project) {
	r.Register("property::exists", 1, stringFunc(func(a []string) (interface{}, error) {
		return p.props.Contains(a[0]), nil
	}))
	r.Register("property::get-value", 1, stringFunc(func(a []string) (interface{}, error) {
		if !p.props.Contains(a[0]) {
			return nil, &UnresolvedPropertyError{Name: a[0]}
		}
		return p.expander.lookup(a[0], Location{}, nil)
	}))
	r.Register("property::is-readonly", 1, stringFunc(func(a []string) (interface{}, error) {
		return p.props.IsReadOnly(a[0]), nil
	}))
	r.Register("property::is-dynamic", 1, stringFunc(func(a []string) (interface{}, error) {
		return p.props.IsDynamic(a[0]), nil
	}))

	r.Register("target::exists", 1, stringFunc(func(a []string) (interface{}, error) {
		return p.targets.Find(a[0]) != nil, nil
	}))
	r.Register("target::has-executed", 1, stringFunc(func(a []string) (interface{}, error) {
		if p.targets.Find(a[0]) == nil {
			return nil, &UnknownTargetError{Name: a[0]}
		}
		return p.HasExecuted(a[0]), nil
	}))
	r.Register("target::get-current-target", 0, func(...interface{}) (interface{}, error) {
		current := p.CurrentTarget()
		if current == nil {
			return nil, fmt.Errorf("no target is executing")
		}
		return current.Name, nil
	})

	r.Register("project::get-name", 0, func(...interface{}) (interface{}, error) { return p.name, nil })
	r.Register("project::get-base-directory", 0, func(...interface{}) (interface{}, error) { return p.baseDir, nil })
	r.Register("project::get-default-target", 0, func(...interface{}) (interface{}, error) { return p.defaultTarget, nil })

	r.Register("file::exists", 1, stringFunc(func(a []string) (interface{}, error) {
		info, err := os.Stat(p.ResolvePath(a[0]))
		return err == nil && !info.IsDir(), nil
	}))
	r.Register("directory::exists", 1, stringFunc(func(a []string) (interface{}, error) {
		info, err := os.Stat(p.ResolvePath(a[0]))
		return err == nil && info.IsDir(), nil
	}))
}
