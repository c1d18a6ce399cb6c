package packages

import "fmt"

var kindRegistry = make(map[Kind]func() ScriptSource)

// RegisterKind installs a script source factory for a package kind.
// Registering a kind twice panics; kinds are wired at init time.
func RegisterKind(kind Kind, factory func() ScriptSource) {
	if _, dup := kindRegistry[kind]; dup {
		panic(fmt.Sprintf("package kind %q registered twice", kind))
	}
	kindRegistry[kind] = factory
}

// ScriptsFor returns a fresh script source for a kind. System
// packages have no build scripts and yield nil.
func ScriptsFor(kind Kind) (ScriptSource, error) {
	if kind == KindSystem {
		return nil, nil
	}
	factory, ok := kindRegistry[kind]
	if !ok {
		return nil, fmt.Errorf("unknown package kind %q", kind)
	}
	return factory(), nil
}

func init() {
	RegisterKind(KindC, func() ScriptSource { return &AutotoolsScripts{} })
	RegisterKind(KindPython, func() ScriptSource { return &PythonWheelScripts{} })
	RegisterKind(KindGo, func() ScriptSource { return &GoScripts{} })
	RegisterKind(KindRust, func() ScriptSource { return &RustScripts{} })
}
