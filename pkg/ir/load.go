package ir

import (
	"os"

	"gopkg.in/yaml.v3"
	"tlog.app/go/errors"
)

// moduleDoc is the YAML form of a module:
//
//	pointer: i64
//	functions:
//	  - name: max
//	    return: i32
//	    args: [i32 %a, i32 %b]
//	    blocks:
//	      - name: entry
//	        code: |
//	          %c = icmp.sgt i32 %a, %b
//	          br %c, big, small
type moduleDoc struct {
	Pointer   string        `yaml:"pointer"`
	Functions []functionDoc `yaml:"functions"`
}

type functionDoc struct {
	Name   string     `yaml:"name"`
	Return string     `yaml:"return"`
	Args   []string   `yaml:"args"`
	Blocks []blockDoc `yaml:"blocks"`
}

type blockDoc struct {
	Name string `yaml:"name"`
	Code string `yaml:"code"`
}

// LoadModule decodes a YAML module description
func LoadModule(data []byte) (*Module, error) {
	var doc moduleDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(err, "decode module")
	}

	ptr := I32
	if doc.Pointer != "" {
		var err error
		if ptr, err = ParseType(doc.Pointer); err != nil {
			return nil, errors.Wrap(err, "pointer type")
		}
	}

	m := &Module{}
	for _, fd := range doc.Functions {
		ret := Void
		if fd.Return != "" {
			var err error
			if ret, err = ParseType(fd.Return); err != nil {
				return nil, errors.Wrap(err, "func %v: return type", fd.Name)
			}
		}
		src := FunctionSource{Name: fd.Name, Return: ret, Args: fd.Args, PointerType: ptr}
		for _, bd := range fd.Blocks {
			src.Blocks = append(src.Blocks, BlockSource{Name: bd.Name, Code: bd.Code})
		}
		fn, err := BuildFunction(src)
		if err != nil {
			return nil, err
		}
		if m.Lookup(fn.Name) != nil {
			return nil, errors.New("duplicate function %v", fn.Name)
		}
		m.Functions = append(m.Functions, fn)
	}
	return m, nil
}

// LoadModuleFile reads and decodes a YAML module file
func LoadModuleFile(path string) (*Module, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read file")
	}
	m, err := LoadModule(data)
	if err != nil {
		return nil, errors.Wrap(err, "%v", path)
	}
	return m, nil
}
