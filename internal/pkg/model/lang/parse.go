// Copyright 2020 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package lang

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"strconv"
)

// RawModel is one model function's syntactic shell, produced by the
// syntactic parse pass: its declared name, receiver type name (empty for
// a free function), declared parameters, and the single parsed
// annotation from its body (this module §4.4 pass 1).
type RawModel struct {
	Name       string
	Receiver   string // empty for a free function
	Params     []Param
	Variadic   bool
	Annotation Annotation
	Pos        token.Pos
}

// Param is one declared formal in a model function's signature.
type Param struct {
	Name string
}

// ParseError reports a syntactic problem in one model declaration,
// keyed by its position so callers can report file:line to the user.
type ParseError struct {
	Pos token.Pos
	Err error
}

func (e *ParseError) Error() string { return e.Err.Error() }

// ParseFile parses the model-language source text in src (a full Go
// source file, conventionally one per library or framework being
// modeled) into one RawModel per annotated function/method declaration.
// Declarations that are not function/method declarations are ignored, as
// are declarations with an empty body (this module §4.4 treats a zero-body
// declaration as the unannotated, default-Normal case, which C4 need not
// materialize).
func ParseFile(fset *token.FileSet, filename string, src interface{}) ([]RawModel, []ParseError) {
	f, err := parser.ParseFile(fset, filename, src, 0)
	if err != nil {
		return nil, []ParseError{{Err: err}}
	}

	var models []RawModel
	var errs []ParseError

	for _, decl := range f.Decls {
		fd, ok := decl.(*ast.FuncDecl)
		if !ok || fd.Body == nil || len(fd.Body.List) == 0 {
			continue
		}

		if len(fd.Body.List) != 1 {
			errs = append(errs, ParseError{Pos: fd.Pos(), Err: fmt.Errorf("model %s: body must contain exactly one annotation expression, got %d statements", fd.Name.Name, len(fd.Body.List))})
			continue
		}

		stmt, ok := fd.Body.List[0].(*ast.ExprStmt)
		if !ok {
			errs = append(errs, ParseError{Pos: fd.Pos(), Err: fmt.Errorf("model %s: body must be a single annotation expression", fd.Name.Name)})
			continue
		}

		ann, err := parseAnnotation(stmt.X)
		if err != nil {
			errs = append(errs, ParseError{Pos: fd.Pos(), Err: fmt.Errorf("model %s: %w", fd.Name.Name, err)})
			continue
		}

		rm := RawModel{
			Name:       fd.Name.Name,
			Annotation: ann,
			Pos:        fd.Pos(),
		}
		if fd.Recv != nil && len(fd.Recv.List) == 1 {
			rm.Receiver = recvTypeName(fd.Recv.List[0].Type)
		}
		for _, field := range fd.Type.Params.List {
			_, variadic := field.Type.(*ast.Ellipsis)
			if variadic {
				rm.Variadic = true
			}
			if len(field.Names) == 0 {
				rm.Params = append(rm.Params, Param{})
				continue
			}
			for _, n := range field.Names {
				rm.Params = append(rm.Params, Param{Name: n.Name})
			}
		}

		models = append(models, rm)
	}

	return models, errs
}

func recvTypeName(e ast.Expr) string {
	switch t := e.(type) {
	case *ast.StarExpr:
		return recvTypeName(t.X)
	case *ast.Ident:
		return t.Name
	case *ast.IndexExpr:
		return recvTypeName(t.X)
	case *ast.IndexListExpr:
		return recvTypeName(t.X)
	default:
		return ""
	}
}

// parseAnnotation parses one annotation expression. The model language
// reuses Go's generic-instantiation syntax (Name[args...]) purely as a
// syntactic container for an annotation's arguments; no actual
// instantiation ever occurs; model files are never type-checked as
// ordinary Go, only parsed.
func parseAnnotation(e ast.Expr) (Annotation, error) {
	switch x := e.(type) {
	case *ast.Ident:
		return parseBareIdent(x.Name)
	case *ast.IndexExpr:
		return parseIndexed(x.X, []ast.Expr{x.Index})
	case *ast.IndexListExpr:
		return parseIndexed(x.X, x.Indices)
	case *ast.CallExpr:
		return parseCall(x)
	default:
		return Annotation{}, fmt.Errorf("unsupported annotation syntax %T", e)
	}
}

func parseBareIdent(name string) (Annotation, error) {
	switch name {
	case "SkipAnalysis":
		return Annotation{Kind: KindSkipAnalysis}, nil
	case "TaintInTaintOut":
		return Annotation{Kind: KindTaintInTaintOut}, nil
	case "Sanitize":
		return Annotation{Kind: KindSanitize, Sanitize: SanitizeSpec{Sources: true, Sinks: true, Tito: true}}, nil
	default:
		return Annotation{}, fmt.Errorf("unknown bare annotation %q", name)
	}
}

func parseIndexed(head ast.Expr, args []ast.Expr) (Annotation, error) {
	ident, ok := head.(*ast.Ident)
	if !ok {
		return Annotation{}, fmt.Errorf("annotation head must be an identifier, got %T", head)
	}

	switch ident.Name {
	case "TaintSource":
		name, err := identOrStringArg(args, 0, "TaintSource")
		if err != nil {
			return Annotation{}, err
		}
		return Annotation{Kind: KindTaintSource, KindName: name}, nil

	case "TaintSink":
		name, err := identOrStringArg(args, 0, "TaintSink")
		if err != nil {
			return Annotation{}, err
		}
		return Annotation{Kind: KindTaintSink, KindName: name}, nil

	case "TaintInTaintOut":
		if len(args) == 0 {
			return Annotation{Kind: KindTaintInTaintOut}, nil
		}
		name, err := identOrString(args[0])
		if err != nil {
			return Annotation{}, fmt.Errorf("TaintInTaintOut: %w", err)
		}
		return Annotation{Kind: KindTaintInTaintOut, KindName: name}, nil

	case "AddFeatureToArgument":
		var mods []FeatureModifier
		for _, a := range args {
			m, err := parseFeatureModifier(a)
			if err != nil {
				return Annotation{}, fmt.Errorf("AddFeatureToArgument: %w", err)
			}
			mods = append(mods, m)
		}
		return Annotation{Kind: KindAddFeatureToArgument, Features: mods}, nil

	case "Sanitize":
		spec := SanitizeSpec{}
		if len(args) == 0 {
			spec = SanitizeSpec{Sources: true, Sinks: true, Tito: true}
		}
		for _, a := range args {
			id, ok := a.(*ast.Ident)
			if !ok {
				return Annotation{}, fmt.Errorf("Sanitize: expected an axis identifier, got %T", a)
			}
			switch id.Name {
			case "Sources":
				spec.Sources = true
			case "Sinks":
				spec.Sinks = true
			case "Tito":
				spec.Tito = true
			default:
				return Annotation{}, fmt.Errorf("Sanitize: unknown axis %q", id.Name)
			}
		}
		return Annotation{Kind: KindSanitize, Sanitize: spec}, nil

	case "AppliesTo":
		if len(args) != 2 {
			return Annotation{}, fmt.Errorf("AppliesTo requires exactly 2 arguments, got %d", len(args))
		}
		sel, err := parseSelector(args[0])
		if err != nil {
			return Annotation{}, fmt.Errorf("AppliesTo: %w", err)
		}
		inner, err := parseAnnotation(args[1])
		if err != nil {
			return Annotation{}, fmt.Errorf("AppliesTo: %w", err)
		}
		return Annotation{Kind: KindAppliesTo, Selector: &sel, Inner: &inner}, nil

	case "Union":
		var members []Annotation
		for _, a := range args {
			m, err := parseAnnotation(a)
			if err != nil {
				return Annotation{}, fmt.Errorf("Union: %w", err)
			}
			members = append(members, m)
		}
		return Annotation{Kind: KindUnion, Members: members}, nil

	default:
		return Annotation{}, fmt.Errorf("unknown annotation %q", ident.Name)
	}
}

// parseCall supports Union(a, b, …) and a bare call-form AddFeatureToArgument(…)
// for model authors who prefer parens over the index-bracket form; both
// forms are accepted so the grammar reads naturally whether the
// annotation takes one implicit argument list or several bracketed ones.
func parseCall(c *ast.CallExpr) (Annotation, error) {
	ident, ok := c.Fun.(*ast.Ident)
	if !ok {
		return Annotation{}, fmt.Errorf("call annotation head must be an identifier, got %T", c.Fun)
	}
	return parseIndexed(ident, c.Args)
}

func parseFeatureModifier(e ast.Expr) (FeatureModifier, error) {
	switch x := e.(type) {
	case *ast.Ident:
		return FeatureModifier{Literal: x.Name}, nil
	case *ast.BasicLit:
		s, err := stringLit(x)
		if err != nil {
			return FeatureModifier{}, err
		}
		return FeatureModifier{Literal: s}, nil
	case *ast.IndexExpr:
		head, ok := x.X.(*ast.Ident)
		if !ok {
			return FeatureModifier{}, fmt.Errorf("feature modifier head must be an identifier")
		}
		arg, err := identOrString(x.Index)
		if err != nil {
			return FeatureModifier{}, err
		}
		switch head.Name {
		case "Via":
			return FeatureModifier{Literal: arg}, nil
		case "ViaValueOf":
			return FeatureModifier{ViaValueOf: arg}, nil
		default:
			return FeatureModifier{}, fmt.Errorf("unknown feature modifier %q", head.Name)
		}
	default:
		return FeatureModifier{}, fmt.Errorf("unsupported feature syntax %T", e)
	}
}

func parseSelector(e ast.Expr) (AppliesToSelector, error) {
	switch x := e.(type) {
	case *ast.BasicLit:
		if x.Kind == token.INT {
			i, err := strconv.Atoi(x.Value)
			if err != nil {
				return AppliesToSelector{}, err
			}
			return AppliesToSelector{Index: i}, nil
		}
		if x.Kind == token.STRING {
			s, err := stringLit(x)
			if err != nil {
				return AppliesToSelector{}, err
			}
			return AppliesToSelector{IsName: true, Name: s}, nil
		}
		return AppliesToSelector{}, fmt.Errorf("AppliesTo selector must be an int or string literal")
	default:
		return AppliesToSelector{}, fmt.Errorf("AppliesTo selector must be a literal, got %T", e)
	}
}

func identOrStringArg(args []ast.Expr, i int, who string) (string, error) {
	if i >= len(args) {
		return "", fmt.Errorf("%s requires a kind argument", who)
	}
	return identOrString(args[i])
}

func identOrString(e ast.Expr) (string, error) {
	switch x := e.(type) {
	case *ast.Ident:
		return x.Name, nil
	case *ast.BasicLit:
		return stringLit(x)
	default:
		return "", fmt.Errorf("expected an identifier or string literal, got %T", e)
	}
}

func stringLit(x *ast.BasicLit) (string, error) {
	if x.Kind != token.STRING {
		return "", fmt.Errorf("expected a string literal")
	}
	return strconv.Unquote(x.Value)
}
