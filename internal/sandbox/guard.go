package sandbox

import (
	"fmt"

	"github.com/yuin/gopher-lua/ast"
)

// guard walks a parsed chunk and collects every global reference that
// falls outside the capability allowlist. It does not fail fast: all
// violations in a script are reported together.
//
// A script's own module-scope globals (assignment targets anywhere in
// the chunk) are treated as declared names and may be read freely. The
// frozen module scope makes them immutable inside hooks at runtime, so
// admitting their reads here does not widen the capability surface.
//
// Module-scope locals are a separate escape: freezing the global table
// cannot touch upvalues, so an assignment to a module-scope local from
// inside a function body is rejected here instead. Module-scope values
// stay constants either way.
type guard struct {
	scriptID   string
	declared   map[string]bool
	scopes     []*scope
	funcDepth  int
	violations []ValidationError
}

// scope is one lexical block, stamped with the function nesting depth
// at which its locals were declared.
type scope struct {
	names map[string]bool
	depth int
}

// checkCapabilities validates the chunk's global reference surface.
func checkCapabilities(scriptID string, chunk []ast.Stmt) []ValidationError {
	g := &guard{
		scriptID: scriptID,
		declared: make(map[string]bool),
	}
	g.collectDeclared(chunk)
	g.pushScope()
	g.walkStmts(chunk)
	g.popScope()
	return g.violations
}

func (g *guard) pushScope() {
	g.scopes = append(g.scopes, &scope{names: make(map[string]bool), depth: g.funcDepth})
}

func (g *guard) popScope() {
	g.scopes = g.scopes[:len(g.scopes)-1]
}

func (g *guard) declareLocal(name string) {
	g.scopes[len(g.scopes)-1].names[name] = true
}

func (g *guard) isLocal(name string) bool {
	_, ok := g.localDepth(name)
	return ok
}

// localDepth resolves name to its innermost declaration and returns the
// function nesting depth it was declared at.
func (g *guard) localDepth(name string) (int, bool) {
	for i := len(g.scopes) - 1; i >= 0; i-- {
		if g.scopes[i].names[name] {
			return g.scopes[i].depth, true
		}
	}
	return 0, false
}

// checkGlobal records a violation if name is neither local, declared by
// the script itself, nor allowlisted.
func (g *guard) checkGlobal(name string, line int) {
	if g.isLocal(name) || g.declared[name] || allowedGlobals[name] {
		return
	}
	g.violations = append(g.violations, ValidationError{
		Code:     ErrCapabilityViolation,
		Message:  fmt.Sprintf("reference to disallowed name %q", name),
		ScriptID: g.scriptID,
		Name:     name,
		Line:     line,
	})
}

// collectDeclared gathers every global assignment target in the chunk.
func (g *guard) collectDeclared(stmts []ast.Stmt) {
	for _, st := range stmts {
		switch s := st.(type) {
		case *ast.AssignStmt:
			for _, lhs := range s.Lhs {
				if ident, ok := lhs.(*ast.IdentExpr); ok {
					g.declared[ident.Value] = true
				}
			}
		case *ast.FuncDefStmt:
			if s.Name.Func != nil {
				if ident, ok := s.Name.Func.(*ast.IdentExpr); ok {
					g.declared[ident.Value] = true
				}
			}
			g.collectDeclared(s.Func.Stmts)
		case *ast.DoBlockStmt:
			g.collectDeclared(s.Stmts)
		case *ast.WhileStmt:
			g.collectDeclared(s.Stmts)
		case *ast.RepeatStmt:
			g.collectDeclared(s.Stmts)
		case *ast.IfStmt:
			g.collectDeclared(s.Then)
			g.collectDeclared(s.Else)
		case *ast.NumberForStmt:
			g.collectDeclared(s.Stmts)
		case *ast.GenericForStmt:
			g.collectDeclared(s.Stmts)
		case *ast.LocalAssignStmt:
			for _, ex := range s.Exprs {
				if fn, ok := ex.(*ast.FunctionExpr); ok {
					g.collectDeclared(fn.Stmts)
				}
			}
		}
	}
}

func (g *guard) walkStmts(stmts []ast.Stmt) {
	for _, st := range stmts {
		g.walkStmt(st)
	}
}

func (g *guard) walkStmt(st ast.Stmt) {
	switch s := st.(type) {
	case *ast.LocalAssignStmt:
		// RHS evaluates before the names are bound, except for
		// `local function f` which the parser emits with the name
		// pre-declared; declaring first is the safe superset.
		for _, name := range s.Names {
			g.declareLocal(name)
		}
		for _, ex := range s.Exprs {
			g.walkExpr(ex)
		}
	case *ast.AssignStmt:
		for _, ex := range s.Rhs {
			g.walkExpr(ex)
		}
		for _, lhs := range s.Lhs {
			// A bare global write target is a declaration, not a
			// read; attribute targets still read their object.
			if ident, ok := lhs.(*ast.IdentExpr); ok {
				g.checkLocalWrite(ident)
				continue
			}
			g.walkExpr(lhs)
		}
	case *ast.FuncCallStmt:
		g.walkExpr(s.Expr)
	case *ast.DoBlockStmt:
		g.pushScope()
		g.walkStmts(s.Stmts)
		g.popScope()
	case *ast.WhileStmt:
		g.walkExpr(s.Condition)
		g.pushScope()
		g.walkStmts(s.Stmts)
		g.popScope()
	case *ast.RepeatStmt:
		// The until condition sees the loop body's locals.
		g.pushScope()
		g.walkStmts(s.Stmts)
		g.walkExpr(s.Condition)
		g.popScope()
	case *ast.IfStmt:
		g.walkExpr(s.Condition)
		g.pushScope()
		g.walkStmts(s.Then)
		g.popScope()
		g.pushScope()
		g.walkStmts(s.Else)
		g.popScope()
	case *ast.NumberForStmt:
		g.walkExpr(s.Init)
		g.walkExpr(s.Limit)
		if s.Step != nil {
			g.walkExpr(s.Step)
		}
		g.pushScope()
		g.declareLocal(s.Name)
		g.walkStmts(s.Stmts)
		g.popScope()
	case *ast.GenericForStmt:
		for _, ex := range s.Exprs {
			g.walkExpr(ex)
		}
		g.pushScope()
		for _, name := range s.Names {
			g.declareLocal(name)
		}
		g.walkStmts(s.Stmts)
		g.popScope()
	case *ast.FuncDefStmt:
		if s.Name.Func != nil {
			if _, ok := s.Name.Func.(*ast.IdentExpr); !ok {
				g.walkExpr(s.Name.Func)
			}
		}
		if s.Name.Receiver != nil {
			g.walkExpr(s.Name.Receiver)
		}
		g.walkFunction(s.Func, s.Name.Method != "")
	case *ast.ReturnStmt:
		for _, ex := range s.Exprs {
			g.walkExpr(ex)
		}
	}
}

// checkLocalWrite flags an assignment to a module-scope local made from
// inside a function body. Such a local survives as an upvalue that the
// frozen global table cannot protect, and it silently resets whenever
// the instance is rebuilt after an abort.
func (g *guard) checkLocalWrite(ident *ast.IdentExpr) {
	depth, ok := g.localDepth(ident.Value)
	if !ok || depth > 0 || g.funcDepth == 0 {
		return
	}
	g.violations = append(g.violations, ValidationError{
		Code:     ErrModuleScopeMutation,
		Message:  fmt.Sprintf("assignment to module-scope local %q from inside a function (module scope is read-only, use state.set)", ident.Value),
		ScriptID: g.scriptID,
		Name:     ident.Value,
		Line:     ident.Line(),
	})
}

func (g *guard) walkFunction(fn *ast.FunctionExpr, method bool) {
	g.funcDepth++
	g.pushScope()
	if method {
		g.declareLocal("self")
	}
	for _, name := range fn.ParList.Names {
		g.declareLocal(name)
	}
	g.walkStmts(fn.Stmts)
	g.popScope()
	g.funcDepth--
}

func (g *guard) walkExpr(ex ast.Expr) {
	switch e := ex.(type) {
	case *ast.IdentExpr:
		g.checkGlobal(e.Value, e.Line())
	case *ast.AttrGetExpr:
		g.walkExpr(e.Object)
		g.walkExpr(e.Key)
	case *ast.FuncCallExpr:
		if e.Func != nil {
			g.walkExpr(e.Func)
		}
		if e.Receiver != nil {
			g.walkExpr(e.Receiver)
		}
		for _, arg := range e.Args {
			g.walkExpr(arg)
		}
	case *ast.FunctionExpr:
		g.walkFunction(e, false)
	case *ast.TableExpr:
		for _, field := range e.Fields {
			if field.Key != nil {
				// Literal keys in `{name = v}` sugar are
				// StringExprs, not identifier reads.
				g.walkExpr(field.Key)
			}
			g.walkExpr(field.Value)
		}
	case *ast.LogicalOpExpr:
		g.walkExpr(e.Lhs)
		g.walkExpr(e.Rhs)
	case *ast.RelationalOpExpr:
		g.walkExpr(e.Lhs)
		g.walkExpr(e.Rhs)
	case *ast.StringConcatOpExpr:
		g.walkExpr(e.Lhs)
		g.walkExpr(e.Rhs)
	case *ast.ArithmeticOpExpr:
		g.walkExpr(e.Lhs)
		g.walkExpr(e.Rhs)
	case *ast.UnaryMinusOpExpr:
		g.walkExpr(e.Expr)
	case *ast.UnaryNotOpExpr:
		g.walkExpr(e.Expr)
	case *ast.UnaryLenOpExpr:
		g.walkExpr(e.Expr)
	}
}
