package compiler

import (
	"bytes"
	"strings"
	"testing"

	"vela/internal/vm"
)

// run compiles and executes source against a fresh VM, returning
// everything written by print statements.
func run(t *testing.T, source string) string {
	t.Helper()
	machine := vm.New()
	var buf bytes.Buffer
	machine.SetOutput(&buf)

	fn, err := Compile(machine, source)
	if err != nil {
		t.Fatalf("Compile(%q): %v", source, err)
	}
	if err := machine.Execute(fn); err != nil {
		t.Fatalf("Execute(%q): %v", source, err)
	}
	return buf.String()
}

func expectCompileError(t *testing.T, source string) {
	t.Helper()
	machine := vm.New()
	if _, err := Compile(machine, source); err == nil {
		t.Fatalf("Compile(%q): expected a compile error, got none", source)
	}
}

func expectRuntimeError(t *testing.T, source string) {
	t.Helper()
	machine := vm.New()
	fn, err := Compile(machine, source)
	if err != nil {
		t.Fatalf("Compile(%q): unexpected compile error: %v", source, err)
	}
	if err := machine.Execute(fn); err == nil {
		t.Fatalf("Execute(%q): expected a runtime error, got none", source)
	}
}

func TestArithmeticPrecedence(t *testing.T) {
	if got := run(t, "print 2 + 3 * 4;"); got != "14\n" {
		t.Fatalf("got %q, want %q", got, "14\n")
	}
	if got := run(t, "print (2 + 3) * 4;"); got != "20\n" {
		t.Fatalf("got %q, want %q", got, "20\n")
	}
}

func TestVariablesAndAssignment(t *testing.T) {
	src := `
	var a = 1;
	var b = 2;
	a = a + b;
	print a;
	`
	if got := run(t, src); got != "3\n" {
		t.Fatalf("got %q, want %q", got, "3\n")
	}
}

func TestStringConcatenation(t *testing.T) {
	if got := run(t, `print "foo" + "bar";`); got != "foobar\n" {
		t.Fatalf("got %q, want %q", got, "foobar\n")
	}
}

func TestIfElse(t *testing.T) {
	src := `
	var x = 5;
	if (x > 3) {
		print "big";
	} else {
		print "small";
	}
	`
	if got := run(t, src); got != "big\n" {
		t.Fatalf("got %q, want %q", got, "big\n")
	}
}

func TestWhileLoop(t *testing.T) {
	src := `
	var i = 0;
	var sum = 0;
	while (i < 5) {
		sum = sum + i;
		i = i + 1;
	}
	print sum;
	`
	if got := run(t, src); got != "10\n" {
		t.Fatalf("got %q, want %q", got, "10\n")
	}
}

func TestForLoop(t *testing.T) {
	src := `
	var sum = 0;
	for (var i = 0; i < 5; i = i + 1) {
		sum = sum + i;
	}
	print sum;
	`
	if got := run(t, src); got != "10\n" {
		t.Fatalf("got %q, want %q", got, "10\n")
	}
}

func TestFunctionCallAndReturn(t *testing.T) {
	src := `
	fun add(a, b) {
		return a + b;
	}
	print add(3, 4);
	`
	if got := run(t, src); got != "7\n" {
		t.Fatalf("got %q, want %q", got, "7\n")
	}
}

func TestClosureCapturesUpvalue(t *testing.T) {
	src := `
	fun makeCounter() {
		var count = 0;
		fun increment() {
			count = count + 1;
			return count;
		}
		return increment;
	}
	var counter = makeCounter();
	print counter();
	print counter();
	print counter();
	`
	if got := run(t, src); got != "1\n2\n3\n" {
		t.Fatalf("got %q, want %q", got, "1\n2\n3\n")
	}
}

func TestClassInstanceFieldsAndMethods(t *testing.T) {
	src := `
	class Counter {
		init() {
			this.count = 0;
		}
		increment() {
			this.count = this.count + 1;
			return this.count;
		}
	}
	var c = Counter();
	c.increment();
	print c.increment();
	`
	if got := run(t, src); got != "2\n" {
		t.Fatalf("got %q, want %q", got, "2\n")
	}
}

func TestInheritanceAndSuper(t *testing.T) {
	src := `
	class Animal {
		speak() {
			return "...";
		}
	}
	class Dog < Animal {
		speak() {
			return "Woof (" + super.speak() + ")";
		}
	}
	print Dog().speak();
	`
	if got := run(t, src); got != "Woof (...)\n" {
		t.Fatalf("got %q, want %q", got, "Woof (...)\n")
	}
}

func TestFalsyRule(t *testing.T) {
	src := `
	if (null) { print "wrong"; } else { print "null falsy"; }
	if (0) { print "zero truthy"; } else { print "wrong"; }
	`
	if got := run(t, src); got != "null falsy\nzero truthy\n" {
		t.Fatalf("got %q, want %q", got, "null falsy\nzero truthy\n")
	}
}

func TestCompileErrorUnterminatedString(t *testing.T) {
	expectCompileError(t, `print "unterminated;`)
}

func TestCompileErrorMissingSemicolon(t *testing.T) {
	expectCompileError(t, `var x = 1`)
}

func TestCompileErrorSuperOutsideClass(t *testing.T) {
	expectCompileError(t, `print super.foo();`)
}

func TestCompileErrorThisOutsideClass(t *testing.T) {
	expectCompileError(t, `print this;`)
}

func TestRuntimeErrorAddingNumberAndString(t *testing.T) {
	expectRuntimeError(t, `print 1 + "x";`)
}

func TestRuntimeErrorUndefinedVariable(t *testing.T) {
	expectRuntimeError(t, `print undefined_name;`)
}

func TestRuntimeErrorMessageIncludesBacktrace(t *testing.T) {
	machine := vm.New()
	fn, err := Compile(machine, `
	fun inner() {
		return 1 + "x";
	}
	fun outer() {
		return inner();
	}
	outer();
	`)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	err = machine.Execute(fn)
	if err == nil {
		t.Fatal("expected a runtime error")
	}
	msg := err.Error()
	if !strings.Contains(msg, "inner") || !strings.Contains(msg, "outer") {
		t.Fatalf("error message %q should name both inner() and outer() in its backtrace", msg)
	}
}
