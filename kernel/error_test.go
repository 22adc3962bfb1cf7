package kernel

import "testing"

func TestKernelError(t *testing.T) {
	err := &Error{
		Module:  "foo",
		Message: "error message",
	}

	if err.Error() != err.Message {
		t.Fatalf("expected to err.Error() to return %q; got %q", err.Message, err.Error())
	}
}

func TestErrorf(t *testing.T) {
	err := Errorf("proc", "no free slot for pid %d", 7)

	if exp := "proc"; err.Module != exp {
		t.Errorf("expected module to be %q; got %q", exp, err.Module)
	}

	if exp := "no free slot for pid 7"; err.Error() != exp {
		t.Errorf("expected message to be %q; got %q", exp, err.Error())
	}
}
