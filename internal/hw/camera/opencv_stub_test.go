//go:build !opencv

package camera

import "testing"

func TestNewOpenCV_NotCompiledIn(t *testing.T) {
	if _, err := NewOpenCV("0"); err == nil {
		t.Fatal("expected an error without the opencv build tag")
	}
}
